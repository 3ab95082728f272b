// Package store is the data access layer for the painradar database.
//
// One SQLite database holds content, signals, clusters, runs, rules, and
// alert events. The store receives an already-opened *sql.DB (see dbopen)
// and never owns schema migration beyond the idempotent Schema apply.
package store

import (
	"database/sql"
	"time"
)

// Store wraps the painradar database.
type Store struct {
	DB *sql.DB
}

// New creates a Store from an already-opened database connection.
func New(db *sql.DB) *Store {
	return &Store{DB: db}
}

// ms converts a time to milliseconds since epoch; zero time → 0.
func ms(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// fromMS converts milliseconds since epoch to a UTC time; 0 → zero time.
func fromMS(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}
