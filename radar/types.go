// Package radar harvests pain signals from social platforms and turns them
// into ranked, evidence-backed demand clusters.
//
// Sources are polled on a schedule, raw posts and replies land in an
// append-only SQLite store, an LLM classifier extracts typed verbatim
// quotes, and window-scoped clustering plus watchlist rules surface what
// builders keep complaining about. Every run is recorded in an immutable
// ledger with per-stage counters.
package radar

import "painradar/radar/internal/store"

// Re-export store types for the public API.
type (
	ContentItem   = store.ContentItem
	Signal        = store.Signal
	Evidence      = store.Evidence
	Cluster       = store.Cluster
	Run           = store.Run
	RunStatus     = store.RunStatus
	Counts        = store.Counts
	WatchlistRule = store.WatchlistRule
	AlertEvent    = store.AlertEvent
	SignalType    = store.SignalType
)

const (
	RunRunning   = store.RunRunning
	RunCompleted = store.RunCompleted
	RunFailed    = store.RunFailed
)
