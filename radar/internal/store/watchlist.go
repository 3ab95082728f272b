package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// InsertRule writes a new watchlist rule.
func (s *Store) InsertRule(ctx context.Context, r *WatchlistRule) error {
	keywords, err := json.Marshal(r.Keywords)
	if err != nil {
		return fmt.Errorf("store: marshal keywords: %w", err)
	}
	scope, err := json.Marshal(r.ScopeSources)
	if err != nil {
		return fmt.Errorf("store: marshal scope: %w", err)
	}
	active := 0
	if r.Active {
		active = 1
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO watchlist_rules
			(id, name, keywords, scope_sources, recurrence_threshold, active, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		r.ID, r.Name, string(keywords), string(scope),
		r.RecurrenceThreshold, active, ms(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("store: insert rule: %w", err)
	}
	return nil
}

// Rules returns watchlist rules, optionally only active ones.
func (s *Store) Rules(ctx context.Context, activeOnly bool) ([]*WatchlistRule, error) {
	query := `
		SELECT id, name, keywords, scope_sources, recurrence_threshold, active, created_at
		FROM watchlist_rules`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list rules: %w", err)
	}
	defer rows.Close()

	var out []*WatchlistRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Rule fetches one rule by ID.
func (s *Store) Rule(ctx context.Context, id string) (*WatchlistRule, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, name, keywords, scope_sources, recurrence_threshold, active, created_at
		FROM watchlist_rules WHERE id = ?`, id)
	return scanRule(row)
}

// SetRuleActive enables or disables a rule.
func (s *Store) SetRuleActive(ctx context.Context, id string, active bool) error {
	v := 0
	if active {
		v = 1
	}
	res, err := s.DB.ExecContext(ctx, `UPDATE watchlist_rules SET active = ? WHERE id = ?`, v, id)
	if err != nil {
		return fmt.Errorf("store: set rule active: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRule(row rowScanner) (*WatchlistRule, error) {
	var r WatchlistRule
	var keywords, scope string
	var active int
	var created int64
	err := row.Scan(&r.ID, &r.Name, &keywords, &scope, &r.RecurrenceThreshold, &active, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan rule: %w", err)
	}
	if err := json.Unmarshal([]byte(keywords), &r.Keywords); err != nil {
		return nil, fmt.Errorf("store: rule keywords: %w", err)
	}
	if err := json.Unmarshal([]byte(scope), &r.ScopeSources); err != nil {
		return nil, fmt.Errorf("store: rule scope: %w", err)
	}
	r.Active = active != 0
	r.CreatedAt = fromMS(created)
	return &r, nil
}

// InsertAlertEvent records a rule match. Returns fired=false when the
// (rule, entity) pair has already fired — the idempotency invariant that
// makes re-evaluation of a window safe.
func (s *Store) InsertAlertEvent(ctx context.Context, ev *AlertEvent) (fired bool, err error) {
	res, err := s.DB.ExecContext(ctx, `
		INSERT OR IGNORE INTO alert_events
			(id, rule_id, matched_entity, entity_kind, keyword, run_id, matched_at)
		VALUES (?,?,?,?,?,?,?)`,
		ev.ID, ev.RuleID, ev.MatchedEntity, ev.EntityKind, ev.Keyword,
		ev.RunID, ms(ev.MatchedAt))
	if err != nil {
		return false, fmt.Errorf("store: insert alert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: insert alert event: %w", err)
	}
	return n > 0, nil
}

// AlertEvents returns the most recent alert events, newest first.
// limit <= 0 means no cap.
func (s *Store) AlertEvents(ctx context.Context, limit int) ([]*AlertEvent, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, rule_id, matched_entity, entity_kind, keyword, run_id, matched_at
		FROM alert_events ORDER BY matched_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list alert events: %w", err)
	}
	defer rows.Close()

	var out []*AlertEvent
	for rows.Next() {
		var ev AlertEvent
		var at int64
		if err := rows.Scan(&ev.ID, &ev.RuleID, &ev.MatchedEntity, &ev.EntityKind,
			&ev.Keyword, &ev.RunID, &at); err != nil {
			return nil, fmt.Errorf("store: scan alert event: %w", err)
		}
		ev.MatchedAt = fromMS(at)
		out = append(out, &ev)
	}
	return out, rows.Err()
}
