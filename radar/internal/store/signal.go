package store

import (
	"context"
	"fmt"
	"time"
)

// InsertSignal writes one immutable signal row.
func (s *Store) InsertSignal(ctx context.Context, sig *Signal) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO signals
			(id, content_item_id, run_id, signal_type, quote, extraction_state,
			 extracted_at, model_version)
		VALUES (?,?,?,?,?,?,?,?)`,
		sig.ID, sig.ContentItemID, sig.RunID, string(sig.Type), sig.Quote,
		string(sig.State), ms(sig.ExtractedAt), sig.ModelVersion)
	if err != nil {
		return fmt.Errorf("store: insert signal: %w", err)
	}
	return nil
}

// LinkDuplicate records that itemID corroborates an existing signal without
// creating a second signal (near-duplicate evidence stays citable).
func (s *Store) LinkDuplicate(ctx context.Context, signalID, itemID string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT OR IGNORE INTO signal_links (signal_id, content_item_id, created_at)
		VALUES (?,?,?)`, signalID, itemID, ms(at))
	if err != nil {
		return fmt.Errorf("store: link duplicate: %w", err)
	}
	return nil
}

// DuplicateLinks returns the content item IDs corroborating a signal.
func (s *Store) DuplicateLinks(ctx context.Context, signalID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT content_item_id FROM signal_links WHERE signal_id = ? ORDER BY created_at ASC`,
		signalID)
	if err != nil {
		return nil, fmt.Errorf("store: duplicate links: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EvidenceInWindow returns extracted signals whose extracted_at falls in
// [start, end], joined with source and thread identity, ordered by
// (extracted_at, id) — the stable key clustering requires. The end bound is
// inclusive: timestamps are stored at millisecond precision, and a signal
// extracted in the same millisecond the window closes still belongs to the
// run that extracted it.
func (s *Store) EvidenceInWindow(ctx context.Context, start, end time.Time) ([]Evidence, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT sg.id, sg.content_item_id, sg.run_id, sg.signal_type, sg.quote,
		       sg.extraction_state, sg.extracted_at, sg.model_version,
		       ci.source, ci.parent_id, ci.external_id
		FROM signals sg
		JOIN content_items ci ON ci.id = sg.content_item_id
		WHERE sg.extraction_state = 'extracted'
		  AND sg.extracted_at >= ? AND sg.extracted_at <= ?
		ORDER BY sg.extracted_at ASC, sg.id ASC`,
		ms(start), ms(end))
	if err != nil {
		return nil, fmt.Errorf("store: evidence in window: %w", err)
	}
	defer rows.Close()

	var out []Evidence
	for rows.Next() {
		var e Evidence
		var extractedAt int64
		var typ, state, parentID, externalID string
		if err := rows.Scan(&e.ID, &e.ContentItemID, &e.RunID, &typ, &e.Quote,
			&state, &extractedAt, &e.ModelVersion,
			&e.Source, &parentID, &externalID); err != nil {
			return nil, fmt.Errorf("store: scan evidence: %w", err)
		}
		e.Type = SignalType(typ)
		e.State = ExtractionState(state)
		e.ExtractedAt = fromMS(extractedAt)
		threadExternal := externalID
		if parentID != "" {
			threadExternal = parentID
		}
		e.ThreadKey = e.Source + "/" + threadExternal
		out = append(out, e)
	}
	return out, rows.Err()
}

// SignalsForRun returns all signals created by one run, insertion order.
func (s *Store) SignalsForRun(ctx context.Context, runID string) ([]Signal, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, content_item_id, run_id, signal_type, quote, extraction_state,
		       extracted_at, model_version
		FROM signals WHERE run_id = ? ORDER BY extracted_at ASC, id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: signals for run: %w", err)
	}
	defer rows.Close()

	var out []Signal
	for rows.Next() {
		var sg Signal
		var extractedAt int64
		var typ, state string
		if err := rows.Scan(&sg.ID, &sg.ContentItemID, &sg.RunID, &typ, &sg.Quote,
			&state, &extractedAt, &sg.ModelVersion); err != nil {
			return nil, fmt.Errorf("store: scan signal: %w", err)
		}
		sg.Type = SignalType(typ)
		sg.State = ExtractionState(state)
		sg.ExtractedAt = fromMS(extractedAt)
		out = append(out, sg)
	}
	return out, rows.Err()
}
