package store

import (
	"context"
	"fmt"
	"time"

	"painradar/dbopen"

	"database/sql"
)

// InsertCluster writes a cluster and its ordered membership in one
// transaction. Clusters are immutable after the producing run completes;
// there is deliberately no update path.
func (s *Store) InsertCluster(ctx context.Context, c *Cluster, displayCount int) error {
	return dbopen.RunTx(ctx, s.DB, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO clusters
				(id, run_id, window_start, window_end, title, summary,
				 evidence_strength, signal_count, thread_count, created_at)
			VALUES (?,?,?,?,?,?,?,?,?,?)`,
			c.ID, c.RunID, ms(c.WindowStart), ms(c.WindowEnd), c.Title, c.Summary,
			c.EvidenceStrength, c.SignalCount, c.ThreadCount, ms(c.CreatedAt))
		if err != nil {
			return fmt.Errorf("store: insert cluster: %w", err)
		}
		for rank, sigID := range c.MemberSignalIDs {
			display := 0
			if rank < displayCount {
				display = 1
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO cluster_members (cluster_id, signal_id, rank, display)
				VALUES (?,?,?,?)`, c.ID, sigID, rank, display)
			if err != nil {
				return fmt.Errorf("store: insert cluster member: %w", err)
			}
		}
		return nil
	})
}

// ClustersForRun returns the clusters one run produced, strongest first
// (the order the engine wrote them in).
func (s *Store) ClustersForRun(ctx context.Context, runID string) ([]*Cluster, error) {
	return s.queryClusters(ctx, `
		SELECT id, run_id, window_start, window_end, title, summary,
		       evidence_strength, signal_count, thread_count, created_at
		FROM clusters WHERE run_id = ?
		ORDER BY evidence_strength DESC, signal_count DESC, created_at ASC`, runID)
}

// ClustersInWindow returns clusters whose window overlaps [start, end).
func (s *Store) ClustersInWindow(ctx context.Context, start, end time.Time) ([]*Cluster, error) {
	return s.queryClusters(ctx, `
		SELECT id, run_id, window_start, window_end, title, summary,
		       evidence_strength, signal_count, thread_count, created_at
		FROM clusters WHERE window_end > ? AND window_start < ?
		ORDER BY evidence_strength DESC, signal_count DESC, created_at ASC`,
		ms(start), ms(end))
}

func (s *Store) queryClusters(ctx context.Context, query string, args ...any) ([]*Cluster, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query clusters: %w", err)
	}
	defer rows.Close()

	var out []*Cluster
	for rows.Next() {
		var c Cluster
		var ws, we, created int64
		if err := rows.Scan(&c.ID, &c.RunID, &ws, &we, &c.Title, &c.Summary,
			&c.EvidenceStrength, &c.SignalCount, &c.ThreadCount, &created); err != nil {
			return nil, fmt.Errorf("store: scan cluster: %w", err)
		}
		c.WindowStart = fromMS(ws)
		c.WindowEnd = fromMS(we)
		c.CreatedAt = fromMS(created)
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, c := range out {
		members, err := s.clusterMembers(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		c.MemberSignalIDs = members
	}
	return out, nil
}

func (s *Store) clusterMembers(ctx context.Context, clusterID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT signal_id FROM cluster_members WHERE cluster_id = ? ORDER BY rank ASC`,
		clusterID)
	if err != nil {
		return nil, fmt.Errorf("store: cluster members: %w", err)
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
