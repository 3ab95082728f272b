// Package cluster groups window-scoped signals into themes.
//
// Grouping is greedy and deterministic: evidence is walked in
// (extracted_at, id) order and each signal joins the first existing group
// whose seed quote it resembles, otherwise it seeds a new group. Two runs
// over the same signals in the same window always yield the same clusters.
package cluster

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"painradar/idgen"
	"painradar/radar/internal/classify"
	"painradar/radar/internal/store"
	"painradar/textnorm"
)

// Summarizer generates a title and summary for a group of quotes.
// *classify.Client satisfies it.
type Summarizer interface {
	SummarizeCluster(ctx context.Context, quotes []string) (*classify.ClusterSummary, error)
}

// Config tunes the grouping pass.
type Config struct {
	// MergeThreshold is the seed-quote similarity at which a signal joins
	// an existing group. Default: 0.6.
	MergeThreshold float64
	// DisplayQuotes is how many top-ranked members are flagged for
	// display. Default: 5.
	DisplayQuotes int
	// MaxSummaryQuotes caps how many quotes the summarizer sees.
	// Default: 10.
	MaxSummaryQuotes int
}

func (c *Config) defaults() {
	if c.MergeThreshold <= 0 {
		c.MergeThreshold = 0.6
	}
	if c.DisplayQuotes <= 0 {
		c.DisplayQuotes = 5
	}
	if c.MaxSummaryQuotes <= 0 {
		c.MaxSummaryQuotes = 10
	}
}

// Engine builds and persists clusters for a time window.
type Engine struct {
	store      *store.Store
	summarizer Summarizer
	config     Config
	idgen      idgen.Generator
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an Engine. summarizer may be nil: clusters then fall back to
// seed-quote titles.
func New(st *store.Store, summarizer Summarizer, cfg Config, logger *slog.Logger) *Engine {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:      st,
		summarizer: summarizer,
		config:     cfg,
		idgen:      idgen.Prefixed("clu_", idgen.Default),
		logger:     logger,
		now:        time.Now,
	}
}

// group is one in-progress cluster during the greedy pass.
type group struct {
	seedNorm string
	members  []store.Evidence
}

// Build clusters all extracted signals in [start, end] and persists the
// result under runID. Returns the clusters strongest-first.
func (e *Engine) Build(ctx context.Context, runID string, start, end time.Time) ([]*store.Cluster, error) {
	evidence, err := e.store.EvidenceInWindow(ctx, start, end)
	if err != nil {
		return nil, err
	}
	if len(evidence) == 0 {
		return nil, nil
	}

	groups := e.groupEvidence(evidence)

	clusters := make([]*store.Cluster, 0, len(groups))
	for _, g := range groups {
		c := e.buildCluster(ctx, runID, start, end, g)
		clusters = append(clusters, c)
	}

	// Strongest theme first; earliest evidence breaks ties so ordering
	// never depends on map iteration or wall clock.
	sort.SliceStable(clusters, func(i, j int) bool {
		a, b := clusters[i], clusters[j]
		if a.EvidenceStrength != b.EvidenceStrength {
			return a.EvidenceStrength > b.EvidenceStrength
		}
		if a.SignalCount != b.SignalCount {
			return a.SignalCount > b.SignalCount
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})

	for _, c := range clusters {
		if err := e.store.InsertCluster(ctx, c, e.config.DisplayQuotes); err != nil {
			return nil, err
		}
	}
	return clusters, nil
}

// groupEvidence runs the greedy pass. Evidence arrives already sorted by
// (extracted_at, id); each signal joins the group whose seed scores highest
// against it, provided that score clears MergeThreshold. Ties go to the
// earliest group, so assignment stays deterministic.
func (e *Engine) groupEvidence(evidence []store.Evidence) []*group {
	var groups []*group
	for _, ev := range evidence {
		norm := textnorm.Normalize(ev.Quote)
		var best *group
		bestScore := 0.0
		for _, g := range groups {
			score := textnorm.TokenSetRatio(norm, g.seedNorm)
			if score >= e.config.MergeThreshold && score > bestScore {
				best = g
				bestScore = score
			}
		}
		if best != nil {
			best.members = append(best.members, ev)
			continue
		}
		groups = append(groups, &group{seedNorm: norm, members: []store.Evidence{ev}})
	}
	return groups
}

func (e *Engine) buildCluster(ctx context.Context, runID string, start, end time.Time, g *group) *store.Cluster {
	threads := map[string]bool{}
	types := map[store.SignalType]bool{}
	memberIDs := make([]string, 0, len(g.members))
	quotes := make([]string, 0, len(g.members))
	for _, m := range g.members {
		threads[m.ThreadKey] = true
		types[m.Type] = true
		memberIDs = append(memberIDs, m.ID)
		quotes = append(quotes, m.Quote)
	}

	c := &store.Cluster{
		ID:               e.idgen(),
		RunID:            runID,
		WindowStart:      start,
		WindowEnd:        end,
		EvidenceStrength: evidenceStrength(len(threads), len(types), len(g.members)),
		SignalCount:      len(g.members),
		ThreadCount:      len(threads),
		MemberSignalIDs:  memberIDs,
		CreatedAt:        g.members[0].ExtractedAt,
	}

	c.Title, c.Summary = e.summarize(ctx, g, quotes)
	return c
}

// summarize asks the backend for a title/summary, falling back to the seed
// quote when the backend is absent or fails. A summarizer outage must never
// fail the run: clusters without prose are still actionable.
func (e *Engine) summarize(ctx context.Context, g *group, quotes []string) (title, summary string) {
	seed := g.members[0].Quote
	if e.summarizer == nil {
		return seed, ""
	}
	if len(quotes) > e.config.MaxSummaryQuotes {
		quotes = quotes[:e.config.MaxSummaryQuotes]
	}
	sum, err := e.summarizer.SummarizeCluster(ctx, quotes)
	if err != nil {
		e.logger.Warn("cluster: summarizer failed, using seed quote",
			"signals", len(g.members), "error", err)
		return seed, ""
	}
	return sum.Title, sum.Summary
}

// evidenceStrength scores corroboration on a 0..1 scale. Distinct threads
// dominate: five people in five places beats one person saying it ten times.
func evidenceStrength(threads, types, signals int) float64 {
	return 0.5*capped(threads, 5) + 0.3*capped(types, 4) + 0.2*capped(signals, 10)
}

func capped(n, limit int) float64 {
	if n > limit {
		n = limit
	}
	return float64(n) / float64(limit)
}
