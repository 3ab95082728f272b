// Package pipeline orchestrates one end-to-end radar run: harvest, store,
// extract, cluster, alert, all under a single ledger entry.
//
// Stage boundaries are failure boundaries. A source that cannot be fetched
// is logged and skipped; the run continues with the rest. A stage that
// fails outright (storage errors, cancelled context) marks the run failed
// with whatever counters accumulated before the failure.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"painradar/idgen"
	"painradar/radar/internal/alert"
	"painradar/radar/internal/cluster"
	"painradar/radar/internal/extract"
	"painradar/radar/internal/source"
	"painradar/radar/internal/store"
	"painradar/textnorm"
)

// StageError reports which stage killed a run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("pipeline: %s stage: %v", e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

// Config tunes one pipeline run.
type Config struct {
	// ListLimit is how many recent top-level items each source lists.
	// Default: 25.
	ListLimit int
	// Window is how far back clustering and alerting look. Default: 24h.
	Window time.Duration
}

func (c *Config) defaults() {
	if c.ListLimit <= 0 {
		c.ListLimit = 25
	}
	if c.Window <= 0 {
		c.Window = 24 * time.Hour
	}
}

// Pipeline wires the stages together.
type Pipeline struct {
	store     *store.Store
	sources   []source.Adapter
	extractor *extract.Extractor
	clusters  *cluster.Engine
	alerts    *alert.Engine
	config    Config
	runID     idgen.Generator
	itemID    idgen.Generator
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Pipeline over the given stages.
func New(st *store.Store, sources []source.Adapter, ex *extract.Extractor,
	cl *cluster.Engine, al *alert.Engine, cfg Config, logger *slog.Logger) *Pipeline {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:     st,
		sources:   sources,
		extractor: ex,
		clusters:  cl,
		alerts:    al,
		config:    cfg,
		runID:     idgen.Prefixed("run_", idgen.Default),
		itemID:    idgen.Prefixed("itm_", idgen.Default),
		logger:    logger,
		now:       time.Now,
	}
}

// Run executes one full pass and returns the finished ledger entry.
// configSnapshot is stored verbatim on the run for audit. The returned
// error, when non-nil, is a *StageError and the run is already marked
// failed in the ledger.
func (p *Pipeline) Run(ctx context.Context, configSnapshot string) (*store.Run, error) {
	runID := p.runID()
	started := p.now()
	if err := p.store.CreateRun(ctx, runID, configSnapshot, started); err != nil {
		return nil, &StageError{Stage: "ledger", Err: err}
	}
	p.logger.Info("run started", "run", runID, "sources", len(p.sources))

	if err := p.runStages(ctx, runID); err != nil {
		if ferr := p.store.FinishRun(context.WithoutCancel(ctx), runID,
			store.RunFailed, err.Error(), p.now()); ferr != nil {
			p.logger.Error("marking run failed", "run", runID, "error", ferr)
		}
		run, _ := p.store.Run(context.WithoutCancel(ctx), runID)
		return run, err
	}

	if err := p.store.FinishRun(ctx, runID, store.RunCompleted, "", p.now()); err != nil {
		return nil, &StageError{Stage: "ledger", Err: err}
	}
	run, err := p.store.Run(ctx, runID)
	if err != nil {
		return nil, &StageError{Stage: "ledger", Err: err}
	}
	p.logger.Info("run completed", "run", runID,
		"fetched", run.Counts.Fetched, "extracted", run.Counts.Extracted,
		"clustered", run.Counts.Clustered, "alerts", run.Counts.AlertsRaised)
	return run, nil
}

func (p *Pipeline) runStages(ctx context.Context, runID string) error {
	if err := p.harvest(ctx, runID); err != nil {
		return &StageError{Stage: "harvest", Err: err}
	}

	exRes, err := p.extractor.Run(ctx, runID)
	if err != nil {
		return &StageError{Stage: "extract", Err: err}
	}
	if err := p.store.AddCounts(ctx, runID, store.Counts{
		Extracted:   exRes.Signals,
		Deduped:     exRes.Deduped,
		FailedItems: exRes.Failed,
	}); err != nil {
		return &StageError{Stage: "extract", Err: err}
	}

	end := p.now()
	start := end.Add(-p.config.Window)
	clusters, err := p.clusters.Build(ctx, runID, start, end)
	if err != nil {
		return &StageError{Stage: "cluster", Err: err}
	}
	if err := p.store.AddCounts(ctx, runID, store.Counts{Clustered: len(clusters)}); err != nil {
		return &StageError{Stage: "cluster", Err: err}
	}

	evidence, err := p.store.EvidenceInWindow(ctx, start, end)
	if err != nil {
		return &StageError{Stage: "alert", Err: err}
	}
	fired, err := p.alerts.Evaluate(ctx, runID, evidence, clusters)
	if err != nil {
		return &StageError{Stage: "alert", Err: err}
	}
	if err := p.store.AddCounts(ctx, runID, store.Counts{AlertsRaised: fired}); err != nil {
		return &StageError{Stage: "alert", Err: err}
	}
	return nil
}

type harvestResult struct {
	name  string
	items []source.RawItem
	err   error
}

// harvest lists each source concurrently, then persists sequentially in
// configured source order so item IDs and counts are deterministic.
// A failing source skips only itself.
func (p *Pipeline) harvest(ctx context.Context, runID string) error {
	results := make([]harvestResult, len(p.sources))
	var wg sync.WaitGroup
	for i, src := range p.sources {
		wg.Add(1)
		go func(i int, src source.Adapter) {
			defer wg.Done()
			results[i] = p.harvestSource(ctx, src)
		}(i, src)
	}
	wg.Wait()

	fetched, failedSources := 0, 0
	for _, r := range results {
		if r.err != nil {
			failedSources++
			p.logger.Warn("source fetch failed, skipping", "source", r.name, "error", r.err)
			continue
		}
		for i := range r.items {
			inserted, err := p.upsert(ctx, &r.items[i])
			if err != nil {
				return err
			}
			if inserted {
				fetched++
			}
		}
	}
	if failedSources == len(p.sources) && len(p.sources) > 0 {
		p.logger.Warn("all sources failed this run", "run", runID)
	}
	return p.store.AddCounts(ctx, runID, store.Counts{Fetched: fetched})
}

func (p *Pipeline) harvestSource(ctx context.Context, src source.Adapter) harvestResult {
	res := harvestResult{name: src.Name()}
	roots, err := src.ListRecent(ctx, p.config.ListLimit)
	if err != nil {
		res.err = err
		return res
	}
	for _, root := range roots {
		res.items = append(res.items, root)
		replies, err := src.FetchThread(ctx, root)
		if err != nil {
			// Keep the root; a thread we cannot expand is still evidence.
			p.logger.Warn("thread fetch failed", "source", res.name,
				"item", root.ExternalID, "error", err)
			continue
		}
		res.items = append(res.items, replies...)
	}
	return res
}

func (p *Pipeline) upsert(ctx context.Context, raw *source.RawItem) (bool, error) {
	item := &store.ContentItem{
		ID:          p.itemID(),
		Source:      raw.Source,
		ExternalID:  raw.ExternalID,
		ParentID:    raw.ParentID,
		Title:       raw.Title,
		Body:        raw.Body,
		Author:      raw.Author,
		URL:         raw.URL,
		CreatedAt:   raw.CreatedAt,
		FetchedAt:   p.now(),
		ContentHash: textnorm.Hash(raw.Title + "\n" + raw.Body),
	}
	return p.store.UpsertContentItem(ctx, item)
}
