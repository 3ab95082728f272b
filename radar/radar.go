package radar

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"painradar/dbopen"
	"painradar/idgen"
	"painradar/radar/internal/alert"
	"painradar/radar/internal/classify"
	"painradar/radar/internal/cluster"
	"painradar/radar/internal/extract"
	"painradar/radar/internal/fetch"
	"painradar/radar/internal/pipeline"
	"painradar/radar/internal/source"
	"painradar/radar/internal/store"
	"painradar/retry"
)

// Service is the main radar orchestrator: it owns the store and the
// pipeline stages and backs both the CLI and the HTTP API.
type Service struct {
	db       *sql.DB
	store    *store.Store
	pipeline *pipeline.Pipeline
	config   *Config
	snapshot string
	logger   *slog.Logger
	newID    idgen.Generator
}

// New opens the database, applies the schema, and wires the pipeline from
// cfg. A nil cfg uses defaults.
func New(cfg *Config, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	db, err := dbopen.Open(cfg.DBPath,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(store.Schema))
	if err != nil {
		return nil, fmt.Errorf("radar: open db: %w", err)
	}
	st := store.New(db)

	fetcher := fetch.New(fetch.Config{
		MaxConcurrent:  cfg.Fetch.MaxConcurrent,
		Timeout:        cfg.Fetch.Timeout.Std(),
		PerOriginDelay: cfg.Fetch.PerOriginDelay.Std(),
		UserAgent:      cfg.UserAgent,
	}, logger)

	sources, err := buildSources(fetcher, cfg.Sources)
	if err != nil {
		db.Close()
		return nil, err
	}

	classifier := classify.New(classify.Config{
		BaseURL:   cfg.Classifier.BaseURL,
		APIKey:    cfg.Classifier.APIKey,
		Model:     cfg.Classifier.Model,
		MaxTokens: cfg.Classifier.MaxTokens,
	}, logger)

	extractor := extract.New(st, classifier, extract.Config{
		MaxItems:        cfg.Pipeline.MaxItems,
		DedupeThreshold: cfg.Pipeline.DedupeThreshold,
		Retry:           retry.Policy{MaxAttempts: 3},
	}, logger)

	clusters := cluster.New(st, classifier, cluster.Config{
		MergeThreshold: cfg.Pipeline.MergeThreshold,
		DisplayQuotes:  cfg.Pipeline.DisplayQuotes,
	}, logger)

	alerts := alert.New(st, logger)

	pipe := pipeline.New(st, sources, extractor, clusters, alerts, pipeline.Config{
		ListLimit: cfg.Pipeline.ListLimit,
		Window:    cfg.Pipeline.Window.Std(),
	}, logger)

	snapshot, err := cfg.Snapshot()
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Service{
		db:       db,
		store:    st,
		pipeline: pipe,
		config:   cfg,
		snapshot: snapshot,
		logger:   logger,
		newID:    idgen.Prefixed("rule_", idgen.Default),
	}, nil
}

func buildSources(fetcher *fetch.Client, configs []SourceConfig) ([]source.Adapter, error) {
	var out []source.Adapter
	for _, sc := range configs {
		switch sc.Type {
		case "reddit":
			if sc.Subreddit == "" {
				return nil, fmt.Errorf("%w: reddit source needs a subreddit", ErrInvalidInput)
			}
			out = append(out, source.NewReddit(fetcher, source.RedditConfig{
				Subreddit:   sc.Subreddit,
				Listing:     sc.Listing,
				MaxComments: sc.MaxComments,
			}))
		case "rss":
			if sc.URL == "" {
				return nil, fmt.Errorf("%w: rss source needs a url", ErrInvalidInput)
			}
			name := sc.Name
			if name == "" {
				name = sc.URL
			}
			out = append(out, source.NewRSS(fetcher, name, sc.URL))
		default:
			return nil, fmt.Errorf("%w: unknown source type %q", ErrInvalidInput, sc.Type)
		}
	}
	return out, nil
}

// Close releases the database.
func (s *Service) Close() error { return s.db.Close() }

// RunPipeline executes one full harvest-extract-cluster-alert pass and
// returns the finished ledger entry.
func (s *Service) RunPipeline(ctx context.Context) (*Run, error) {
	return s.pipeline.Run(ctx, s.snapshot)
}

// Runs returns recent pipeline runs, newest first.
func (s *Service) Runs(ctx context.Context, limit int) ([]*Run, error) {
	return s.store.Runs(ctx, limit)
}

// RunByID fetches one run.
func (s *Service) RunByID(ctx context.Context, id string) (*Run, error) {
	r, err := s.store.Run(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return r, err
}

// Clusters returns clusters whose window overlaps the last `window`
// duration, strongest first. A zero window uses the configured one.
func (s *Service) Clusters(ctx context.Context, window time.Duration) ([]*Cluster, error) {
	if window <= 0 {
		window = s.config.Pipeline.Window.Std()
	}
	end := time.Now()
	return s.store.ClustersInWindow(ctx, end.Add(-window), end)
}

// Alerts returns recent alert events, newest first.
func (s *Service) Alerts(ctx context.Context, limit int) ([]*AlertEvent, error) {
	return s.store.AlertEvents(ctx, limit)
}

// AddRule validates and stores a watchlist rule. A rule needs a name and
// at least one keyword or a recurrence threshold.
func (s *Service) AddRule(ctx context.Context, r *WatchlistRule) (*WatchlistRule, error) {
	if r.Name == "" {
		return nil, fmt.Errorf("%w: rule name required", ErrInvalidInput)
	}
	if len(r.Keywords) == 0 && r.RecurrenceThreshold <= 0 {
		return nil, fmt.Errorf("%w: rule needs keywords or a recurrence threshold", ErrInvalidInput)
	}
	for _, kw := range r.Keywords {
		if kw == "" {
			return nil, fmt.Errorf("%w: empty keyword", ErrInvalidInput)
		}
	}
	rule := *r
	rule.ID = s.newID()
	rule.Active = true
	rule.CreatedAt = time.Now()
	if err := s.store.InsertRule(ctx, &rule); err != nil {
		return nil, err
	}
	s.logger.Info("rule added", "rule", rule.ID, "name", rule.Name)
	return &rule, nil
}

// Rules lists watchlist rules. activeOnly filters disabled ones.
func (s *Service) Rules(ctx context.Context, activeOnly bool) ([]*WatchlistRule, error) {
	return s.store.Rules(ctx, activeOnly)
}

// SetRuleActive enables or disables a rule.
func (s *Service) SetRuleActive(ctx context.Context, id string, active bool) error {
	err := s.store.SetRuleActive(ctx, id, active)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
