// Package alert evaluates watchlist rules against a window's signals and
// clusters.
//
// A (rule, entity) pair fires at most once ever; the store's unique index
// enforces this, so re-evaluating an overlapping window is always safe.
package alert

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"painradar/idgen"
	"painradar/radar/internal/store"
)

// Engine matches rules and records alert events.
type Engine struct {
	store  *store.Store
	idgen  idgen.Generator
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Engine backed by st.
func New(st *store.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:  st,
		idgen:  idgen.Prefixed("alr_", idgen.Default),
		logger: logger,
		now:    time.Now,
	}
}

// Evaluate runs all active rules against the given evidence and clusters,
// recording events under runID. Returns how many alerts newly fired;
// matches that already fired in an earlier run are silently skipped.
func (e *Engine) Evaluate(ctx context.Context, runID string,
	evidence []store.Evidence, clusters []*store.Cluster) (int, error) {

	rules, err := e.store.Rules(ctx, true)
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, rule := range rules {
		n, err := e.evaluateRule(ctx, runID, rule, evidence, clusters)
		if err != nil {
			return fired, err
		}
		fired += n
	}
	return fired, nil
}

func (e *Engine) evaluateRule(ctx context.Context, runID string, rule *store.WatchlistRule,
	evidence []store.Evidence, clusters []*store.Cluster) (int, error) {

	fired := 0

	for _, ev := range evidence {
		if !inScope(rule.ScopeSources, ev.Source) {
			continue
		}
		kw, ok := matchKeyword(rule.Keywords, ev.Quote)
		if !ok {
			continue
		}
		n, err := e.emit(ctx, rule, ev.ID, "signal", kw, runID)
		if err != nil {
			return fired, err
		}
		fired += n
	}

	for _, c := range clusters {
		// Clusters aggregate across sources, so the source scope does not
		// apply; keyword match covers the generated prose.
		entity := clusterEntity(c)
		if kw, ok := matchKeyword(rule.Keywords, c.Title+" "+c.Summary); ok {
			n, err := e.emit(ctx, rule, entity, "cluster", kw, runID)
			if err != nil {
				return fired, err
			}
			fired += n
			continue
		}
		if rule.RecurrenceThreshold > 0 && c.ThreadCount >= rule.RecurrenceThreshold {
			n, err := e.emit(ctx, rule, entity, "cluster", "", runID)
			if err != nil {
				return fired, err
			}
			fired += n
		}
	}
	return fired, nil
}

// clusterEntity is the idempotency key for cluster matches. Cluster rows
// get a fresh ID every run, but the greedy grouping keeps the seed signal
// stable for a given theme, so re-clustering the same evidence must not
// re-alert.
func clusterEntity(c *store.Cluster) string {
	if len(c.MemberSignalIDs) > 0 {
		return c.MemberSignalIDs[0]
	}
	return c.ID
}

func (e *Engine) emit(ctx context.Context, rule *store.WatchlistRule,
	entity, kind, keyword, runID string) (int, error) {

	ok, err := e.store.InsertAlertEvent(ctx, &store.AlertEvent{
		ID:            e.idgen(),
		RuleID:        rule.ID,
		MatchedEntity: entity,
		EntityKind:    kind,
		Keyword:       keyword,
		RunID:         runID,
		MatchedAt:     e.now(),
	})
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	e.logger.Info("alert fired",
		"rule", rule.Name, "entity", entity, "kind", kind, "keyword", keyword)
	return 1, nil
}

// matchKeyword returns the first rule keyword contained in text,
// case-insensitive. First-keyword-wins keeps the recorded keyword stable
// across runs.
func matchKeyword(keywords []string, text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return kw, true
		}
	}
	return "", false
}

// inScope reports whether source passes the rule's source filter.
// An empty scope matches every source.
func inScope(scope []string, source string) bool {
	if len(scope) == 0 {
		return true
	}
	for _, s := range scope {
		if s == source {
			return true
		}
	}
	return false
}
