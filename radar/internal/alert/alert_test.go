package alert

import (
	"context"
	"testing"
	"time"

	"painradar/dbopen"
	"painradar/radar/internal/store"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)))
}

func seedRule(t *testing.T, st *store.Store, r *store.WatchlistRule) {
	t.Helper()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	r.Active = true
	if err := st.InsertRule(context.Background(), r); err != nil {
		t.Fatalf("seed rule: %v", err)
	}
}

func sig(id, source, quote string) store.Evidence {
	return store.Evidence{
		Signal: store.Signal{
			ID:    id,
			Type:  store.SignalPain,
			Quote: quote,
			State: store.StateExtracted,
		},
		Source:    source,
		ThreadKey: source + "/" + id,
	}
}

func TestKeywordMatchOnSignalQuote(t *testing.T) {
	st := newStore(t)
	seedRule(t, st, &store.WatchlistRule{
		ID: "r1", Name: "stripe watch", Keywords: []string{"stripe"},
	})

	eng := New(st, nil)
	fired, err := eng.Evaluate(context.Background(), "run-1", []store.Evidence{
		sig("sig-1", "reddit/saas", "Stripe Connect webhook fails silently"),
		sig("sig-2", "hn", "our deploys are slow"),
	}, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}

	events, err := st.AlertEvents(context.Background(), 0)
	if err != nil {
		t.Fatalf("AlertEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	ev := events[0]
	if ev.RuleID != "r1" || ev.MatchedEntity != "sig-1" || ev.EntityKind != "signal" || ev.Keyword != "stripe" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestReEvaluationFiresNothingNew(t *testing.T) {
	st := newStore(t)
	seedRule(t, st, &store.WatchlistRule{
		ID: "r1", Name: "stripe watch", Keywords: []string{"stripe"},
	})

	evidence := []store.Evidence{sig("sig-1", "reddit/saas", "stripe webhook pain")}
	eng := New(st, nil)

	fired, err := eng.Evaluate(context.Background(), "run-1", evidence, nil)
	if err != nil || fired != 1 {
		t.Fatalf("first pass: fired=%d err=%v", fired, err)
	}

	// Overlapping window re-evaluated by a later run: same match, no event.
	fired, err = eng.Evaluate(context.Background(), "run-2", evidence, nil)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if fired != 0 {
		t.Fatalf("re-evaluation fired %d new alerts", fired)
	}
	events, _ := st.AlertEvents(context.Background(), 0)
	if len(events) != 1 {
		t.Fatalf("got %d events after re-evaluation, want 1", len(events))
	}
}

func TestScopeSourcesFiltersSignals(t *testing.T) {
	st := newStore(t)
	seedRule(t, st, &store.WatchlistRule{
		ID: "r1", Name: "reddit only", Keywords: []string{"stripe"},
		ScopeSources: []string{"reddit/saas"},
	})

	eng := New(st, nil)
	fired, err := eng.Evaluate(context.Background(), "run-1", []store.Evidence{
		sig("sig-1", "hn", "stripe problems everywhere"),
		sig("sig-2", "reddit/saas", "stripe problems here too"),
	}, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if fired != 1 {
		t.Fatalf("fired = %d, want 1 (out-of-scope source must not match)", fired)
	}
	events, _ := st.AlertEvents(context.Background(), 0)
	if events[0].MatchedEntity != "sig-2" {
		t.Fatalf("matched %q, want sig-2", events[0].MatchedEntity)
	}
}

func TestKeywordMatchOnClusterProse(t *testing.T) {
	st := newStore(t)
	seedRule(t, st, &store.WatchlistRule{
		ID: "r1", Name: "webhook watch", Keywords: []string{"webhook"},
	})

	eng := New(st, nil)
	fired, err := eng.Evaluate(context.Background(), "run-1", nil, []*store.Cluster{
		{ID: "c1", Title: "Stripe Connect webhook reliability", ThreadCount: 2},
	})
	if err != nil || fired != 1 {
		t.Fatalf("fired=%d err=%v", fired, err)
	}
	events, _ := st.AlertEvents(context.Background(), 0)
	if events[0].EntityKind != "cluster" || events[0].Keyword != "webhook" {
		t.Fatalf("unexpected event %+v", events[0])
	}
}

func TestRecurrenceThresholdOnClusters(t *testing.T) {
	st := newStore(t)
	seedRule(t, st, &store.WatchlistRule{
		ID: "r1", Name: "recurring themes", RecurrenceThreshold: 3,
	})

	eng := New(st, nil)
	fired, err := eng.Evaluate(context.Background(), "run-1", nil, []*store.Cluster{
		{ID: "c1", Title: "billing exports slow", ThreadCount: 3},
		{ID: "c2", Title: "one-off gripe", ThreadCount: 1},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if fired != 1 {
		t.Fatalf("fired = %d, want 1", fired)
	}
	events, _ := st.AlertEvents(context.Background(), 0)
	if events[0].MatchedEntity != "c1" || events[0].Keyword != "" {
		t.Fatalf("unexpected event %+v", events[0])
	}
}

func TestInactiveRulesSkipped(t *testing.T) {
	st := newStore(t)
	seedRule(t, st, &store.WatchlistRule{
		ID: "r1", Name: "stripe watch", Keywords: []string{"stripe"},
	})
	if err := st.SetRuleActive(context.Background(), "r1", false); err != nil {
		t.Fatalf("SetRuleActive: %v", err)
	}

	eng := New(st, nil)
	fired, err := eng.Evaluate(context.Background(), "run-1",
		[]store.Evidence{sig("sig-1", "hn", "stripe headaches")}, nil)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if fired != 0 {
		t.Fatalf("inactive rule fired %d alerts", fired)
	}
}
