package cluster

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"painradar/dbopen"
	"painradar/radar/internal/classify"
	"painradar/radar/internal/store"
)

type fakeSummarizer struct {
	title, summary string
	err            error
	calls          int
}

func (f *fakeSummarizer) SummarizeCluster(_ context.Context, _ []string) (*classify.ClusterSummary, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &classify.ClusterSummary{Title: f.title, Summary: f.summary}, nil
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema)))
}

var base = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

// seedSignal writes a content item plus an extracted signal at the given
// offset into the window. Each item is its own thread root.
func seedSignal(t *testing.T, st *store.Store, id, source, externalID, quote string,
	typ store.SignalType, offset time.Duration) {
	t.Helper()
	ctx := context.Background()
	item := &store.ContentItem{
		ID:         "item-" + id,
		Source:     source,
		ExternalID: externalID,
		Body:       quote,
		CreatedAt:  base,
		FetchedAt:  base,
	}
	if _, err := st.UpsertContentItem(ctx, item); err != nil {
		t.Fatalf("seed item: %v", err)
	}
	sig := &store.Signal{
		ID:            id,
		ContentItemID: item.ID,
		RunID:         "seed-run",
		Type:          typ,
		Quote:         quote,
		State:         store.StateExtracted,
		ExtractedAt:   base.Add(offset),
		ModelVersion:  "m1",
	}
	if err := st.InsertSignal(ctx, sig); err != nil {
		t.Fatalf("seed signal: %v", err)
	}
}

func TestGreedyGroupingAcrossThreads(t *testing.T) {
	st := newStore(t)
	// Three threads voicing the same theme, one unrelated complaint.
	seedSignal(t, st, "sig-1", "reddit/saas", "t1",
		"stripe connect webhook fails silently", store.SignalPain, 0)
	seedSignal(t, st, "sig-2", "hn", "t2",
		"our stripe connect webhook fails silently in production", store.SignalPain, time.Minute)
	seedSignal(t, st, "sig-3", "reddit/payments", "t3",
		"the stripe connect webhook fails silently again today", store.SignalUrgency, 2*time.Minute)
	seedSignal(t, st, "sig-4", "hn", "t4",
		"postgres migrations take forever on our team", store.SignalPain, 3*time.Minute)

	eng := New(st, nil, Config{}, nil)
	clusters, err := eng.Build(context.Background(), "run-1", base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want 2", len(clusters))
	}

	main := clusters[0]
	if main.SignalCount != 3 || main.ThreadCount != 3 {
		t.Fatalf("main cluster = %d signals / %d threads, want 3/3", main.SignalCount, main.ThreadCount)
	}
	// threads=3, types=2 (pain+urgency), signals=3:
	// 0.5*3/5 + 0.3*2/4 + 0.2*3/10 = 0.51
	if diff := main.EvidenceStrength - 0.51; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("evidence strength = %v, want 0.51", main.EvidenceStrength)
	}
	want := []string{"sig-1", "sig-2", "sig-3"}
	if !reflect.DeepEqual(main.MemberSignalIDs, want) {
		t.Fatalf("member order = %v, want %v", main.MemberSignalIDs, want)
	}

	// Without a summarizer the seed quote serves as title.
	if main.Title != "stripe connect webhook fails silently" {
		t.Fatalf("title = %q", main.Title)
	}

	if clusters[1].SignalCount != 1 {
		t.Fatalf("singleton cluster = %d signals", clusters[1].SignalCount)
	}
	if clusters[0].EvidenceStrength <= clusters[1].EvidenceStrength {
		t.Fatal("clusters not ordered strongest first")
	}
}

func TestSignalJoinsBestMatchingGroup(t *testing.T) {
	st := newStore(t)
	// sig-3 shares four of sig-1's five tokens (ratio ~0.76, above the
	// merge threshold) but contains every token of sig-2 (ratio 1.0). It
	// must land with sig-2, not with the first group that merely clears
	// the threshold.
	seedSignal(t, st, "sig-1", "reddit/saas", "t1",
		"stripe connect webhook fails silently", store.SignalPain, 0)
	seedSignal(t, st, "sig-2", "hn", "t2",
		"billing exports crash nightly", store.SignalPain, time.Minute)
	seedSignal(t, st, "sig-3", "reddit/payments", "t3",
		"when stripe connect webhook fails billing exports crash nightly", store.SignalPain, 2*time.Minute)

	eng := New(st, nil, Config{}, nil)
	clusters, err := eng.Build(context.Background(), "run-1", base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(clusters) != 2 {
		t.Fatalf("got %d clusters, want 2", len(clusters))
	}
	if want := []string{"sig-2", "sig-3"}; !reflect.DeepEqual(clusters[0].MemberSignalIDs, want) {
		t.Fatalf("strongest cluster members = %v, want %v", clusters[0].MemberSignalIDs, want)
	}
	if want := []string{"sig-1"}; !reflect.DeepEqual(clusters[1].MemberSignalIDs, want) {
		t.Fatalf("singleton cluster members = %v, want %v", clusters[1].MemberSignalIDs, want)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	st := newStore(t)
	seedSignal(t, st, "sig-1", "reddit/saas", "t1",
		"stripe connect webhook fails silently", store.SignalPain, 0)
	seedSignal(t, st, "sig-2", "hn", "t2",
		"stripe connect webhook fails silently for us too", store.SignalPain, time.Minute)
	seedSignal(t, st, "sig-3", "hn", "t3",
		"billing exports are painfully slow", store.SignalPain, 2*time.Minute)

	eng := New(st, nil, Config{}, nil)
	first, err := eng.Build(context.Background(), "run-1", base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("first Build: %v", err)
	}
	second, err := eng.Build(context.Background(), "run-2", base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("cluster counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !reflect.DeepEqual(first[i].MemberSignalIDs, second[i].MemberSignalIDs) {
			t.Fatalf("cluster %d membership differs: %v vs %v",
				i, first[i].MemberSignalIDs, second[i].MemberSignalIDs)
		}
		if first[i].EvidenceStrength != second[i].EvidenceStrength {
			t.Fatalf("cluster %d strength differs", i)
		}
	}
}

func TestSummarizerUsedWhenAvailable(t *testing.T) {
	st := newStore(t)
	seedSignal(t, st, "sig-1", "reddit/saas", "t1",
		"stripe connect webhook fails silently", store.SignalPain, 0)

	sum := &fakeSummarizer{title: "Stripe Connect webhook reliability", summary: "Builders report silent failures."}
	eng := New(st, sum, Config{}, nil)
	clusters, err := eng.Build(context.Background(), "run-1", base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if sum.calls != 1 {
		t.Fatalf("summarizer called %d times", sum.calls)
	}
	if clusters[0].Title != sum.title || clusters[0].Summary != sum.summary {
		t.Fatalf("cluster prose = %q / %q", clusters[0].Title, clusters[0].Summary)
	}
}

func TestSummarizerFailureFallsBackToSeedQuote(t *testing.T) {
	st := newStore(t)
	seedSignal(t, st, "sig-1", "reddit/saas", "t1",
		"stripe connect webhook fails silently", store.SignalPain, 0)

	sum := &fakeSummarizer{err: errors.New("backend down")}
	eng := New(st, sum, Config{}, nil)
	clusters, err := eng.Build(context.Background(), "run-1", base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("summarizer outage must not fail the build: %v", err)
	}
	if clusters[0].Title != "stripe connect webhook fails silently" || clusters[0].Summary != "" {
		t.Fatalf("fallback prose = %q / %q", clusters[0].Title, clusters[0].Summary)
	}
}

func TestClustersPersisted(t *testing.T) {
	st := newStore(t)
	seedSignal(t, st, "sig-1", "reddit/saas", "t1",
		"stripe connect webhook fails silently", store.SignalPain, 0)

	eng := New(st, nil, Config{}, nil)
	if _, err := eng.Build(context.Background(), "run-1", base, base.Add(time.Hour)); err != nil {
		t.Fatalf("Build: %v", err)
	}

	stored, err := st.ClustersForRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("ClustersForRun: %v", err)
	}
	if len(stored) != 1 || len(stored[0].MemberSignalIDs) != 1 {
		t.Fatalf("persisted clusters = %+v", stored)
	}
}

func TestEmptyWindowYieldsNoClusters(t *testing.T) {
	st := newStore(t)
	eng := New(st, nil, Config{}, nil)
	clusters, err := eng.Build(context.Background(), "run-1", base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(clusters) != 0 {
		t.Fatalf("got %d clusters from empty window", len(clusters))
	}
}
