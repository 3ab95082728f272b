// Package extract turns unprocessed content items into immutable signals.
//
// For each item it calls the classifier, enforces the verbatim-quote
// invariant, folds near-duplicate quotes into existing signals via the
// run-scoped dedupe index, and records the outcome. Items whose
// classification fails after the retry budget stay unprocessed so a later
// run can pick them up.
package extract

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"painradar/idgen"
	"painradar/radar/internal/classify"
	"painradar/radar/internal/dedupe"
	"painradar/radar/internal/store"
	"painradar/retry"
	"painradar/textnorm"
)

// Classifier is the judgment backend. *classify.Client satisfies it; tests
// substitute a fake.
type Classifier interface {
	ExtractSignals(ctx context.Context, text string) (*classify.Extraction, error)
	ModelVersion() string
}

// Config tunes one extraction pass.
type Config struct {
	// MaxItems caps how many items one run classifies. 0 = unlimited.
	MaxItems int
	// DedupeThreshold is the similarity above which a new quote is folded
	// into an existing signal. Default: dedupe.DefaultThreshold.
	DedupeThreshold float64
	// Retry bounds classifier attempts per item. Default MaxAttempts: 3.
	Retry retry.Policy
}

func (c *Config) defaults() {
	if c.DedupeThreshold <= 0 {
		c.DedupeThreshold = dedupe.DefaultThreshold
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
}

// Result summarizes one extraction pass.
type Result struct {
	Processed int // items classified and marked processed
	Signals   int // new signals written
	Deduped   int // quotes folded into existing signals
	Failed    int // items whose classifier budget ran out
}

// Extractor runs the classification stage.
type Extractor struct {
	store      *store.Store
	classifier Classifier
	config     Config
	idgen      idgen.Generator
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an Extractor backed by st and cls.
func New(st *store.Store, cls Classifier, cfg Config, logger *slog.Logger) *Extractor {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		store:      st,
		classifier: cls,
		config:     cfg,
		idgen:      idgen.Prefixed("sig_", idgen.Default),
		logger:     logger,
		now:        time.Now,
	}
}

// Run classifies the current unprocessed backlog for runID. The backlog is
// snapshotted up front: items fetched while extraction is in flight wait for
// the next run. The dedupe index is scoped to this call, so quotes only fold
// into signals created earlier in the same pass.
func (e *Extractor) Run(ctx context.Context, runID string) (*Result, error) {
	items, err := e.store.UnprocessedItems(ctx, e.config.MaxItems)
	if err != nil {
		return nil, err
	}

	idx := dedupe.NewIndex(e.config.DedupeThreshold)

	res := &Result{}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		extraction, err := e.classify(ctx, item.Text())
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return res, err
			}
			res.Failed++
			e.logger.Warn("extract: item failed, leaving unprocessed",
				"item", item.ID, "source", item.Source, "error", err)
			continue
		}

		newSignals, deduped, err := e.record(ctx, runID, item, extraction, idx)
		if err != nil {
			return res, err
		}
		res.Signals += newSignals
		res.Deduped += deduped

		if err := e.store.MarkProcessed(ctx, item.ID); err != nil {
			return res, err
		}
		res.Processed++
	}
	return res, nil
}

// classify calls the backend under the retry budget. Unavailable and
// malformed responses are both worth another attempt: the former is
// transient load, the latter is classifier nondeterminism.
func (e *Extractor) classify(ctx context.Context, text string) (*classify.Extraction, error) {
	var out *classify.Extraction
	err := retry.Do(ctx, e.config.Retry, e.logger, "classify", func(ctx context.Context) error {
		ex, err := e.classifier.ExtractSignals(ctx, text)
		if err != nil {
			if errors.Is(err, classify.ErrUnavailable) || errors.Is(err, classify.ErrMalformed) {
				return retry.Mark(err)
			}
			return err
		}
		out = ex
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// record persists the extraction outcome for one item. Returns the number
// of new signals and folded duplicates.
func (e *Extractor) record(ctx context.Context, runID string, item *store.ContentItem,
	ex *classify.Extraction, idx *dedupe.Index) (int, int, error) {

	now := e.now()
	version := e.classifier.ModelVersion()

	var kept, rejected []classify.CandidateSignal
	if ex.State == store.StateExtracted {
		kept, rejected = splitVerbatim(item.Text(), ex.Signals)
	}

	// Every rejected candidate leaves a not_extractable row carrying the
	// offending quote, so paraphrased claims stay auditable even when a
	// sibling candidate survives.
	for _, cand := range rejected {
		sig := &store.Signal{
			ID:            e.idgen(),
			ContentItemID: item.ID,
			RunID:         runID,
			Type:          cand.Type,
			Quote:         cand.Quote,
			State:         store.StateNotExtractable,
			ExtractedAt:   now,
			ModelVersion:  version,
		}
		if err := e.store.InsertSignal(ctx, sig); err != nil {
			return 0, 0, err
		}
	}

	if len(kept) == 0 {
		if len(rejected) > 0 {
			// The rejected rows above already record the outcome.
			return 0, 0, nil
		}
		state := ex.State
		if state == store.StateExtracted {
			// The classifier claimed evidence but offered no candidates.
			state = store.StateNotExtractable
		}
		sig := &store.Signal{
			ID:            e.idgen(),
			ContentItemID: item.ID,
			RunID:         runID,
			Quote:         "",
			State:         state,
			ExtractedAt:   now,
			ModelVersion:  version,
		}
		if err := e.store.InsertSignal(ctx, sig); err != nil {
			return 0, 0, err
		}
		return 0, 0, nil
	}

	newSignals, deduped := 0, 0
	for _, cand := range kept {
		if dupID, ok := idx.FindNearDuplicate(cand.Quote); ok {
			if err := e.store.LinkDuplicate(ctx, dupID, item.ID, now); err != nil {
				return newSignals, deduped, err
			}
			deduped++
			continue
		}

		sig := &store.Signal{
			ID:            e.idgen(),
			ContentItemID: item.ID,
			RunID:         runID,
			Type:          cand.Type,
			Quote:         cand.Quote,
			State:         store.StateExtracted,
			ExtractedAt:   now,
			ModelVersion:  version,
		}
		if err := e.store.InsertSignal(ctx, sig); err != nil {
			return newSignals, deduped, err
		}
		idx.Add(sig.ID, cand.Quote)
		newSignals++
	}
	return newSignals, deduped, nil
}

// splitVerbatim partitions candidates into those whose quote appears
// verbatim in the source text (with a known signal type) and those that do
// not. Comparison is on normalized text so markup stripping and whitespace
// collapse don't reject honest quotes.
func splitVerbatim(text string, cands []classify.CandidateSignal) (kept, rejected []classify.CandidateSignal) {
	norm := textnorm.Normalize(text)
	for _, c := range cands {
		q := textnorm.Normalize(c.Quote)
		if q == "" || !strings.Contains(norm, q) || !store.ValidSignalType(c.Type) {
			rejected = append(rejected, c)
			continue
		}
		kept = append(kept, c)
	}
	return kept, rejected
}
