// Package dedupe detects near-duplicate text within one pipeline run.
//
// The index is run-scoped and accessed only from the single
// fetch-then-extract pass, so it needs no locking. Exact identity dedup
// (source, external_id) lives in the store's upsert; this layer catches the
// same real-world complaint cross-posted with minor wording drift.
package dedupe

import "painradar/textnorm"

// DefaultThreshold is the similarity above which two texts are considered
// the same underlying evidence.
const DefaultThreshold = 0.85

type entry struct {
	id   string
	norm string
}

// Index holds the normalized texts seen so far this run.
type Index struct {
	threshold float64
	exact     map[string]string // normalized text → id
	entries   []entry
}

// NewIndex creates an Index. threshold <= 0 selects DefaultThreshold.
func NewIndex(threshold float64) *Index {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Index{
		threshold: threshold,
		exact:     make(map[string]string),
	}
}

// Add registers text under id for future duplicate checks.
func (x *Index) Add(id, text string) {
	norm := textnorm.Normalize(text)
	if norm == "" {
		return
	}
	if _, ok := x.exact[norm]; !ok {
		x.exact[norm] = id
	}
	x.entries = append(x.entries, entry{id: id, norm: norm})
}

// FindNearDuplicate returns the id of the best earlier entry whose
// similarity with text meets the threshold. Entries are scanned in
// insertion order so ties resolve to the earliest (canonical) entry,
// keeping results deterministic.
func (x *Index) FindNearDuplicate(text string) (string, bool) {
	norm := textnorm.Normalize(text)
	if norm == "" {
		return "", false
	}
	if id, ok := x.exact[norm]; ok {
		return id, true
	}

	bestID := ""
	bestScore := 0.0
	for _, e := range x.entries {
		score := textnorm.TokenSetRatio(norm, e.norm)
		if score >= x.threshold && score > bestScore {
			bestID = e.id
			bestScore = score
		}
	}
	return bestID, bestID != ""
}

// Len reports how many entries the index holds.
func (x *Index) Len() int { return len(x.entries) }
