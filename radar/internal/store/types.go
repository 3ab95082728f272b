package store

import "time"

// SignalType classifies the kind of demand evidence a quote carries.
type SignalType string

const (
	SignalPain             SignalType = "pain"
	SignalWillingnessToPay SignalType = "willingness_to_pay"
	SignalAlternatives     SignalType = "alternatives"
	SignalUrgency          SignalType = "urgency"
	SignalRepetition       SignalType = "repetition"
	SignalBudget           SignalType = "budget"
)

// ValidSignalType reports whether t is one of the known signal types.
func ValidSignalType(t SignalType) bool {
	switch t {
	case SignalPain, SignalWillingnessToPay, SignalAlternatives,
		SignalUrgency, SignalRepetition, SignalBudget:
		return true
	}
	return false
}

// ExtractionState describes the outcome of running the classifier on an item.
type ExtractionState string

const (
	StateExtracted      ExtractionState = "extracted"
	StateNotExtractable ExtractionState = "not_extractable"
	StateDisqualified   ExtractionState = "disqualified"
)

// ValidExtractionState reports whether s is one of the known states.
func ValidExtractionState(s ExtractionState) bool {
	switch s {
	case StateExtracted, StateNotExtractable, StateDisqualified:
		return true
	}
	return false
}

// ContentItem is one harvested post or comment. Identity is
// (Source, ExternalID); content is append-only evidence and never deleted.
// Only FetchedAt changes after the first insert (refreshed on re-fetch).
type ContentItem struct {
	ID          string
	Source      string
	ExternalID  string
	ParentID    string // external ID of the thread root; empty for roots
	Title       string
	Body        string
	Author      string
	URL         string
	CreatedAt   time.Time
	FetchedAt   time.Time
	ContentHash string // hash of normalized title+body, for duplicate detection
	Processed   bool
}

// ThreadKey identifies the discussion thread an item belongs to.
func (c *ContentItem) ThreadKey() string {
	if c.ParentID != "" {
		return c.Source + "/" + c.ParentID
	}
	return c.Source + "/" + c.ExternalID
}

// Text is the composed text the classifier sees for this item.
func (c *ContentItem) Text() string {
	if c.Title == "" {
		return c.Body
	}
	if c.Body == "" {
		return c.Title
	}
	return c.Title + "\n\n" + c.Body
}

// Signal is one typed, evidence-backed extraction from exactly one
// ContentItem. Immutable once created: re-extraction writes a new row with
// a new ModelVersion, never an update.
type Signal struct {
	ID            string
	ContentItemID string
	RunID         string
	Type          SignalType
	Quote         string // verbatim substring of the source item's text
	State         ExtractionState
	ExtractedAt   time.Time
	ModelVersion  string
}

// Evidence is a Signal joined with the source fields clustering and
// alerting need (thread identity, source name).
type Evidence struct {
	Signal
	Source    string
	ThreadKey string
}

// Cluster is a window-scoped group of signals judged to express the same
// underlying theme. Frozen once the producing Run completes.
type Cluster struct {
	ID               string
	RunID            string
	WindowStart      time.Time
	WindowEnd        time.Time
	Title            string
	Summary          string
	EvidenceStrength float64
	SignalCount      int
	ThreadCount      int
	MemberSignalIDs  []string // ordered by evidence rank
	CreatedAt        time.Time
}

// RunStatus is the ledger state machine: running → completed | failed.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Counts are the per-stage counters of one Run.
type Counts struct {
	Fetched      int `json:"fetched"`
	Deduped      int `json:"deduped"`
	Extracted    int `json:"extracted"`
	Clustered    int `json:"clustered"`
	AlertsRaised int `json:"alerts_raised"`
	FailedItems  int `json:"failed_items"`
}

// Run is the immutable audit record of one pipeline execution.
type Run struct {
	ID             string
	StartedAt      time.Time
	CompletedAt    time.Time // zero while running
	ConfigSnapshot string    // verbatim JSON of the effective config
	Counts         Counts
	Status         RunStatus
	Error          string // first fatal error for failed runs
}

// WatchlistRule is a tenant-defined alert condition.
type WatchlistRule struct {
	ID                  string
	Name                string
	Keywords            []string
	ScopeSources        []string // empty = all sources
	RecurrenceThreshold int      // 0 = no recurrence matching
	Active              bool
	CreatedAt           time.Time
}

// AlertEvent records one rule match. (RuleID, MatchedEntity) fires at most
// once, ever — re-evaluating a window must not re-alert.
type AlertEvent struct {
	ID            string
	RuleID        string
	MatchedEntity string // signal or cluster ID
	EntityKind    string // "signal" or "cluster"
	Keyword       string // matched keyword, empty for recurrence matches
	RunID         string
	MatchedAt     time.Time
}
