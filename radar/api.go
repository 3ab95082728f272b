package radar

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router returns the HTTP API. All responses are JSON.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/runs", s.handleTriggerRun)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{id}", s.handleGetRun)
	r.Get("/clusters", s.handleListClusters)
	r.Get("/alerts", s.handleListAlerts)
	r.Get("/rules", s.handleListRules)
	r.Post("/rules", s.handleAddRule)
	r.Delete("/rules/{id}", s.handleDisableRule)
	return r
}

type runJSON struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Counts      Counts    `json:"counts"`
}

func toRunJSON(r *Run) runJSON {
	return runJSON{
		ID:          r.ID,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Status:      string(r.Status),
		Error:       r.Error,
		Counts:      r.Counts,
	}
}

type clusterJSON struct {
	ID               string    `json:"id"`
	RunID            string    `json:"run_id"`
	WindowStart      time.Time `json:"window_start"`
	WindowEnd        time.Time `json:"window_end"`
	Title            string    `json:"title"`
	Summary          string    `json:"summary,omitempty"`
	EvidenceStrength float64   `json:"evidence_strength"`
	SignalCount      int       `json:"signal_count"`
	ThreadCount      int       `json:"thread_count"`
	SignalIDs        []string  `json:"signal_ids"`
}

type ruleJSON struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Keywords            []string  `json:"keywords,omitempty"`
	ScopeSources        []string  `json:"scope_sources,omitempty"`
	RecurrenceThreshold int       `json:"recurrence_threshold,omitempty"`
	Active              bool      `json:"active"`
	CreatedAt           time.Time `json:"created_at"`
}

func toRuleJSON(r *WatchlistRule) ruleJSON {
	return ruleJSON{
		ID:                  r.ID,
		Name:                r.Name,
		Keywords:            r.Keywords,
		ScopeSources:        r.ScopeSources,
		RecurrenceThreshold: r.RecurrenceThreshold,
		Active:              r.Active,
		CreatedAt:           r.CreatedAt,
	}
}

type alertJSON struct {
	ID            string    `json:"id"`
	RuleID        string    `json:"rule_id"`
	MatchedEntity string    `json:"matched_entity"`
	EntityKind    string    `json:"entity_kind"`
	Keyword       string    `json:"keyword,omitempty"`
	RunID         string    `json:"run_id"`
	MatchedAt     time.Time `json:"matched_at"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTriggerRun executes a pipeline run synchronously and returns the
// finished ledger entry. A failed run still returns its record, with 502.
func (s *Service) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.RunPipeline(r.Context())
	if err != nil {
		if run != nil {
			writeJSON(w, http.StatusBadGateway, toRunJSON(run))
			return
		}
		s.logger.Error("run trigger failed", "error", err)
		http.Error(w, "run failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toRunJSON(run))
}

func (s *Service) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.Runs(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		s.logger.Error("list runs", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]runJSON, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunJSON(run))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.RunByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("get run", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, toRunJSON(run))
}

func (s *Service) handleListClusters(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			http.Error(w, "bad window", http.StatusBadRequest)
			return
		}
		window = d
	}
	clusters, err := s.Clusters(r.Context(), window)
	if err != nil {
		s.logger.Error("list clusters", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]clusterJSON, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, clusterJSON{
			ID:               c.ID,
			RunID:            c.RunID,
			WindowStart:      c.WindowStart,
			WindowEnd:        c.WindowEnd,
			Title:            c.Title,
			Summary:          c.Summary,
			EvidenceStrength: c.EvidenceStrength,
			SignalCount:      c.SignalCount,
			ThreadCount:      c.ThreadCount,
			SignalIDs:        c.MemberSignalIDs,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.Alerts(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		s.logger.Error("list alerts", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]alertJSON, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, alertJSON{
			ID:            a.ID,
			RuleID:        a.RuleID,
			MatchedEntity: a.MatchedEntity,
			EntityKind:    a.EntityKind,
			Keyword:       a.Keyword,
			RunID:         a.RunID,
			MatchedAt:     a.MatchedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.Rules(r.Context(), r.URL.Query().Get("active") == "true")
	if err != nil {
		s.logger.Error("list rules", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]ruleJSON, 0, len(rules))
	for _, rule := range rules {
		out = append(out, toRuleJSON(rule))
	}
	writeJSON(w, http.StatusOK, out)
}

// AddRuleRequest is the body for POST /rules.
type AddRuleRequest struct {
	Name                string   `json:"name"`
	Keywords            []string `json:"keywords"`
	ScopeSources        []string `json:"scope_sources"`
	RecurrenceThreshold int      `json:"recurrence_threshold"`
}

func (s *Service) handleAddRule(w http.ResponseWriter, r *http.Request) {
	var req AddRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	rule, err := s.AddRule(r.Context(), &WatchlistRule{
		Name:                req.Name,
		Keywords:            req.Keywords,
		ScopeSources:        req.ScopeSources,
		RecurrenceThreshold: req.RecurrenceThreshold,
	})
	if errors.Is(err, ErrInvalidInput) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.logger.Error("add rule", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, toRuleJSON(rule))
}

// handleDisableRule deactivates a rule. Rules are never deleted: alert
// history references them.
func (s *Service) handleDisableRule(w http.ResponseWriter, r *http.Request) {
	err := s.SetRuleActive(r.Context(), chi.URLParam(r, "id"), false)
	if errors.Is(err, ErrNotFound) {
		http.Error(w, "rule not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("disable rule", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
