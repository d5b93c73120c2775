// Package server exposes the operator HTTP API: health, per-server status,
// run history, and the manual sync trigger. It is a thin JSON layer over
// the coordinator and the history store.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/livinlefevreloca/budgetd/internal/coordinator"
	"github.com/livinlefevreloca/budgetd/internal/db"
	"github.com/livinlefevreloca/budgetd/internal/orchestrator"
)

// Core is what the API needs from the coordinator.
type Core interface {
	Status() []coordinator.ServerStatus
	RunNow(ctx context.Context, name string, trigger orchestrator.Trigger) (*orchestrator.Outcome, error)
}

// Schedule answers when the next scheduled firing happens, for status
// display.
type Schedule interface {
	NextFiring(after time.Time) time.Time
}

// History is what the API reads from the history store.
type History interface {
	GetRun(runID string) (*db.SyncRun, error)
	RecentRuns(server string, limit int) ([]db.SyncRun, error)
	RunAccountFailures(runID string) ([]db.AccountFailure, error)
	RecentNotifications(server string, limit int) ([]db.Notification, error)
}

// Server is the operator API server.
type Server struct {
	core    Core
	sched   Schedule
	history History
	logger  *slog.Logger
}

func New(core Core, sched Schedule, history History, logger *slog.Logger) *Server {
	return &Server{
		core:    core,
		sched:   sched,
		history: history,
		logger:  logger,
	}
}

// Handler builds the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleRun)
	mux.HandleFunc("GET /api/runs/{id}/accounts", s.handleRunAccounts)
	mux.HandleFunc("GET /api/notifications", s.handleNotifications)
	mux.HandleFunc("POST /api/sync/{server}", s.handleSync)
	return mux
}

// NewHTTPServer wraps the handler in an http.Server bound to addr.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type serverStatusResponse struct {
	Name                string     `json:"name"`
	Schedule            string     `json:"schedule"`
	LastRunID           string     `json:"last_run_id,omitempty"`
	LastStatus          string     `json:"last_status,omitempty"`
	LastStartedAt       *time.Time `json:"last_started_at,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	FailureRate         float64    `json:"failure_rate"`
	AlertsLastHour      int        `json:"alerts_last_hour"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	statuses := s.core.Status()

	resp := make([]serverStatusResponse, 0, len(statuses))
	for _, st := range statuses {
		entry := serverStatusResponse{
			Name:                st.Name,
			Schedule:            st.Schedule,
			ConsecutiveFailures: st.Evaluation.ConsecutiveCount,
			FailureRate:         st.Evaluation.FailureRate,
			AlertsLastHour:      st.AlertsLastHour,
		}
		if st.LastRun != nil {
			started := st.LastRun.StartedAt
			entry.LastRunID = st.LastRun.RunID
			entry.LastStatus = string(st.LastRun.Status)
			entry.LastStartedAt = &started
		}
		resp = append(resp, entry)
	}

	body := map[string]any{"servers": resp}
	if next := s.sched.NextFiring(time.Now()); !next.IsZero() {
		body["next_firing"] = next
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	runs, err := s.history.RecentRuns(r.URL.Query().Get("server"), limit)
	if err != nil {
		s.logger.Error("failed to query run history", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to query run history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.history.GetRun(r.PathValue("id"))
	if db.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "no such run")
		return
	}
	if err != nil {
		s.logger.Error("failed to query run", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to query run")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("server")
	if name == "" {
		writeError(w, http.StatusBadRequest, "server query parameter is required")
		return
	}

	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	records, err := s.history.RecentNotifications(name, limit)
	if err != nil {
		s.logger.Error("failed to query notification history", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to query notification history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"notifications": records})
}

func (s *Server) handleRunAccounts(w http.ResponseWriter, r *http.Request) {
	failures, err := s.history.RunAccountFailures(r.PathValue("id"))
	if err != nil {
		s.logger.Error("failed to query account failures", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to query account failures")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"failures": failures})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("server")

	outcome, err := s.core.RunNow(r.Context(), name, orchestrator.TriggerManual)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":             outcome.RunID,
		"status":             outcome.Status,
		"accounts_processed": outcome.AccountsProcessed,
		"accounts_succeeded": outcome.AccountsSucceeded,
		"accounts_failed":    outcome.AccountsFailed,
		"duration_ms":        outcome.Duration.Milliseconds(),
	})
}

// parseLimit reads the limit query parameter, defaulting to 50 and writing
// a 400 on out-of-range input.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 500")
			return 0, false
		}
		limit = n
	}
	return limit, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
