package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ogulcanaydogan/bi-sentinel/internal/auth"
	"github.com/ogulcanaydogan/bi-sentinel/internal/realtime"
	"github.com/ogulcanaydogan/bi-sentinel/pkg/model"
	"github.com/ogulcanaydogan/bi-sentinel/pkg/storage"
)

const requestTimeout = 10 * time.Second

// AlertEvaluator computes the current alerts for a user.
type AlertEvaluator interface {
	Evaluate(ctx context.Context, userID string) ([]model.Alert, error)
}

// Deps are the services the API server routes to.
type Deps struct {
	Store     storage.Storage
	Evaluator AlertEvaluator
	Verifier  auth.Verifier
	Hub       *realtime.Hub

	// Realtime serves /ws/budget-alerts and authenticates on its own.
	Realtime http.Handler

	// Functions serves /functions/v1/{function}.
	Functions            http.Handler
	RequireFunctionsAuth bool
}

// Server provides the REST API, the budget-alert WebSocket and the LLM-proxy functions.
type Server struct {
	deps   Deps
	mux    *http.ServeMux
	logger *slog.Logger
	now    func() time.Time
}

// NewServer creates an API server.
func NewServer(deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		deps:   deps,
		mux:    http.NewServeMux(),
		logger: logger,
		now:    time.Now,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.Handle("GET /api/v1/budgets", s.authed(s.handleListBudgets))
	s.mux.Handle("POST /api/v1/budgets", s.authed(s.handleCreateBudget))
	s.mux.Handle("GET /api/v1/budgets/{id}", s.authed(s.handleGetBudget))
	s.mux.Handle("POST /api/v1/budgets/{id}/actuals", s.authed(s.handleAddActual))
	s.mux.Handle("GET /api/v1/rules", s.authed(s.handleListRules))
	s.mux.Handle("POST /api/v1/rules", s.authed(s.handleCreateRule))
	s.mux.Handle("GET /api/v1/forecasts", s.authed(s.handleListForecasts))
	s.mux.Handle("POST /api/v1/forecasts", s.authed(s.handleCreateForecast))
	s.mux.Handle("GET /api/v1/alerts", s.authed(s.handleAlerts))
	s.mux.Handle("GET /api/v1/insights", s.authed(s.handleInsights))
	s.mux.Handle("GET /api/v1/usage", s.authed(s.handleUsage))
	s.mux.Handle("GET /api/v1/usage/summary", s.authed(s.handleUsageSummary))
	s.mux.Handle("GET /api/v1/realtime/stats", s.authed(s.handleRealtimeStats))

	if s.deps.Realtime != nil {
		s.mux.Handle("GET /ws/budget-alerts", s.deps.Realtime)
	}
	if s.deps.Functions != nil {
		h := s.deps.Functions
		if s.deps.RequireFunctionsAuth {
			h = auth.Middleware(s.deps.Verifier, h)
		}
		s.mux.Handle("POST /functions/v1/{function}", h)
	}
}

// Handler returns the HTTP handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) authed(fn func(http.ResponseWriter, *http.Request, string)) http.Handler {
	return auth.Middleware(s.deps.Verifier, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, _ := auth.UserIDFromContext(r.Context())
		fn(w, r, userID)
	}))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request, userID string) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	alerts, err := s.deps.Evaluator.Evaluate(ctx, userID)
	if err != nil {
		s.internalError(w, "evaluate alerts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts":    alerts,
		"count":     len(alerts),
		"timestamp": s.now().UTC(),
	})
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request, userID string) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	insights, err := s.deps.Store.ListInsights(ctx, userID, limit)
	if err != nil {
		s.internalError(w, "list insights", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(insights))
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request, userID string) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	filter := model.CallFilter{
		UserID:   userID,
		Function: r.URL.Query().Get("function"),
	}
	calls, err := s.deps.Store.QueryCalls(ctx, filter)
	if err != nil {
		s.internalError(w, "query calls", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(calls))
}

func (s *Server) handleUsageSummary(w http.ResponseWriter, r *http.Request, userID string) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	period := model.Period(r.URL.Query().Get("period"))
	if period == "" {
		period = model.PeriodDaily
	}

	start, end := model.PeriodBounds(period, s.now())
	filter := model.CallFilter{
		UserID:    userID,
		Function:  r.URL.Query().Get("function"),
		StartTime: start,
		EndTime:   end,
	}

	summary, err := s.deps.Store.AggregateCalls(ctx, filter)
	if err != nil {
		s.internalError(w, "aggregate calls", err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRealtimeStats(w http.ResponseWriter, _ *http.Request, userID string) {
	if s.deps.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "realtime disabled")
		return
	}
	// Counts cover the caller's own sessions only.
	sessions := s.deps.Hub.Sessions(userID)
	writeJSON(w, http.StatusOK, map[string]any{
		"connections": len(sessions),
		"sessions":    sessions,
	})
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.logger.Error(op, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.New("invalid " + key)
	}
	return n, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
