package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ogulcanaydogan/bi-sentinel/pkg/model"
	"github.com/ogulcanaydogan/bi-sentinel/pkg/storage"
	"github.com/shopspring/decimal"
)

const maxRequestBody = 1 << 20

type createBudgetRequest struct {
	Department    string          `json:"department"`
	Category      string          `json:"category"`
	PlannedAmount decimal.Decimal `json:"planned_amount"`
}

type addActualRequest struct {
	ActualAmount decimal.Decimal `json:"actual_amount"`
	RecordedAt   *time.Time      `json:"recorded_at"`
}

type createRuleRequest struct {
	Department          string          `json:"department"`
	RuleName            string          `json:"rule_name"`
	ThresholdPercentage decimal.Decimal `json:"threshold_percentage"`
	IsActive            *bool           `json:"is_active"`
}

type createForecastRequest struct {
	BudgetID         string          `json:"budget_id"`
	PredictedAmount  decimal.Decimal `json:"predicted_amount"`
	DriftPercentage  decimal.Decimal `json:"drift_percentage"`
	ConfidenceScore  decimal.Decimal `json:"confidence_score"`
	AIRecommendation string          `json:"ai_recommendation"`
	ForecastDate     string          `json:"forecast_date"`
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request, userID string) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	budgets, err := s.deps.Store.ListBudgets(ctx, userID)
	if err != nil {
		s.internalError(w, "list budgets", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(budgets))
}

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request, userID string) {
	var req createBudgetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Department = strings.TrimSpace(req.Department)
	if req.Department == "" {
		writeError(w, http.StatusBadRequest, "department is required")
		return
	}
	if req.PlannedAmount.IsNegative() {
		writeError(w, http.StatusBadRequest, "planned_amount must not be negative")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	budget := &model.Budget{
		UserID:        userID,
		Department:    req.Department,
		Category:      strings.TrimSpace(req.Category),
		PlannedAmount: req.PlannedAmount,
	}
	if err := s.deps.Store.CreateBudget(ctx, budget); err != nil {
		s.internalError(w, "create budget", err)
		return
	}
	writeJSON(w, http.StatusCreated, budget)
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request, userID string) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	budget, err := s.ownedBudget(ctx, r.PathValue("id"), userID)
	if err != nil {
		s.internalError(w, "get budget", err)
		return
	}
	actuals, err := s.deps.Store.ListActuals(ctx, budget.ID)
	if err != nil {
		s.internalError(w, "list actuals", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"budget":  budget,
		"actuals": nonNil(actuals),
	})
}

func (s *Server) handleAddActual(w http.ResponseWriter, r *http.Request, userID string) {
	var req addActualRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	budget, err := s.ownedBudget(ctx, r.PathValue("id"), userID)
	if err != nil {
		s.internalError(w, "get budget", err)
		return
	}

	actual := &model.BudgetActual{BudgetID: budget.ID, ActualAmount: req.ActualAmount}
	if req.RecordedAt != nil {
		actual.RecordedAt = req.RecordedAt.UTC()
	}
	if err := s.deps.Store.AddActual(ctx, actual); err != nil {
		s.internalError(w, "add actual", err)
		return
	}
	writeJSON(w, http.StatusCreated, actual)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request, userID string) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	rules, err := s.deps.Store.ListRules(ctx, userID)
	if err != nil {
		s.internalError(w, "list rules", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(rules))
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request, userID string) {
	var req createRuleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Department = strings.TrimSpace(req.Department)
	req.RuleName = strings.TrimSpace(req.RuleName)
	if req.Department == "" || req.RuleName == "" {
		writeError(w, http.StatusBadRequest, "department and rule_name are required")
		return
	}
	if req.ThresholdPercentage.IsNegative() {
		writeError(w, http.StatusBadRequest, "threshold_percentage must not be negative")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	rule := &model.BudgetRule{
		UserID:              userID,
		Department:          req.Department,
		RuleName:            req.RuleName,
		ThresholdPercentage: req.ThresholdPercentage,
		IsActive:            req.IsActive == nil || *req.IsActive,
	}
	if err := s.deps.Store.CreateRule(ctx, rule); err != nil {
		s.internalError(w, "create rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleListForecasts(w http.ResponseWriter, r *http.Request, userID string) {
	limit, err := queryInt(r, "limit", 10)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	forecasts, err := s.deps.Store.ListUpcomingForecasts(ctx, userID, s.now(), limit)
	if err != nil {
		s.internalError(w, "list forecasts", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(forecasts))
}

func (s *Server) handleCreateForecast(w http.ResponseWriter, r *http.Request, userID string) {
	var req createForecastRequest
	if !decodeBody(w, r, &req) {
		return
	}
	date, err := time.Parse(time.DateOnly, req.ForecastDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "forecast_date must be YYYY-MM-DD")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if req.BudgetID != "" {
		if _, err := s.ownedBudget(ctx, req.BudgetID, userID); err != nil {
			s.internalError(w, "get budget", err)
			return
		}
	}

	forecast := &model.BudgetForecast{
		UserID:           userID,
		BudgetID:         req.BudgetID,
		PredictedAmount:  req.PredictedAmount,
		DriftPercentage:  req.DriftPercentage,
		ConfidenceScore:  req.ConfidenceScore,
		AIRecommendation: req.AIRecommendation,
		ForecastDate:     date,
	}
	if err := s.deps.Store.AddForecast(ctx, forecast); err != nil {
		s.internalError(w, "add forecast", err)
		return
	}
	writeJSON(w, http.StatusCreated, forecast)
}

// ownedBudget loads a budget and hides other users' budgets as not found.
func (s *Server) ownedBudget(ctx context.Context, id, userID string) (*model.Budget, error) {
	budget, err := s.deps.Store.GetBudget(ctx, id)
	if err != nil {
		return nil, err
	}
	if budget.UserID != userID {
		return nil, storage.ErrNotFound
	}
	return budget, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
