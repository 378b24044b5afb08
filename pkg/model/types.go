package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Budget is a planned spend for one department/category line.
type Budget struct {
	ID            string          `json:"id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	Department    string          `json:"department" db:"department"`
	Category      string          `json:"category" db:"category"`
	PlannedAmount decimal.Decimal `json:"planned_amount" db:"planned_amount"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// BudgetRule is a per-department variance threshold.
type BudgetRule struct {
	ID                  string          `json:"id" db:"id"`
	UserID              string          `json:"user_id" db:"user_id"`
	Department          string          `json:"department" db:"department"`
	RuleName            string          `json:"rule_name" db:"rule_name"`
	ThresholdPercentage decimal.Decimal `json:"threshold_percentage" db:"threshold_percentage"`
	IsActive            bool            `json:"is_active" db:"is_active"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
}

// BudgetActual is one recorded spend against a budget.
type BudgetActual struct {
	ID           string          `json:"id" db:"id"`
	BudgetID     string          `json:"budget_id" db:"budget_id"`
	ActualAmount decimal.Decimal `json:"actual_amount" db:"actual_amount"`
	RecordedAt   time.Time       `json:"recorded_at" db:"recorded_at"`
}

// BudgetForecast is a prediction produced by an external forecasting job.
type BudgetForecast struct {
	ID               string          `json:"id" db:"id"`
	UserID           string          `json:"user_id" db:"user_id"`
	BudgetID         string          `json:"budget_id,omitempty" db:"budget_id"`
	PredictedAmount  decimal.Decimal `json:"predicted_amount" db:"predicted_amount"`
	DriftPercentage  decimal.Decimal `json:"drift_percentage" db:"drift_percentage"`
	ConfidenceScore  decimal.Decimal `json:"confidence_score" db:"confidence_score"`
	AIRecommendation string          `json:"ai_recommendation" db:"ai_recommendation"`
	ForecastDate     time.Time       `json:"forecast_date" db:"forecast_date"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// Insight is a persisted, human-readable record derived from a critical alert.
type Insight struct {
	ID          string    `json:"id" db:"id"`
	UserID      string    `json:"user_id" db:"user_id"`
	InsightType string    `json:"insight_type" db:"insight_type"`
	Title       string    `json:"title" db:"title"`
	Message     string    `json:"message" db:"message"`
	Priority    string    `json:"priority" db:"priority"`
	Confidence  float64   `json:"confidence" db:"confidence"`
	Metadata    string    `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// LLMCall records one proxied gateway request.
type LLMCall struct {
	ID           string    `json:"id" db:"id"`
	UserID       string    `json:"user_id" db:"user_id"`
	Function     string    `json:"function" db:"function_name"`
	Module       string    `json:"module" db:"module_name"`
	Action       string    `json:"action" db:"action_name"`
	Backend      string    `json:"backend" db:"backend"`
	Model        string    `json:"model" db:"model"`
	PromptTokens int64     `json:"prompt_tokens" db:"prompt_tokens"`
	LatencyMS    int64     `json:"latency_ms" db:"latency_ms"`
	Status       int       `json:"status" db:"status"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// CallFilter controls which LLM calls are included in usage reports.
type CallFilter struct {
	UserID    string    `json:"user_id,omitempty"`
	Function  string    `json:"function,omitempty"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
}

// CallSummary holds aggregated proxy usage.
type CallSummary struct {
	TotalCalls        int64            `json:"total_calls"`
	TotalPromptTokens int64            `json:"total_prompt_tokens"`
	FailedCalls       int64            `json:"failed_calls"`
	ByFunction        map[string]int64 `json:"by_function,omitempty"`
}

// Period names a reporting window.
type Period string

const (
	PeriodDaily   Period = "daily"
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// PeriodBounds returns the start and end of the period containing now.
func PeriodBounds(period Period, now time.Time) (start, end time.Time) {
	day := StartOfDay(now)
	switch period {
	case PeriodWeekly:
		weekday := int(day.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		start = day.AddDate(0, 0, -weekday+1)
		end = start.AddDate(0, 0, 7)
	case PeriodMonthly:
		start = time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, 0)
	default:
		start = day
		end = start.AddDate(0, 0, 1)
	}
	return start, end
}
