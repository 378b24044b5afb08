package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ogulcanaydogan/bi-sentinel/pkg/model"
)

// ErrNotFound is returned when a lookup by id matches no row.
var ErrNotFound = errors.New("not found")

// Storage defines the persistence layer for budgets, rules, actuals,
// forecasts, insights and proxy usage.
type Storage interface {
	// CreateBudget persists a new budget line.
	CreateBudget(ctx context.Context, budget *model.Budget) error

	// GetBudget retrieves a budget by id.
	GetBudget(ctx context.Context, id string) (*model.Budget, error)

	// ListBudgets returns a user's budgets in creation order.
	ListBudgets(ctx context.Context, userID string) ([]model.Budget, error)

	// AddActual records spend against a budget.
	AddActual(ctx context.Context, actual *model.BudgetActual) error

	// ListActuals returns all spend rows for a budget.
	ListActuals(ctx context.Context, budgetID string) ([]model.BudgetActual, error)

	// CreateRule persists a threshold rule.
	CreateRule(ctx context.Context, rule *model.BudgetRule) error

	// ListRules returns every rule owned by a user.
	ListRules(ctx context.Context, userID string) ([]model.BudgetRule, error)

	// ListActiveRules returns the user's active rules for one department.
	ListActiveRules(ctx context.Context, userID, department string) ([]model.BudgetRule, error)

	// AddForecast persists a forecast row.
	AddForecast(ctx context.Context, forecast *model.BudgetForecast) error

	// ListUpcomingForecasts returns up to limit forecasts dated on or after from.
	ListUpcomingForecasts(ctx context.Context, userID string, from time.Time, limit int) ([]model.BudgetForecast, error)

	// InsertInsight persists an insight row.
	InsertInsight(ctx context.Context, insight *model.Insight) error

	// ListInsights returns the user's most recent insights first.
	ListInsights(ctx context.Context, userID string, limit int) ([]model.Insight, error)

	// RecordCall persists one proxied LLM call.
	RecordCall(ctx context.Context, call *model.LLMCall) error

	// QueryCalls retrieves proxied calls matching the filter.
	QueryCalls(ctx context.Context, filter model.CallFilter) ([]model.LLMCall, error)

	// AggregateCalls summarises proxied calls matching the filter.
	AggregateCalls(ctx context.Context, filter model.CallFilter) (*model.CallSummary, error)

	// Close releases resources.
	Close() error
}
