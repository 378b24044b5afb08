package evaluator_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/ogulcanaydogan/bi-sentinel/pkg/alerts"
	"github.com/ogulcanaydogan/bi-sentinel/pkg/evaluator"
	"github.com/ogulcanaydogan/bi-sentinel/pkg/model"
	"github.com/ogulcanaydogan/bi-sentinel/pkg/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memSource is an in-memory Source with per-call failure injection.
type memSource struct {
	mu          sync.Mutex
	budgets     []model.Budget
	actuals     map[string][]model.BudgetActual
	rules       []model.BudgetRule
	forecasts   []model.BudgetForecast
	insights    []model.Insight
	failActuals map[string]bool
	failRules   bool
	failFcast   bool
	failInsight bool
	failBudgets bool
}

func newMemSource() *memSource {
	return &memSource{actuals: map[string][]model.BudgetActual{}, failActuals: map[string]bool{}}
}

func (m *memSource) addBudget(id, dept, category, planned string, actuals ...string) {
	m.budgets = append(m.budgets, model.Budget{ID: id, UserID: "user-1", Department: dept, Category: category, PlannedAmount: d(planned)})
	for _, a := range actuals {
		m.actuals[id] = append(m.actuals[id], model.BudgetActual{BudgetID: id, ActualAmount: d(a)})
	}
}

func (m *memSource) addRule(dept, name, threshold string, active bool) {
	m.rules = append(m.rules, model.BudgetRule{UserID: "user-1", Department: dept, RuleName: name, ThresholdPercentage: d(threshold), IsActive: active})
}

func (m *memSource) ListBudgets(_ context.Context, userID string) ([]model.Budget, error) {
	if m.failBudgets {
		return nil, errors.New("db down")
	}
	var out []model.Budget
	for _, b := range m.budgets {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *memSource) ListActuals(_ context.Context, budgetID string) ([]model.BudgetActual, error) {
	if m.failActuals[budgetID] {
		return nil, errors.New("actuals unavailable")
	}
	return m.actuals[budgetID], nil
}

func (m *memSource) ListActiveRules(_ context.Context, userID, department string) ([]model.BudgetRule, error) {
	if m.failRules {
		return nil, errors.New("rules unavailable")
	}
	var out []model.BudgetRule
	for _, r := range m.rules {
		if r.UserID == userID && r.Department == department && r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memSource) ListUpcomingForecasts(_ context.Context, _ string, from time.Time, limit int) ([]model.BudgetForecast, error) {
	if m.failFcast {
		return nil, errors.New("forecasts unavailable")
	}
	var out []model.BudgetForecast
	for _, f := range m.forecasts {
		if !f.ForecastDate.Before(from) && len(out) < limit {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memSource) InsertInsight(_ context.Context, insight *model.Insight) error {
	if m.failInsight {
		return errors.New("insert failed")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insights = append(m.insights, *insight)
	return nil
}

func newEvaluator(src evaluator.Source, notifiers ...alerts.Notifier) *evaluator.Evaluator {
	return evaluator.NewEvaluator(src, notifiers, testLogger()).WithClock(func() time.Time { return fixedNow })
}

func TestEvaluate_OverspendCritical(t *testing.T) {
	src := newMemSource()
	src.addBudget("b1", "marketing", "ads", "10000", "13000")
	src.addRule("marketing", "monthly-cap", "10", true)

	got, err := newEvaluator(src).Evaluate(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, got, 1)

	alert := got[0]
	assert.Equal(t, model.AlertOverspend, alert.Type)
	assert.Equal(t, "30.00", alert.Variance)
	assert.Equal(t, model.SeverityCritical, alert.Severity)
	assert.Equal(t, "marketing", alert.Department)
	assert.Equal(t, "ads", alert.Category)
	assert.Equal(t, "monthly-cap", alert.RuleName)
	assert.InDelta(t, 10.0, *alert.Threshold, 1e-9)
	assert.InDelta(t, 13000.0, *alert.Actual, 1e-9)
	assert.InDelta(t, 10000.0, *alert.Planned, 1e-9)
	assert.Equal(t, fixedNow, alert.Timestamp)
}

func TestEvaluate_UnderThresholdNoAlert(t *testing.T) {
	src := newMemSource()
	src.addBudget("b1", "marketing", "ads", "10000", "10800")
	src.addRule("marketing", "monthly-cap", "10", true)

	got, err := newEvaluator(src).Evaluate(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
	assert.Empty(t, src.insights)
}

func TestEvaluate_ZeroPlannedNeverAlerts(t *testing.T) {
	src := newMemSource()
	src.addBudget("b1", "ops", "cloud", "0", "5000")
	src.addRule("ops", "strict", "1", true)

	got, err := newEvaluator(src).Evaluate(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEvaluate_ActualsSummed(t *testing.T) {
	src := newMemSource()
	src.addBudget("b1", "sales", "travel", "1000", "400", "400", "360")
	src.addRule("sales", "travel-cap", "10", true)

	got, err := newEvaluator(src).Evaluate(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "16.00", got[0].Variance)
	assert.Equal(t, model.SeverityHigh, got[0].Severity)
}

func TestEvaluate_Underspend(t *testing.T) {
	src := newMemSource()
	src.addBudget("b1", "hr", "training", "2000", "1500")
	src.addRule("hr", "use-it", "20", true)

	got, err := newEvaluator(src).Evaluate(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.AlertUnderspend, got[0].Type)
	assert.Equal(t, "-25.00", got[0].Variance)
	assert.Equal(t, model.SeverityMedium, got[0].Severity)
}

func TestEvaluate_OneAlertPerBreachingRule(t *testing.T) {
	src := newMemSource()
	src.addBudget("b1", "marketing", "ads", "10000", "12500")
	src.addRule("marketing", "loose", "30", true)
	src.addRule("marketing", "medium", "20", true)
	src.addRule("marketing", "tight", "5", true)
	src.addRule("marketing", "inactive", "1", false)
	src.addRule("sales", "other-dept", "1", true)

	got, err := newEvaluator(src).Evaluate(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "medium", got[0].RuleName)
	assert.Equal(t, model.SeverityMedium, got[0].Severity)
	assert.Equal(t, "tight", got[1].RuleName)
	assert.Equal(t, model.SeverityCritical, got[1].Severity)
}

func TestEvaluate_ForecastDrift(t *testing.T) {
	src := newMemSource()
	src.forecasts = []model.BudgetForecast{
		{PredictedAmount: d("9000"), DriftPercentage: d("5"), ForecastDate: fixedNow},
		{PredictedAmount: d("8000"), DriftPercentage: d("-22"), ConfidenceScore: d("0.8"), AIRecommendation: "cut spend", ForecastDate: model.StartOfDay(fixedNow).AddDate(0, 0, 1)},
		{PredictedAmount: d("7000"), DriftPercentage: d("15"), ForecastDate: model.StartOfDay(fixedNow).AddDate(0, 0, 2)},
	}

	got, err := newEvaluator(src).Evaluate(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, model.AlertForecastDrift, got[0].Type)
	assert.Equal(t, "-22.00", got[0].Drift)
	assert.Equal(t, model.SeverityCritical, got[0].Severity)
	assert.Equal(t, "N/A", got[0].Department)
	assert.Equal(t, "forecast", got[0].Category)
	assert.Equal(t, "2026-10-20", got[0].ForecastDate)
	assert.Equal(t, "cut spend", got[0].Recommendation)
	assert.InDelta(t, 0.8, *got[0].Confidence, 1e-9)

	assert.Equal(t, "15.00", got[1].Drift)
	assert.Equal(t, model.SeverityMedium, got[1].Severity)
}

func TestEvaluate_OrderBudgetsThenForecasts(t *testing.T) {
	src := newMemSource()
	src.addBudget("b1", "sales", "travel", "100", "150")
	src.addBudget("b2", "ops", "cloud", "100", "40")
	src.addRule("sales", "s", "10", true)
	src.addRule("ops", "o", "10", true)
	src.forecasts = []model.BudgetForecast{{DriftPercentage: d("12"), ForecastDate: fixedNow}}

	got, err := newEvaluator(src).Evaluate(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "sales", got[0].Department)
	assert.Equal(t, "ops", got[1].Department)
	assert.Equal(t, model.AlertForecastDrift, got[2].Type)
}

func TestEvaluate_ActualsFailureSkipsOnlyThatBudget(t *testing.T) {
	src := newMemSource()
	src.addBudget("broken", "sales", "travel", "100", "500")
	src.addBudget("ok", "sales", "meals", "100", "500")
	src.addRule("sales", "s", "10", true)
	src.failActuals["broken"] = true

	got, err := newEvaluator(src).Evaluate(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "meals", got[0].Category)
}

func TestEvaluate_RulesFailureSkipsBudgets(t *testing.T) {
	src := newMemSource()
	src.addBudget("b1", "sales", "travel", "100", "500")
	src.forecasts = []model.BudgetForecast{{DriftPercentage: d("25"), ForecastDate: fixedNow}}
	src.failRules = true

	got, err := newEvaluator(src).Evaluate(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.AlertForecastDrift, got[0].Type)
}

func TestEvaluate_ForecastFailureKeepsBudgetAlerts(t *testing.T) {
	src := newMemSource()
	src.addBudget("b1", "sales", "travel", "100", "150")
	src.addRule("sales", "s", "10", true)
	src.failFcast = true

	got, err := newEvaluator(src).Evaluate(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.AlertOverspend, got[0].Type)
}

func TestEvaluate_ListBudgetsFailure(t *testing.T) {
	src := newMemSource()
	src.failBudgets = true

	_, err := newEvaluator(src).Evaluate(context.Background(), "user-1")
	assert.Error(t, err)
}

func TestEvaluate_CriticalAlertsPersistInsights(t *testing.T) {
	src := newMemSource()
	src.addBudget("b1", "marketing", "ads", "10000", "13000")
	src.addBudget("b2", "sales", "travel", "10000", "11600")
	src.addRule("marketing", "cap", "10", true)
	src.addRule("sales", "cap", "10", true)

	got, err := newEvaluator(src).Evaluate(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.Len(t, src.insights, 1)
	insight := src.insights[0]
	assert.Equal(t, "user-1", insight.UserID)
	assert.Equal(t, "budget_alert", insight.InsightType)
	assert.Equal(t, "high", insight.Priority)
	assert.InDelta(t, 0.95, insight.Confidence, 1e-9)
	assert.Contains(t, insight.Message, "30.00%")

	var meta model.Alert
	require.NoError(t, json.Unmarshal([]byte(insight.Metadata), &meta))
	assert.Equal(t, "30.00", meta.Variance)
	assert.Equal(t, model.SeverityCritical, meta.Severity)
}

func TestEvaluate_InsightFailureDoesNotAbort(t *testing.T) {
	src := newMemSource()
	src.addBudget("b1", "marketing", "ads", "10000", "13000")
	src.addRule("marketing", "cap", "10", true)
	src.failInsight = true

	got, err := newEvaluator(src).Evaluate(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestEvaluate_CriticalAlertsNotified(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	src := newMemSource()
	src.addBudget("b1", "marketing", "ads", "10000", "13000")
	src.addBudget("b2", "sales", "travel", "10000", "11200")
	src.addRule("marketing", "cap", "10", true)
	src.addRule("sales", "cap", "10", true)

	_, err := newEvaluator(src, alerts.NewWebhookNotifier(server.URL, "")).Evaluate(context.Background(), "user-1")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestEvaluate_Idempotent(t *testing.T) {
	src := newMemSource()
	src.addBudget("b1", "marketing", "ads", "10000", "13000")
	src.addBudget("b2", "sales", "travel", "500", "560")
	src.addRule("marketing", "cap", "10", true)
	src.addRule("sales", "cap", "10", true)
	src.forecasts = []model.BudgetForecast{{DriftPercentage: d("-22"), ForecastDate: fixedNow}}

	budgetsBefore := append([]model.Budget(nil), src.budgets...)

	ev := newEvaluator(src)
	first, err := ev.Evaluate(context.Background(), "user-1")
	require.NoError(t, err)
	second, err := ev.Evaluate(context.Background(), "user-1")
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second evaluation differs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(budgetsBefore, src.budgets, cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })); diff != "" {
		t.Errorf("budgets mutated (-before +after):\n%s", diff)
	}
}

func TestEvaluate_WithSQLite(t *testing.T) {
	store, err := storage.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	ctx := context.Background()

	budget := &model.Budget{UserID: "user-1", Department: "marketing", Category: "ads", PlannedAmount: d("10000")}
	require.NoError(t, store.CreateBudget(ctx, budget))
	require.NoError(t, store.AddActual(ctx, &model.BudgetActual{BudgetID: budget.ID, ActualAmount: d("6500")}))
	require.NoError(t, store.AddActual(ctx, &model.BudgetActual{BudgetID: budget.ID, ActualAmount: d("6500")}))
	require.NoError(t, store.CreateRule(ctx, &model.BudgetRule{UserID: "user-1", Department: "marketing", RuleName: "cap", ThresholdPercentage: d("10"), IsActive: true}))
	require.NoError(t, store.AddForecast(ctx, &model.BudgetForecast{UserID: "user-1", DriftPercentage: d("-22"), ForecastDate: fixedNow}))
	require.NoError(t, store.AddForecast(ctx, &model.BudgetForecast{UserID: "user-1", DriftPercentage: d("-50"), ForecastDate: fixedNow.AddDate(0, 0, -3)}))

	ev := evaluator.NewEvaluator(store, nil, testLogger()).WithClock(func() time.Time { return fixedNow })
	got, err := ev.Evaluate(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "30.00", got[0].Variance)
	assert.Equal(t, model.SeverityCritical, got[0].Severity)
	assert.Equal(t, "-22.00", got[1].Drift)

	insights, err := store.ListInsights(ctx, "user-1", 10)
	require.NoError(t, err)
	assert.Len(t, insights, 2)
}
