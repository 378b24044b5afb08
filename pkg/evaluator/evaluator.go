package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ogulcanaydogan/bi-sentinel/pkg/alerts"
	"github.com/ogulcanaydogan/bi-sentinel/pkg/model"
	"github.com/shopspring/decimal"
)

const (
	forecastLimit     = 10
	insightType       = "budget_alert"
	insightPriority   = "high"
	insightConfidence = 0.95
)

// Source is the slice of storage the evaluator reads from and writes insights to.
type Source interface {
	ListBudgets(ctx context.Context, userID string) ([]model.Budget, error)
	ListActuals(ctx context.Context, budgetID string) ([]model.BudgetActual, error)
	ListActiveRules(ctx context.Context, userID, department string) ([]model.BudgetRule, error)
	ListUpcomingForecasts(ctx context.Context, userID string, from time.Time, limit int) ([]model.BudgetForecast, error)
	InsertInsight(ctx context.Context, insight *model.Insight) error
}

// Evaluator computes the current threshold-breaching alerts for a user.
type Evaluator struct {
	source    Source
	notifiers []alerts.Notifier
	logger    *slog.Logger
	now       func() time.Time
}

// NewEvaluator creates an evaluator backed by the given source.
func NewEvaluator(source Source, notifiers []alerts.Notifier, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		source:    source,
		notifiers: notifiers,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the evaluator's time source.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// Evaluate returns the user's alerts in budget order followed by forecast
// order. An empty result means every budget is nominal. Critical alerts are
// persisted as insights on a best-effort basis.
func (e *Evaluator) Evaluate(ctx context.Context, userID string) ([]model.Alert, error) {
	now := e.now().UTC()

	budgets, err := e.source.ListBudgets(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}

	result := make([]model.Alert, 0)
	for _, budget := range budgets {
		budgetAlerts, err := e.evaluateBudget(ctx, userID, budget, now)
		if err != nil {
			e.logger.Error("skip budget", "user_id", userID, "budget_id", budget.ID, "error", err)
			continue
		}
		result = append(result, budgetAlerts...)
	}

	forecasts, err := e.source.ListUpcomingForecasts(ctx, userID, model.StartOfDay(now), forecastLimit)
	if err != nil {
		e.logger.Error("skip forecast alerts", "user_id", userID, "error", err)
	} else {
		for _, f := range forecasts {
			if alert, ok := forecastAlert(f, now); ok {
				result = append(result, alert)
			}
		}
	}

	for _, alert := range result {
		if alert.IsCritical() {
			e.persistCritical(ctx, userID, alert)
		}
	}

	return result, nil
}

func (e *Evaluator) evaluateBudget(ctx context.Context, userID string, budget model.Budget, now time.Time) ([]model.Alert, error) {
	actuals, err := e.source.ListActuals(ctx, budget.ID)
	if err != nil {
		return nil, fmt.Errorf("list actuals: %w", err)
	}

	totalActual := decimal.Zero
	for _, a := range actuals {
		totalActual = totalActual.Add(a.ActualAmount)
	}
	variance := Variance(totalActual, budget.PlannedAmount)

	rules, err := e.source.ListActiveRules(ctx, userID, budget.Department)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	var out []model.Alert
	for _, rule := range rules {
		severity, breached := ClassifyVariance(variance, rule.ThresholdPercentage)
		if !breached {
			continue
		}
		out = append(out, model.Alert{
			Type:       alertType(variance),
			Department: budget.Department,
			Category:   budget.Category,
			Variance:   variance.StringFixed(2),
			Threshold:  floatPtr(rule.ThresholdPercentage),
			Actual:     floatPtr(totalActual),
			Planned:    floatPtr(budget.PlannedAmount),
			RuleName:   rule.RuleName,
			Severity:   severity,
			Timestamp:  now,
		})
	}
	return out, nil
}

func forecastAlert(f model.BudgetForecast, now time.Time) (model.Alert, bool) {
	severity, breached := ClassifyDrift(f.DriftPercentage)
	if !breached {
		return model.Alert{}, false
	}
	return model.Alert{
		Type:            model.AlertForecastDrift,
		Department:      "N/A",
		Category:        "forecast",
		Drift:           f.DriftPercentage.StringFixed(2),
		PredictedAmount: floatPtr(f.PredictedAmount),
		ForecastDate:    f.ForecastDate.UTC().Format(time.DateOnly),
		Confidence:      floatPtr(f.ConfidenceScore),
		Recommendation:  f.AIRecommendation,
		Severity:        severity,
		Timestamp:       now,
	}, true
}

// persistCritical stores an insight and notifies external systems. Failures
// are logged and never reach the caller.
func (e *Evaluator) persistCritical(ctx context.Context, userID string, alert model.Alert) {
	message := describe(alert)

	metadata, err := json.Marshal(alert)
	if err != nil {
		e.logger.Error("marshal insight metadata", "user_id", userID, "error", err)
		metadata = []byte("{}")
	}

	insight := &model.Insight{
		UserID:      userID,
		InsightType: insightType,
		Title:       fmt.Sprintf("Critical %s alert", alert.Type),
		Message:     message,
		Priority:    insightPriority,
		Confidence:  insightConfidence,
		Metadata:    string(metadata),
	}
	if err := e.source.InsertInsight(ctx, insight); err != nil {
		e.logger.Warn("insert insight failed", "user_id", userID, "type", alert.Type, "error", err)
	}

	e.logger.Warn("critical budget alert",
		"user_id", userID,
		"type", alert.Type,
		"department", alert.Department,
		"category", alert.Category,
	)

	n := alerts.Notification{UserID: userID, Alert: alert, Message: message}
	for _, notifier := range e.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			e.logger.Error("send alert failed",
				"notifier", notifier.Name(),
				"user_id", userID,
				"error", err,
			)
		}
	}
}

func describe(a model.Alert) string {
	if a.Type == model.AlertForecastDrift {
		return fmt.Sprintf("Forecast for %s drifts %s%% from baseline", a.ForecastDate, a.Drift)
	}
	threshold := 0.0
	if a.Threshold != nil {
		threshold = *a.Threshold
	}
	return fmt.Sprintf("%s/%s variance %s%% exceeds rule %q threshold of %g%%",
		a.Department, a.Category, a.Variance, a.RuleName, threshold)
}
