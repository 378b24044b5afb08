package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/bi-sentinel/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLite implements the Storage interface using an SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens or creates an SQLite database at the given path.
func NewSQLite(dbPath string) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) CreateBudget(ctx context.Context, budget *model.Budget) error {
	if budget.ID == "" {
		budget.ID = uuid.New().String()
	}
	if budget.CreatedAt.IsZero() {
		budget.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budgets (id, user_id, department, category, planned_amount, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		budget.ID, budget.UserID, budget.Department, budget.Category,
		budget.PlannedAmount.String(), budget.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert budget: %w", err)
	}
	return nil
}

func (s *SQLite) GetBudget(ctx context.Context, id string) (*model.Budget, error) {
	var b model.Budget
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, department, category, planned_amount, created_at
		 FROM budgets WHERE id = ?`, id,
	).Scan(&b.ID, &b.UserID, &b.Department, &b.Category, &b.PlannedAmount, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("budget %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get budget: %w", err)
	}
	return &b, nil
}

func (s *SQLite) ListBudgets(ctx context.Context, userID string) ([]model.Budget, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, department, category, planned_amount, created_at
		 FROM budgets WHERE user_id = ? ORDER BY created_at, rowid`, userID)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	defer rows.Close()

	var budgets []model.Budget
	for rows.Next() {
		var b model.Budget
		if err := rows.Scan(&b.ID, &b.UserID, &b.Department, &b.Category, &b.PlannedAmount, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan budget row: %w", err)
		}
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}

func (s *SQLite) AddActual(ctx context.Context, actual *model.BudgetActual) error {
	if actual.ID == "" {
		actual.ID = uuid.New().String()
	}
	if actual.RecordedAt.IsZero() {
		actual.RecordedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budget_actuals (id, budget_id, actual_amount, recorded_at) VALUES (?, ?, ?, ?)`,
		actual.ID, actual.BudgetID, actual.ActualAmount.String(), actual.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert actual: %w", err)
	}
	return nil
}

func (s *SQLite) ListActuals(ctx context.Context, budgetID string) ([]model.BudgetActual, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, budget_id, actual_amount, recorded_at
		 FROM budget_actuals WHERE budget_id = ? ORDER BY recorded_at, rowid`, budgetID)
	if err != nil {
		return nil, fmt.Errorf("list actuals: %w", err)
	}
	defer rows.Close()

	var actuals []model.BudgetActual
	for rows.Next() {
		var a model.BudgetActual
		if err := rows.Scan(&a.ID, &a.BudgetID, &a.ActualAmount, &a.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan actual row: %w", err)
		}
		actuals = append(actuals, a)
	}
	return actuals, rows.Err()
}

func (s *SQLite) CreateRule(ctx context.Context, rule *model.BudgetRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budget_rules (id, user_id, department, rule_name, threshold_percentage, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.UserID, rule.Department, rule.RuleName,
		rule.ThresholdPercentage.String(), rule.IsActive, rule.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

const ruleColumns = `id, user_id, department, rule_name, threshold_percentage, is_active, created_at`

func (s *SQLite) ListRules(ctx context.Context, userID string) ([]model.BudgetRule, error) {
	return s.queryRules(ctx,
		`SELECT `+ruleColumns+` FROM budget_rules WHERE user_id = ? ORDER BY department, created_at, rowid`,
		userID)
}

func (s *SQLite) ListActiveRules(ctx context.Context, userID, department string) ([]model.BudgetRule, error) {
	return s.queryRules(ctx,
		`SELECT `+ruleColumns+` FROM budget_rules
		 WHERE user_id = ? AND department = ? AND is_active = 1 ORDER BY created_at, rowid`,
		userID, department)
}

func (s *SQLite) queryRules(ctx context.Context, query string, args ...any) ([]model.BudgetRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var rules []model.BudgetRule
	for rows.Next() {
		var r model.BudgetRule
		if err := rows.Scan(&r.ID, &r.UserID, &r.Department, &r.RuleName,
			&r.ThresholdPercentage, &r.IsActive, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rule row: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *SQLite) AddForecast(ctx context.Context, f *model.BudgetForecast) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	f.ForecastDate = model.StartOfDay(f.ForecastDate)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO budget_forecasts (id, user_id, budget_id, predicted_amount, drift_percentage,
		   confidence_score, ai_recommendation, forecast_date, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.UserID, f.BudgetID, f.PredictedAmount.String(), f.DriftPercentage.String(),
		f.ConfidenceScore.String(), f.AIRecommendation, f.ForecastDate, f.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert forecast: %w", err)
	}
	return nil
}

func (s *SQLite) ListUpcomingForecasts(ctx context.Context, userID string, from time.Time, limit int) ([]model.BudgetForecast, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, budget_id, predicted_amount, drift_percentage, confidence_score,
		   ai_recommendation, forecast_date, created_at
		 FROM budget_forecasts
		 WHERE user_id = ? AND forecast_date >= ?
		 ORDER BY forecast_date, rowid
		 LIMIT ?`, userID, model.StartOfDay(from), limit)
	if err != nil {
		return nil, fmt.Errorf("list forecasts: %w", err)
	}
	defer rows.Close()

	var forecasts []model.BudgetForecast
	for rows.Next() {
		var f model.BudgetForecast
		if err := rows.Scan(&f.ID, &f.UserID, &f.BudgetID, &f.PredictedAmount, &f.DriftPercentage,
			&f.ConfidenceScore, &f.AIRecommendation, &f.ForecastDate, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan forecast row: %w", err)
		}
		forecasts = append(forecasts, f)
	}
	return forecasts, rows.Err()
}

func (s *SQLite) InsertInsight(ctx context.Context, insight *model.Insight) error {
	if insight.ID == "" {
		insight.ID = uuid.New().String()
	}
	if insight.CreatedAt.IsZero() {
		insight.CreatedAt = time.Now().UTC()
	}
	if insight.Metadata == "" {
		insight.Metadata = "{}"
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ai_insights (id, user_id, insight_type, title, message, priority, confidence, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		insight.ID, insight.UserID, insight.InsightType, insight.Title, insight.Message,
		insight.Priority, insight.Confidence, insight.Metadata, insight.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert insight: %w", err)
	}
	return nil
}

func (s *SQLite) ListInsights(ctx context.Context, userID string, limit int) ([]model.Insight, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, insight_type, title, message, priority, confidence, metadata, created_at
		 FROM ai_insights WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	defer rows.Close()

	var insights []model.Insight
	for rows.Next() {
		var i model.Insight
		if err := rows.Scan(&i.ID, &i.UserID, &i.InsightType, &i.Title, &i.Message,
			&i.Priority, &i.Confidence, &i.Metadata, &i.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan insight row: %w", err)
		}
		insights = append(insights, i)
	}
	return insights, rows.Err()
}

func (s *SQLite) RecordCall(ctx context.Context, call *model.LLMCall) error {
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO llm_calls (id, user_id, function_name, module_name, action_name, backend, model, prompt_tokens, latency_ms, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.ID, call.UserID, call.Function, call.Module, call.Action, call.Backend, call.Model,
		call.PromptTokens, call.LatencyMS, call.Status, call.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert llm call: %w", err)
	}
	return nil
}

func (s *SQLite) QueryCalls(ctx context.Context, filter model.CallFilter) ([]model.LLMCall, error) {
	query := `SELECT id, user_id, function_name, module_name, action_name, backend, model, prompt_tokens, latency_ms, status, created_at
		FROM llm_calls`
	where, args := buildWhereClause(filter)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query llm calls: %w", err)
	}
	defer rows.Close()

	var calls []model.LLMCall
	for rows.Next() {
		var c model.LLMCall
		if err := rows.Scan(&c.ID, &c.UserID, &c.Function, &c.Module, &c.Action, &c.Backend, &c.Model,
			&c.PromptTokens, &c.LatencyMS, &c.Status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan llm call row: %w", err)
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

func (s *SQLite) AggregateCalls(ctx context.Context, filter model.CallFilter) (*model.CallSummary, error) {
	query := `SELECT
		COUNT(*),
		COALESCE(SUM(prompt_tokens), 0),
		COALESCE(SUM(CASE WHEN status >= 400 THEN 1 ELSE 0 END), 0)
	FROM llm_calls`
	where, args := buildWhereClause(filter)
	if where != "" {
		query += " WHERE " + where
	}

	summary := &model.CallSummary{}
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&summary.TotalCalls,
		&summary.TotalPromptTokens,
		&summary.FailedCalls,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregate llm calls: %w", err)
	}

	byFunction := "SELECT function_name, COUNT(*) FROM llm_calls"
	if where != "" {
		byFunction += " WHERE " + where
	}
	byFunction += " GROUP BY function_name"

	rows, err := s.db.QueryContext(ctx, byFunction, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate by function: %w", err)
	}
	defer rows.Close()

	summary.ByFunction = make(map[string]int64)
	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return nil, fmt.Errorf("scan function aggregate: %w", err)
		}
		summary.ByFunction[name] = count
	}
	return summary, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// buildWhereClause constructs a SQL WHERE clause from a CallFilter.
func buildWhereClause(filter model.CallFilter) (string, []any) {
	var conditions []string
	var args []any

	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Function != "" {
		conditions = append(conditions, "function_name = ?")
		args = append(args, filter.Function)
	}
	if !filter.StartTime.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.StartTime.UTC())
	}
	if !filter.EndTime.IsZero() {
		conditions = append(conditions, "created_at < ?")
		args = append(args, filter.EndTime.UTC())
	}

	return strings.Join(conditions, " AND "), args
}
