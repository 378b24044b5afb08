package storage

import (
	"database/sql"
	"fmt"
)

var migrations = []string{
	// Migration 1: budgets, rules, actuals, forecasts, insights
	`CREATE TABLE IF NOT EXISTS budgets (
		id             TEXT PRIMARY KEY,
		user_id        TEXT NOT NULL,
		department     TEXT NOT NULL,
		category       TEXT NOT NULL DEFAULT '',
		planned_amount TEXT NOT NULL DEFAULT '0',
		created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_budgets_user ON budgets(user_id);

	CREATE TABLE IF NOT EXISTS budget_rules (
		id                   TEXT PRIMARY KEY,
		user_id              TEXT NOT NULL,
		department           TEXT NOT NULL,
		rule_name            TEXT NOT NULL,
		threshold_percentage TEXT NOT NULL DEFAULT '10',
		is_active            INTEGER NOT NULL DEFAULT 1,
		created_at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_rules_user_department ON budget_rules(user_id, department);

	CREATE TABLE IF NOT EXISTS budget_actuals (
		id            TEXT PRIMARY KEY,
		budget_id     TEXT NOT NULL REFERENCES budgets(id) ON DELETE CASCADE,
		actual_amount TEXT NOT NULL DEFAULT '0',
		recorded_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_actuals_budget ON budget_actuals(budget_id);

	CREATE TABLE IF NOT EXISTS budget_forecasts (
		id                TEXT PRIMARY KEY,
		user_id           TEXT NOT NULL,
		budget_id         TEXT NOT NULL DEFAULT '',
		predicted_amount  TEXT NOT NULL DEFAULT '0',
		drift_percentage  TEXT NOT NULL DEFAULT '0',
		confidence_score  TEXT NOT NULL DEFAULT '0',
		ai_recommendation TEXT NOT NULL DEFAULT '',
		forecast_date     DATETIME NOT NULL,
		created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_forecasts_user_date ON budget_forecasts(user_id, forecast_date);

	CREATE TABLE IF NOT EXISTS ai_insights (
		id           TEXT PRIMARY KEY,
		user_id      TEXT NOT NULL,
		insight_type TEXT NOT NULL,
		title        TEXT NOT NULL,
		message      TEXT NOT NULL,
		priority     TEXT NOT NULL DEFAULT 'medium',
		confidence   REAL NOT NULL DEFAULT 0.0,
		metadata     TEXT DEFAULT '{}',
		created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_insights_user ON ai_insights(user_id, created_at);`,

	// Migration 2: proxy usage log
	`CREATE TABLE IF NOT EXISTS llm_calls (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL DEFAULT '',
		function_name TEXT NOT NULL,
		module_name   TEXT NOT NULL DEFAULT '',
		action_name   TEXT NOT NULL DEFAULT '',
		backend       TEXT NOT NULL DEFAULT '',
		model         TEXT NOT NULL DEFAULT '',
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		latency_ms    INTEGER NOT NULL DEFAULT 0,
		status        INTEGER NOT NULL DEFAULT 0,
		created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_calls_function ON llm_calls(function_name);
	CREATE INDEX IF NOT EXISTS idx_calls_created ON llm_calls(created_at);`,
}

// runMigrations applies pending schema migrations.
func runMigrations(db *sql.DB) error {
	// Ensure migration tracking table exists
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("check migration version: %w", err)
	}

	for i := currentVersion; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec(migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("run migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", i+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}

	return nil
}
