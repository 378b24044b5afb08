package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ogulcanaydogan/bi-sentinel/internal/auth"
	"github.com/ogulcanaydogan/bi-sentinel/internal/config"
	"github.com/ogulcanaydogan/bi-sentinel/pkg/alerts"
	"github.com/ogulcanaydogan/bi-sentinel/pkg/evaluator"
	"github.com/ogulcanaydogan/bi-sentinel/pkg/gateway"
	"github.com/ogulcanaydogan/bi-sentinel/pkg/storage"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	cfgFile string
	userID  string
)

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "BI Sentinel - budget variance alerts and LLM analysis functions",
	Long: `BI Sentinel watches departmental budgets against recorded actuals and
forecasts, pushes threshold breaches to WebSocket clients, and serves
LLM-backed business analysis functions behind a prompt catalog.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.sentinel/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", os.Getenv("BIS_USER"), "user id that owns budgets, rules and forecasts")
}

// loadConfig loads the configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// requireUser returns the --user flag or an error when it is unset.
func requireUser() (string, error) {
	if userID == "" {
		return "", fmt.Errorf("--user (or BIS_USER) is required")
	}
	return userID, nil
}

// newLogger creates a structured logger from config.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}

// initStorage creates a storage backend from config.
func initStorage(cfg *config.Config) (storage.Storage, error) {
	return storage.NewSQLite(cfg.Storage.Path)
}

// initNotifiers creates alert notifiers from config.
func initNotifiers(cfg *config.Config) []alerts.Notifier {
	var notifiers []alerts.Notifier

	if cfg.Alerts.Slack.Enabled && cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alerts.NewSlackNotifier(
			cfg.Alerts.Slack.WebhookURL,
			cfg.Alerts.Slack.Channel,
		))
	}

	if cfg.Alerts.Webhook.Enabled && cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alerts.NewWebhookNotifier(
			cfg.Alerts.Webhook.URL,
			cfg.Alerts.Webhook.Secret,
		))
	}

	return notifiers
}

// initEvaluator creates a store-backed alert evaluator. The caller closes the store.
func initEvaluator(cfg *config.Config, logger *slog.Logger) (*evaluator.Evaluator, storage.Storage, error) {
	store, err := initStorage(cfg)
	if err != nil {
		return nil, nil, err
	}
	return evaluator.NewEvaluator(store, initNotifiers(cfg), logger), store, nil
}

// initGateways registers every backend that has enough configuration and
// selects gateway.backend as the default.
func initGateways(ctx context.Context, cfg *config.Config) (*gateway.Registry, error) {
	registry := gateway.NewRegistry()

	if cfg.Gateway.BaseURL != "" {
		openai := gateway.NewOpenAI(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.Model, cfg.Gateway.Timeout)
		if err := registry.Register(openai); err != nil {
			return nil, err
		}
	}

	if cfg.Gateway.GeminiAPIKey != "" {
		gemini, err := gateway.NewGemini(ctx, cfg.Gateway.GeminiAPIKey, cfg.Gateway.GeminiModel, cfg.Gateway.GeminiBaseURL)
		if err != nil {
			return nil, fmt.Errorf("init gemini gateway: %w", err)
		}
		if err := registry.Register(gemini); err != nil {
			return nil, err
		}
	}

	if err := registry.SetDefault(cfg.Gateway.Backend); err != nil {
		return nil, fmt.Errorf("select gateway backend: %w", err)
	}
	return registry, nil
}

// initAuthenticator creates the bearer token issuer/verifier.
func initAuthenticator(cfg *config.Config) (*auth.Authenticator, error) {
	a, err := auth.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("init authenticator: %w", err)
	}
	return a, nil
}
