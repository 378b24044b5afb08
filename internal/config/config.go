package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all BI Sentinel configuration.
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	Server   ServerConfig   `mapstructure:"server"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Prompts  PromptsConfig  `mapstructure:"prompts"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// StorageConfig defines database settings.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig defines the HTTP listener.
type ServerConfig struct {
	Listen          string        `mapstructure:"listen"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
}

// RealtimeConfig tunes the budget-alert WebSocket sessions.
type RealtimeConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// AuthConfig defines bearer token settings.
type AuthConfig struct {
	JWTSecret           string        `mapstructure:"jwt_secret"`
	Issuer              string        `mapstructure:"issuer"`
	TokenTTL            time.Duration `mapstructure:"token_ttl"`
	RequireForFunctions bool          `mapstructure:"require_for_functions"`
}

// GatewayConfig selects and configures the LLM backend.
type GatewayConfig struct {
	Backend         string        `mapstructure:"backend"`
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	Model           string        `mapstructure:"model"`
	GeminiAPIKey    string        `mapstructure:"gemini_api_key"`
	GeminiModel     string        `mapstructure:"gemini_model"`
	GeminiBaseURL   string        `mapstructure:"gemini_base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxPromptTokens int64         `mapstructure:"max_prompt_tokens"`
}

// PromptsConfig points at an optional prompt catalog override.
type PromptsConfig struct {
	Path string `mapstructure:"path"`
}

// AlertsConfig defines outbound integrations for critical alerts.
type AlertsConfig struct {
	Slack   SlackConfig   `mapstructure:"slack"`
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// SlackConfig defines Slack webhook settings.
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
}

// WebhookConfig defines generic webhook settings.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Secret  string `mapstructure:"secret"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("find home directory: %w", err)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(filepath.Join(home, ".sentinel"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Defaults
	v.SetDefault("storage.path", filepath.Join(home, ".sentinel", "sentinel.db"))
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "90s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.max_body_size", 1<<20) // 1 MB
	v.SetDefault("realtime.interval", "30s")
	v.SetDefault("realtime.pong_wait", "60s")
	v.SetDefault("realtime.write_wait", "10s")
	v.SetDefault("realtime.send_buffer", 16)
	v.SetDefault("auth.issuer", "bi-sentinel")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.require_for_functions", true)
	v.SetDefault("gateway.backend", "openai")
	v.SetDefault("gateway.base_url", "https://api.openai.com/v1")
	v.SetDefault("gateway.model", "gpt-4o-mini")
	v.SetDefault("gateway.gemini_model", "gemini-2.5-flash")
	v.SetDefault("gateway.timeout", "60s")
	v.SetDefault("gateway.temperature", 0.7)
	v.SetDefault("gateway.max_prompt_tokens", 8000)
	v.SetDefault("alerts.slack.channel", "#budget-alerts")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Environment variables
	v.SetEnvPrefix("BIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only resolves keys viper already knows about.
	for _, key := range []string{"auth.jwt_secret", "gateway.api_key", "gateway.gemini_api_key", "gateway.gemini_base_url", "prompts.path"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Storage.Path = expandHome(cfg.Storage.Path, home)
	cfg.Prompts.Path = expandHome(cfg.Prompts.Path, home)

	return &cfg, nil
}

// Validate checks settings the server cannot start without.
func (c *Config) Validate() error {
	switch c.Gateway.Backend {
	case "openai":
		if c.Gateway.BaseURL == "" {
			return fmt.Errorf("gateway.base_url is required for the openai backend")
		}
	case "gemini":
		if c.Gateway.GeminiAPIKey == "" {
			return fmt.Errorf("gateway.gemini_api_key is required for the gemini backend")
		}
	default:
		return fmt.Errorf("gateway.backend %q is not supported", c.Gateway.Backend)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Realtime.Interval <= 0 {
		return fmt.Errorf("realtime.interval must be positive")
	}
	return nil
}

func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
