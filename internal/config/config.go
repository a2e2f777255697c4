// Package config loads and validates the bridge configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the GLB_ prefix (e.g., GLB_GITLAB_BASE_URL
// overrides gitlab.base_url in the YAML). This layering allows the same binary to
// run with a config.yaml in local development and with pure environment variables
// in containerized deployments.
//
// The loaded Config is immutable: validation and default-merging happen exactly
// once here, never again per request.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gitlab-bridge/gitlab-bridge/internal/auth"
	"github.com/gitlab-bridge/gitlab-bridge/internal/webhook"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	GitLab    GitLabConfig    `mapstructure:"gitlab"`
	Gate      GateConfig      `mapstructure:"gate"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	BaseURL      string        `mapstructure:"base_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GitLabConfig holds the upstream GitLab instance settings.
type GitLabConfig struct {
	// BaseURL is the upstream instance root (e.g. https://gitlab.example.com).
	BaseURL string `mapstructure:"base_url"`
	// IntrospectionTimeout bounds each token introspection call. On timeout
	// the token is treated as revoked.
	IntrospectionTimeout time.Duration `mapstructure:"introspection_timeout"`
}

// GateConfig groups the request-gating settings.
type GateConfig struct {
	Auth         GateAuthConfig    `mapstructure:"auth"`
	RateLimiting RateLimitConfig   `mapstructure:"rate_limiting"`
	Webhook      GateWebhookConfig `mapstructure:"webhook"`
}

// GateAuthConfig holds token-validation policy.
type GateAuthConfig struct {
	// DangerousScopes are scopes that deny mutating operations when present
	// on a token. Empty means use the built-in default set.
	DangerousScopes []string `mapstructure:"dangerous_scopes"`
	// ExpiryWarningDays is the expiring-soon threshold for token expiry.
	ExpiryWarningDays int `mapstructure:"expiry_warning_days"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Backend is "memory" or "redis".
	Backend string `mapstructure:"backend"`
	// RequestsPerWindow and Window define the default budget.
	RequestsPerWindow int           `mapstructure:"requests_per_window"`
	Window            time.Duration `mapstructure:"window"`
	// SweepInterval is the idle-key eviction cadence of the memory backend.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// KeyStrategy selects how requests map to budget keys: "client"
	// (authenticated actor, falling back to address) or "ip" (address only).
	KeyStrategy string `mapstructure:"key_strategy"`
	// Headers controls the X-RateLimit-* response headers.
	Headers bool `mapstructure:"headers"`
	// SkipPaths lists route templates exempt from rate limiting.
	SkipPaths []string `mapstructure:"skip_paths"`
	// PerRoute overrides the default budget for named operations. Keys must
	// be known operation names; an unknown name fails validation at startup,
	// not at request time.
	PerRoute map[string]RouteLimit `mapstructure:"per_route"`
}

// RouteLimit is one per-operation budget override.
type RouteLimit struct {
	RequestsPerWindow int           `mapstructure:"requests_per_window"`
	Window            time.Duration `mapstructure:"window"`
}

// GateWebhookConfig holds webhook verification policy.
type GateWebhookConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Secret is the shared secret for both the delivery token and the body
	// signature. Supports ${VAR} expansion.
	Secret string `mapstructure:"secret"`
	// RequireToken and RequireSignature select the checks independently; at
	// least one must be set when the webhook gate is enabled.
	RequireToken     bool `mapstructure:"require_token"`
	RequireSignature bool `mapstructure:"require_signature"`
	// EnforceSecretStrength turns the weak-secret warning into a startup
	// failure.
	EnforceSecretStrength bool `mapstructure:"enforce_secret_strength"`
}

// RedisConfig holds the connection settings for the redis limiter backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// AuditConfig holds audit logging configuration
type AuditConfig struct {
	// Enabled determines if audit logging is active
	Enabled bool `mapstructure:"enabled"`
	// LogAccepted records successful gate passes in addition to rejections
	LogAccepted bool `mapstructure:"log_accepted"`
	// Shippers configures external log shipping
	Shippers []AuditShipperConfig `mapstructure:"shippers"`
}

// AuditShipperConfig holds configuration for a single audit shipper
type AuditShipperConfig struct {
	// Enabled determines if this shipper is active
	Enabled bool `mapstructure:"enabled"`
	// Type is the shipper type (file, webhook, slog)
	Type string `mapstructure:"type"`
	// Webhook configuration
	Webhook *AuditWebhookConfig `mapstructure:"webhook"`
	// File configuration
	File *AuditFileConfig `mapstructure:"file"`
}

// AuditWebhookConfig holds webhook shipper configuration
type AuditWebhookConfig struct {
	URL           string            `mapstructure:"url"`
	Headers       map[string]string `mapstructure:"headers"`
	TimeoutSecs   int               `mapstructure:"timeout_secs"`
	BatchSize     int               `mapstructure:"batch_size"`
	FlushInterval int               `mapstructure:"flush_interval_secs"`
}

// AuditFileConfig holds file shipper configuration
type AuditFileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
// viper.BindEnv only errors when called with zero keys; since every key here is a non-empty
// hardcoded string, any error indicates a programming bug and is surfaced to the caller.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.base_url",
		"server.read_timeout",
		"server.write_timeout",

		// GitLab upstream
		"gitlab.base_url",
		"gitlab.introspection_timeout",

		// Gate
		"gate.auth.dangerous_scopes",
		"gate.auth.expiry_warning_days",
		"gate.rate_limiting.enabled",
		"gate.rate_limiting.backend",
		"gate.rate_limiting.requests_per_window",
		"gate.rate_limiting.window",
		"gate.rate_limiting.sweep_interval",
		"gate.rate_limiting.key_strategy",
		"gate.rate_limiting.headers",
		"gate.webhook.enabled",
		"gate.webhook.secret",
		"gate.webhook.require_token",
		"gate.webhook.require_signature",
		"gate.webhook.enforce_secret_strength",

		// Redis
		"redis.addr",
		"redis.password",
		"redis.db",

		// Logging
		"logging.level",
		"logging.format",
		"logging.output",

		// Telemetry
		"telemetry.enabled",
		"telemetry.service_name",
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",

		// Audit
		"audit.enabled",
		"audit.log_accepted",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config.yaml in common locations
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/gitlab-bridge")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("GLB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind environment variables for nested structures
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Gate.Webhook.Secret = expandEnv(cfg.Gate.Webhook.Secret)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	// GitLab defaults
	v.SetDefault("gitlab.base_url", "https://gitlab.com")
	v.SetDefault("gitlab.introspection_timeout", "5s")

	// Gate defaults
	v.SetDefault("gate.auth.dangerous_scopes", []string{})
	v.SetDefault("gate.auth.expiry_warning_days", 7)
	v.SetDefault("gate.rate_limiting.enabled", true)
	v.SetDefault("gate.rate_limiting.backend", "memory")
	v.SetDefault("gate.rate_limiting.requests_per_window", 60)
	v.SetDefault("gate.rate_limiting.window", "1m")
	v.SetDefault("gate.rate_limiting.sweep_interval", "5m")
	v.SetDefault("gate.rate_limiting.key_strategy", "client")
	v.SetDefault("gate.rate_limiting.headers", true)
	v.SetDefault("gate.webhook.enabled", false)
	v.SetDefault("gate.webhook.require_token", true)
	v.SetDefault("gate.webhook.require_signature", false)
	v.SetDefault("gate.webhook.enforce_secret_strength", false)

	// Redis defaults
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "gitlab-bridge")
	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	// Audit defaults
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.log_accepted", false)
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// Validate upstream
	if c.GitLab.BaseURL == "" {
		return fmt.Errorf("gitlab.base_url is required")
	}
	if c.GitLab.IntrospectionTimeout <= 0 {
		return fmt.Errorf("gitlab.introspection_timeout must be positive")
	}

	// Validate auth policy
	if err := auth.ValidateScopes(c.Gate.Auth.DangerousScopes); err != nil {
		return fmt.Errorf("gate.auth.dangerous_scopes: %w", err)
	}
	if c.Gate.Auth.ExpiryWarningDays < 0 {
		return fmt.Errorf("gate.auth.expiry_warning_days must not be negative")
	}

	// Validate rate limiting
	if c.Gate.RateLimiting.Enabled {
		switch c.Gate.RateLimiting.Backend {
		case "memory", "redis":
		default:
			return fmt.Errorf("invalid rate limiting backend: %s (must be memory or redis)", c.Gate.RateLimiting.Backend)
		}
		if c.Gate.RateLimiting.Backend == "redis" && c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when rate limiting backend is redis")
		}
		switch c.Gate.RateLimiting.KeyStrategy {
		case "", "client", "ip":
		default:
			return fmt.Errorf("invalid rate limiting key strategy: %s (must be client or ip)", c.Gate.RateLimiting.KeyStrategy)
		}
		if c.Gate.RateLimiting.RequestsPerWindow < 1 {
			return fmt.Errorf("gate.rate_limiting.requests_per_window must be at least 1")
		}
		if c.Gate.RateLimiting.Window <= 0 {
			return fmt.Errorf("gate.rate_limiting.window must be positive")
		}
		// Per-route overrides must name known operations; a typo here must
		// fail startup, not surface as UNKNOWN_OPERATION at request time.
		for name, rl := range c.Gate.RateLimiting.PerRoute {
			if !auth.KnownOperation(auth.Operation(name)) {
				return fmt.Errorf("gate.rate_limiting.per_route: unknown operation %q", name)
			}
			if rl.RequestsPerWindow < 1 {
				return fmt.Errorf("gate.rate_limiting.per_route.%s.requests_per_window must be at least 1", name)
			}
			if rl.Window <= 0 {
				return fmt.Errorf("gate.rate_limiting.per_route.%s.window must be positive", name)
			}
		}
	}

	// Validate webhook policy
	if c.Gate.Webhook.Enabled {
		if !c.Gate.Webhook.RequireToken && !c.Gate.Webhook.RequireSignature {
			return fmt.Errorf("gate.webhook: at least one of require_token and require_signature must be enabled")
		}
		if c.Gate.Webhook.Secret == "" {
			return fmt.Errorf("gate.webhook.secret is required when the webhook gate is enabled")
		}
		if c.Gate.Webhook.EnforceSecretStrength &&
			webhook.ValidateSecretStrength(c.Gate.Webhook.Secret) != webhook.SecretStrong {
			return fmt.Errorf("gate.webhook.secret is too weak (need at least 16 characters with some variety)")
		}
	}

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}
