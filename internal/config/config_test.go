package config

import (
	"os"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// ServerConfig.GetAddress
// ---------------------------------------------------------------------------

func TestGetAddress(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{"default", ServerConfig{Host: "0.0.0.0", Port: 8080}, "0.0.0.0:8080"},
		{"localhost", ServerConfig{Host: "localhost", Port: 3000}, "localhost:3000"},
		{"empty host", ServerConfig{Host: "", Port: 8080}, ":8080"},
		{"port 443", ServerConfig{Host: "0.0.0.0", Port: 443}, "0.0.0.0:443"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.cfg.GetAddress()
			if got != tt.want {
				t.Errorf("GetAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Config.Validate
// ---------------------------------------------------------------------------

func minimalValidConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		GitLab: GitLabConfig{
			BaseURL:              "https://gitlab.example.com",
			IntrospectionTimeout: 5 * time.Second,
		},
		Gate: GateConfig{
			RateLimiting: RateLimitConfig{
				Enabled:           true,
				Backend:           "memory",
				RequestsPerWindow: 60,
				Window:            time.Minute,
			},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid minimal config passes", func(t *testing.T) {
		if err := minimalValidConfig().Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})

	t.Run("invalid server port 0", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Server.Port = 0
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for port 0, got nil")
		}
	})

	t.Run("invalid server port 70000", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Server.Port = 70000
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for port 70000, got nil")
		}
	})

	t.Run("missing gitlab base_url", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.GitLab.BaseURL = ""
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for empty gitlab.base_url, got nil")
		}
	})

	t.Run("non-positive introspection timeout", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.GitLab.IntrospectionTimeout = 0
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for zero introspection timeout, got nil")
		}
	})

	t.Run("unknown dangerous scope", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Gate.Auth.DangerousScopes = []string{"not_a_scope"}
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for unknown dangerous scope, got nil")
		}
	})

	t.Run("negative expiry warning days", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Gate.Auth.ExpiryWarningDays = -1
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for negative expiry warning days, got nil")
		}
	})

	t.Run("invalid rate limiting backend", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Gate.RateLimiting.Backend = "memcached"
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for invalid backend, got nil")
		}
	})

	t.Run("redis backend requires addr", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Gate.RateLimiting.Backend = "redis"
		cfg.Redis.Addr = ""
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for redis backend without addr, got nil")
		}
	})

	t.Run("redis backend with addr passes", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Gate.RateLimiting.Backend = "redis"
		cfg.Redis.Addr = "localhost:6379"
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})

	t.Run("unknown key strategy", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Gate.RateLimiting.KeyStrategy = "session"
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for unknown key strategy, got nil")
		}
	})

	t.Run("ip key strategy passes", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Gate.RateLimiting.KeyStrategy = "ip"
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})

	t.Run("zero requests per window", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Gate.RateLimiting.RequestsPerWindow = 0
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for zero requests_per_window, got nil")
		}
	})

	t.Run("disabled rate limiting skips backend checks", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Gate.RateLimiting = RateLimitConfig{Enabled: false, Backend: "memcached"}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() unexpected error with rate limiting disabled: %v", err)
		}
	})

	t.Run("per-route override for known operation passes", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Gate.RateLimiting.PerRoute = map[string]RouteLimit{
			"issues.create": {RequestsPerWindow: 10, Window: time.Minute},
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() unexpected error: %v", err)
		}
	})

	t.Run("per-route override for unknown operation fails startup", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Gate.RateLimiting.PerRoute = map[string]RouteLimit{
			"snippets.create": {RequestsPerWindow: 10, Window: time.Minute},
		}
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for unknown per-route operation, got nil")
		}
	})

	t.Run("per-route override with zero budget fails", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Gate.RateLimiting.PerRoute = map[string]RouteLimit{
			"issues.create": {RequestsPerWindow: 0, Window: time.Minute},
		}
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for zero per-route budget, got nil")
		}
	})

	t.Run("webhook gate with no checks enabled fails", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Gate.Webhook = GateWebhookConfig{Enabled: true, Secret: "a-long-enough-secret"}
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error when neither webhook check is enabled, got nil")
		}
	})

	t.Run("webhook gate without secret fails", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Gate.Webhook = GateWebhookConfig{Enabled: true, RequireToken: true}
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for missing webhook secret, got nil")
		}
	})

	t.Run("weak webhook secret passes unless enforced", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Gate.Webhook = GateWebhookConfig{Enabled: true, RequireToken: true, Secret: "short"}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() unexpected error without enforcement: %v", err)
		}

		cfg.Gate.Webhook.EnforceSecretStrength = true
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for weak secret with enforcement on, got nil")
		}
	})

	t.Run("strong webhook secret passes with enforcement", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Gate.Webhook = GateWebhookConfig{
			Enabled:               true,
			RequireToken:          true,
			Secret:                "correct-horse-battery-staple-9",
			EnforceSecretStrength: true,
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() unexpected error for strong secret: %v", err)
		}
	})

	t.Run("invalid log level", func(t *testing.T) {
		cfg := minimalValidConfig()
		cfg.Logging.Level = "verbose"
		if err := cfg.Validate(); err == nil {
			t.Error("Validate() expected error for invalid log level, got nil")
		}
	})

	t.Run("all valid log levels pass", func(t *testing.T) {
		for _, level := range []string{"debug", "info", "warn", "error"} {
			cfg := minimalValidConfig()
			cfg.Logging.Level = level
			if err := cfg.Validate(); err != nil {
				t.Errorf("Validate() unexpected error for log level %q: %v", level, err)
			}
		}
	})
}

// ---------------------------------------------------------------------------
// expandEnv
// ---------------------------------------------------------------------------

func TestExpandEnv(t *testing.T) {
	t.Run("expands ${VAR} syntax", func(t *testing.T) {
		t.Setenv("CONFIG_TEST_SECRET", "super-secret")
		got := expandEnv("${CONFIG_TEST_SECRET}")
		if got != "super-secret" {
			t.Errorf("expandEnv() = %q, want %q", got, "super-secret")
		}
	})

	t.Run("plain string passthrough", func(t *testing.T) {
		got := expandEnv("no-vars-here")
		if got != "no-vars-here" {
			t.Errorf("expandEnv() = %q, want %q", got, "no-vars-here")
		}
	})

	t.Run("unset variable expands to empty string", func(t *testing.T) {
		os.Unsetenv("CONFIG_TEST_DEFINITELY_UNSET_12345")
		got := expandEnv("${CONFIG_TEST_DEFINITELY_UNSET_12345}")
		if got != "" {
			t.Errorf("expandEnv() = %q, want empty string", got)
		}
	})
}

// ---------------------------------------------------------------------------
// Load – with config file
// ---------------------------------------------------------------------------

// writeTempConfig creates a temp YAML file and registers a cleanup to remove it.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "config-test-*.yaml")
	if err != nil {
		t.Fatal("CreateTemp:", err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })
	if _, err := f.WriteString(content); err != nil {
		t.Fatal("WriteString:", err)
	}
	f.Close()
	return f.Name()
}

func TestLoad_WithConfigFile(t *testing.T) {
	const content = `
server:
  host: "testhost"
  port: 9999
gitlab:
  base_url: "https://gitlab.example.com"
  introspection_timeout: "3s"
gate:
  rate_limiting:
    requests_per_window: 120
    window: "30s"
logging:
  level: "debug"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Host != "testhost" {
		t.Errorf("Server.Host = %q, want testhost", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.GitLab.BaseURL != "https://gitlab.example.com" {
		t.Errorf("GitLab.BaseURL = %q, want the configured instance", cfg.GitLab.BaseURL)
	}
	if cfg.GitLab.IntrospectionTimeout != 3*time.Second {
		t.Errorf("GitLab.IntrospectionTimeout = %v, want 3s", cfg.GitLab.IntrospectionTimeout)
	}
	if cfg.Gate.RateLimiting.RequestsPerWindow != 120 {
		t.Errorf("RequestsPerWindow = %d, want 120", cfg.Gate.RateLimiting.RequestsPerWindow)
	}
	if cfg.Gate.RateLimiting.Window != 30*time.Second {
		t.Errorf("Window = %v, want 30s", cfg.Gate.RateLimiting.Window)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	// Config without most sections — setDefaults() should fill them in.
	const content = `
gitlab:
  base_url: "https://gitlab.example.com"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want 0.0.0.0", cfg.Server.Host)
	}
	if !cfg.Gate.RateLimiting.Enabled {
		t.Error("default rate limiting should be enabled")
	}
	if cfg.Gate.RateLimiting.Backend != "memory" {
		t.Errorf("default backend = %q, want memory", cfg.Gate.RateLimiting.Backend)
	}
	if cfg.Gate.RateLimiting.RequestsPerWindow != 60 {
		t.Errorf("default RequestsPerWindow = %d, want 60", cfg.Gate.RateLimiting.RequestsPerWindow)
	}
	if cfg.Gate.RateLimiting.KeyStrategy != "client" {
		t.Errorf("default KeyStrategy = %q, want client", cfg.Gate.RateLimiting.KeyStrategy)
	}
	if !cfg.Gate.RateLimiting.Headers {
		t.Error("default rate limit headers should be enabled")
	}
	if cfg.Gate.Auth.ExpiryWarningDays != 7 {
		t.Errorf("default ExpiryWarningDays = %d, want 7", cfg.Gate.Auth.ExpiryWarningDays)
	}
	if cfg.Gate.Webhook.Enabled {
		t.Error("webhook gate should default to disabled")
	}
	if !cfg.Audit.Enabled {
		t.Error("audit should default to enabled")
	}
	if cfg.Audit.LogAccepted {
		t.Error("audit.log_accepted should default to false")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("GLB_GITLAB_BASE_URL", "https://env.gitlab.example.com")
	t.Setenv("GLB_GATE_RATE_LIMITING_REQUESTS_PER_WINDOW", "7")
	const content = `
gitlab:
  base_url: "https://file.gitlab.example.com"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.GitLab.BaseURL != "https://env.gitlab.example.com" {
		t.Errorf("GitLab.BaseURL = %q, want the env override", cfg.GitLab.BaseURL)
	}
	if cfg.Gate.RateLimiting.RequestsPerWindow != 7 {
		t.Errorf("RequestsPerWindow = %d, want the env override 7", cfg.Gate.RateLimiting.RequestsPerWindow)
	}
}

func TestLoad_WebhookSecretExpansion(t *testing.T) {
	t.Setenv("TEST_HOOK_SECRET", "expanded-hook-secret")
	const content = `
gitlab:
  base_url: "https://gitlab.example.com"
gate:
  webhook:
    enabled: true
    require_token: true
    secret: "${TEST_HOOK_SECRET}"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Gate.Webhook.Secret != "expanded-hook-secret" {
		t.Errorf("Webhook.Secret = %q, want the expanded value", cfg.Gate.Webhook.Secret)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "server: [unclosed")
	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_UnknownPerRouteOperationFails(t *testing.T) {
	const content = `
gitlab:
  base_url: "https://gitlab.example.com"
gate:
  rate_limiting:
    per_route:
      snippets.create:
        requests_per_window: 5
        window: "1m"
`
	path := writeTempConfig(t, content)
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for unknown per-route operation, got nil")
	}
}
