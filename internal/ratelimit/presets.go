package ratelimit

import "time"

// Named presets. Selecting a preset is exactly equivalent to passing its
// literal values; no hidden adjustment happens on top.

// DefaultConfig is the general API budget.
func DefaultConfig() Config {
	return Config{Limit: 60, Window: time.Minute, SweepInterval: 5 * time.Minute}
}

// AuthConfig is the tighter budget for authentication-sensitive routes.
func AuthConfig() Config {
	return Config{Limit: 10, Window: time.Minute, SweepInterval: 5 * time.Minute}
}

// WebhookConfig is the budget for inbound webhook deliveries.
func WebhookConfig() Config {
	return Config{Limit: 30, Window: time.Minute, SweepInterval: 5 * time.Minute}
}

// PresetByName resolves a preset by its configuration name.
func PresetByName(name string) (Config, bool) {
	switch name {
	case "default":
		return DefaultConfig(), true
	case "auth":
		return AuthConfig(), true
	case "webhook":
		return WebhookConfig(), true
	}
	return Config{}, false
}
