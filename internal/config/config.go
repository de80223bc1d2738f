// Package config provides dynamic configuration management for Pulseboard.
// It uses Viper to load settings from files, environment variables, and CLI flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for Pulseboard.
type Config struct {
	// ── Server ───────────────────────────────────────────────────────────────
	ServerHost string `mapstructure:"server_host"`
	// ControlPort: JSON API + live stream, JWT protected
	ControlPort int    `mapstructure:"control_port"`
	DBDriver    string `mapstructure:"db_driver"` // only "sqlite"
	DBPath      string `mapstructure:"db_path"`   // ":memory:" keeps alerts for the process lifetime

	// ── Security ──────────────────────────────────────────────────────────────
	// JWTSecret: HS256 signing key for control-plane tokens.
	JWTSecret string `mapstructure:"jwt_secret"`
	AdminUser string `mapstructure:"admin_user"`
	// AdminPass may be plain text or a bcrypt hash ("$2a$...").
	AdminPass string `mapstructure:"admin_pass"`

	// ── Session ──────────────────────────────────────────────────────────────
	TelemetryInterval time.Duration `mapstructure:"telemetry_interval"`
	LogInterval       time.Duration `mapstructure:"log_interval"`
	ActionLatency     time.Duration `mapstructure:"action_latency"`
	LogCapacity       int           `mapstructure:"log_capacity"`
	SeedFile          string        `mapstructure:"seed_file"`
	SeedFromHost      bool          `mapstructure:"seed_from_host"`
	RandSeed          uint64        `mapstructure:"rand_seed"` // 0 = time based

	// ── Notifications ────────────────────────────────────────────────────────
	WebhookURL    string `mapstructure:"webhook_url"`
	Notifications bool   `mapstructure:"notifications"`

	// ── Logging ──────────────────────────────────────────────────────────────
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"` // json | text

	// File is the config file that was read, empty when running on defaults.
	File string `mapstructure:"-"`
}

// Load reads config from path, or when path is empty from ./config.yaml or
// ~/.pulseboard/config.yaml, and falls back to smart defaults. Environment
// variables with prefix PULSE_ override file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	// --- Smart Defaults ---
	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("control_port", 6677)
	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_path", ":memory:")

	// Security defaults: MUST be overridden in production via config.yaml or env vars.
	v.SetDefault("jwt_secret", "Pb7$kQ2@xN9!wR4#mT6^zL1&vC8*hJ3")
	v.SetDefault("admin_user", "admin")
	v.SetDefault("admin_pass", "admin")

	v.SetDefault("telemetry_interval", 3*time.Second)
	v.SetDefault("log_interval", 3*time.Second)
	v.SetDefault("action_latency", 1500*time.Millisecond)
	v.SetDefault("log_capacity", 50)
	v.SetDefault("seed_file", "")
	v.SetDefault("seed_from_host", false)
	v.SetDefault("rand_seed", 0)

	v.SetDefault("webhook_url", "")
	v.SetDefault("notifications", true)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	// --- Config file ---
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.pulseboard")
	}
	if err := v.ReadInConfig(); err != nil {
		// config file is optional; ignore "not found" errors
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// --- Environment Variables ---
	v.SetEnvPrefix("PULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the session cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.ControlPort <= 0 || c.ControlPort > 65535 {
		errs = append(errs, fmt.Errorf("control_port %d out of range", c.ControlPort))
	}
	if c.DBDriver != "sqlite" && c.DBDriver != "" {
		errs = append(errs, fmt.Errorf("unsupported db_driver %q (use 'sqlite')", c.DBDriver))
	}
	for name, d := range map[string]time.Duration{
		"telemetry_interval": c.TelemetryInterval,
		"log_interval":       c.LogInterval,
		"action_latency":     c.ActionLatency,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, d))
		}
	}
	if c.LogCapacity <= 0 {
		errs = append(errs, fmt.Errorf("log_capacity must be positive, got %d", c.LogCapacity))
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log_format %q (use 'json' or 'text')", c.LogFormat))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// RestartRequired lists the keys that differ between the running config and
// next but only take effect on restart. Intervals, action latency and the
// notifications toggle apply live and are never listed.
func RestartRequired(running, next *Config) []string {
	var keys []string
	check := func(key string, changed bool) {
		if changed {
			keys = append(keys, key)
		}
	}
	check("server_host", running.ServerHost != next.ServerHost)
	check("control_port", running.ControlPort != next.ControlPort)
	check("db_driver", running.DBDriver != next.DBDriver)
	check("db_path", running.DBPath != next.DBPath)
	check("jwt_secret", running.JWTSecret != next.JWTSecret)
	check("admin_user", running.AdminUser != next.AdminUser)
	check("admin_pass", running.AdminPass != next.AdminPass)
	check("log_capacity", running.LogCapacity != next.LogCapacity)
	check("seed_file", running.SeedFile != next.SeedFile)
	check("seed_from_host", running.SeedFromHost != next.SeedFromHost)
	check("rand_seed", running.RandSeed != next.RandSeed)
	check("webhook_url", running.WebhookURL != next.WebhookURL)
	check("log_level", running.LogLevel != next.LogLevel)
	check("log_format", running.LogFormat != next.LogFormat)
	return keys
}
