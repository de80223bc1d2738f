package config

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ControlPort != 6677 || cfg.DBPath != ":memory:" || cfg.LogCapacity != 50 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.TelemetryInterval != 3*time.Second || cfg.ActionLatency != 1500*time.Millisecond {
		t.Fatalf("unexpected timing defaults: %+v", cfg)
	}
	if !cfg.Notifications || cfg.File != "" {
		t.Fatalf("notifications=%v file=%q", cfg.Notifications, cfg.File)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
control_port: 7001
telemetry_interval: 5s
action_latency: 250ms
log_capacity: 20
webhook_url: http://hooks.local/alerts
log_format: json
`)
	t.Setenv("PULSE_LOG_CAPACITY", "80")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ControlPort != 7001 || cfg.TelemetryInterval != 5*time.Second || cfg.ActionLatency != 250*time.Millisecond {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.LogCapacity != 80 {
		t.Fatalf("env override ignored: log_capacity=%d", cfg.LogCapacity)
	}
	if cfg.WebhookURL != "http://hooks.local/alerts" || cfg.File != path {
		t.Fatalf("webhook=%q file=%q", cfg.WebhookURL, cfg.File)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "zero interval", body: "log_interval: 0s\n", want: "log_interval"},
		{name: "capacity", body: "log_capacity: -1\n", want: "log_capacity"},
		{name: "driver", body: "db_driver: mysql\n", want: "db_driver"},
		{name: "format", body: "log_format: xml\n", want: "log_format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tc.body)
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %s", err, tc.want)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("explicit missing file should fail")
	}
}

func TestRestartRequired(t *testing.T) {
	base, err := Load(writeConfig(t, t.TempDir(), "log_capacity: 50\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cases := []struct {
		name   string
		mutate func(*Config)
		want   []string
	}{
		{name: "unchanged", mutate: func(*Config) {}},
		{name: "live keys only", mutate: func(c *Config) {
			c.TelemetryInterval = time.Second
			c.LogInterval = time.Second
			c.ActionLatency = time.Second
			c.Notifications = !c.Notifications
		}},
		{name: "capacity", mutate: func(c *Config) { c.LogCapacity = 100 }, want: []string{"log_capacity"}},
		{name: "several", mutate: func(c *Config) {
			c.WebhookURL = "http://hooks.local"
			c.SeedFile = "other.yaml"
			c.LogLevel = "debug"
		}, want: []string{"seed_file", "webhook_url", "log_level"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next := *base
			tc.mutate(&next)
			got := RestartRequired(base, &next)
			if strings.Join(got, ",") != strings.Join(tc.want, ",") {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	log.Info("hidden")
	log.Warn("shown", "k", 1)
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Fatalf("output = %q", buf.String())
	}
	if _, err := NewLogger(&buf, "loud", "json"); err == nil {
		t.Fatal("bad level accepted")
	}
	if _, err := NewLogger(&buf, "info", "xml"); err == nil {
		t.Fatal("bad format accepted")
	}
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "log_capacity: 10\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan *Config, 4)
	done := make(chan error, 1)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	go func() { done <- Watch(ctx, path, 10*time.Millisecond, log, func(c *Config) { got <- c }) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, dir, "log_capacity: 30\n")

	select {
	case cfg := <-got:
		if cfg.LogCapacity != 30 {
			t.Fatalf("reloaded log_capacity = %d", cfg.LogCapacity)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after write")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("watch did not stop")
	}
}
