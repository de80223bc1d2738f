package server

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/vesa/pulseboard/internal/config"
)

func TestSqliteDSN(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{":memory:", ":memory:"},
		{"/var/lib/pulse/alerts.db", "/var/lib/pulse/alerts.db?_pragma=busy_timeout(5000)"},
		{"alerts.db?_pragma=journal_mode(WAL)", "alerts.db?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"},
		{"alerts.db?_pragma=busy_timeout(100)", "alerts.db?_pragma=busy_timeout(100)"},
	}
	for _, tc := range cases {
		if got := sqliteDSN(tc.path); got != tc.want {
			t.Fatalf("sqliteDSN(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestOpenDBFileSettings(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := OpenDB(&config.Config{DBDriver: "sqlite", DBPath: filepath.Join(t.TempDir(), "alerts.db")}, log)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sqlDB, _ := db.DB()
	defer sqlDB.Close()

	var timeout int
	if err := db.Raw("PRAGMA busy_timeout").Scan(&timeout).Error; err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if timeout != busyTimeoutMS {
		t.Fatalf("busy_timeout = %d, want %d", timeout, busyTimeoutMS)
	}
	if n := sqlDB.Stats().MaxOpenConnections; n != 1 {
		t.Fatalf("max open connections = %d", n)
	}

	if _, err := OpenDB(&config.Config{DBDriver: "postgres", DBPath: "x"}, log); err == nil {
		t.Fatal("unsupported driver accepted")
	}
}
