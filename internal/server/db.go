// Package server manages the Pulseboard database layer.
// It initializes GORM with SQLite, either on disk or in memory.
package server

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/vesa/pulseboard/internal/config"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// busyTimeoutMS is how long a sqlite connection waits on a locked file.
const busyTimeoutMS = 5000

// OpenDB opens the alert database. Schema migration belongs to the alert
// book. The pool holds a single connection: every new sqlite connection to
// ":memory:" would see an empty database, and a file allows one writer at a
// time anyway. File databases also wait out locks held by other processes.
func OpenDB(cfg *config.Config, log *slog.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite", "":
		dialector = sqlite.Open(sqliteDSN(cfg.DBPath))
	default:
		return nil, fmt.Errorf("unsupported db_driver %q (use 'sqlite')", cfg.DBDriver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(0)

	log.Info("database opened", "module", "db", "driver", cfg.DBDriver, "path", cfg.DBPath)
	return db, nil
}

// sqliteDSN adds a busy timeout to file paths unless one is already set.
func sqliteDSN(path string) string {
	if path == ":memory:" || strings.Contains(path, "busy_timeout") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)", path, sep, busyTimeoutMS)
}
