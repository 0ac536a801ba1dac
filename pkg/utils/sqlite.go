package utils

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteConfig controls how the embedded ledger file is opened.
type SQLiteConfig struct {
	Path        string
	BusyTimeout time.Duration
	PingTimeout time.Duration
}

// OpenSQLite opens a SQLite database through the "sqlite" driver registered by
// modernc.org/sqlite. The pool is pinned to one connection: SQLite has a single
// writer, and one connection keeps pragmas and transactions on the same handle.
func OpenSQLite(ctx context.Context, cfg SQLiteConfig) (*sql.DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = 5 * time.Second
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := HealthCheck(ctx, db, cfg.PingTimeout); err != nil {
		_ = db.Close()
		return nil, err
	}
	pragmas := []string{
		fmt.Sprintf(`PRAGMA busy_timeout = %d`, cfg.BusyTimeout.Milliseconds()),
		`PRAGMA journal_mode = WAL`,
		`PRAGMA foreign_keys = ON`,
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", p, err)
		}
	}
	return db, nil
}
