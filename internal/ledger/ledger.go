// Package ledger opens the configured chain-of-custody backend.
package ledger

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"casevault/internal/custody"
	"casevault/internal/ledger/postgres"
	"casevault/internal/ledger/sqlite"
	"casevault/pkg/utils"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Backend is a Store that can also migrate its schema and report health.
type Backend interface {
	custody.Store
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
}

type Config struct {
	Driver      string
	PostgresDSN string
	SQLitePath  string
	Pool        utils.PostgresPoolConfig
}

// Ledger owns the database handle behind a Backend.
type Ledger struct {
	Backend
	Driver string
	db     *sql.DB
}

func Open(ctx context.Context, cfg Config) (*Ledger, error) {
	switch cfg.Driver {
	case DriverPostgres, "":
		db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN, cfg.Pool)
		if err != nil {
			return nil, fmt.Errorf("open postgres ledger: %w", err)
		}
		return &Ledger{Backend: postgres.NewStore(db), Driver: DriverPostgres, db: db}, nil
	case DriverSQLite:
		db, err := utils.OpenSQLite(ctx, utils.SQLiteConfig{Path: cfg.SQLitePath})
		if err != nil {
			return nil, fmt.Errorf("open sqlite ledger: %w", err)
		}
		return &Ledger{Backend: sqlite.NewStore(db), Driver: DriverSQLite, db: db}, nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
}

func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}
