package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"

	logx "taskbot/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is the process-wide store handle. Construct it once and pass it to
// every repository.
type DB struct {
	sql     *sql.DB
	dialect dialect
	log     logx.Logger
}

// Open connects to the configured driver and applies migrations.
func Open(ctx context.Context, cfg Config, log logx.Logger) (*DB, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	var (
		db  *sql.DB
		d   dialect
		err error
	)
	switch driver {
	case "", "sqlite", "sqlite3":
		db, err = openSQLite(cfg)
		d = sqliteDialect
	case "postgres", "postgresql", "pgx":
		db, err = openPostgres(ctx, cfg)
		d = postgresDialect
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
	if err != nil {
		return nil, err
	}

	s := &DB{sql: db, dialect: d, log: log}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("store opened", logx.String("driver", d.name))
	return s, nil
}

func (s *DB) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/" + s.dialect.migrations)
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(b), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.sql.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// SQL exposes the underlying pool for diagnostics.
func (s *DB) SQL() *sql.DB { return s.sql }

// Driver returns the dialect name ("sqlite" or "postgres").
func (s *DB) Driver() string { return s.dialect.name }

func (s *DB) Ping(ctx context.Context) error {
	if s == nil || s.sql == nil {
		return ErrClosed
	}
	return s.sql.PingContext(ctx)
}

func (s *DB) Close() error {
	if s == nil || s.sql == nil {
		return nil
	}
	return s.sql.Close()
}

// WithTx runs fn in a transaction. It commits when fn returns nil and rolls
// back otherwise.
func (s *DB) WithTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
