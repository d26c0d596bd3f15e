package store

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/afromemo/afromemo/internal/migrations"
)

// PgxPool is the subset of pgxpool.Pool used by the migration helpers.
type PgxPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// migrationLockID keys the advisory lock serializing server instances that
// start at the same time.
const migrationLockID int64 = 0x6166726f6d656d6f

const (
	createMigrationTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	lockMigrations   = `SELECT pg_advisory_xact_lock($1)`
	migrationApplied = `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`
	recordMigration  = `INSERT INTO schema_migrations (version) VALUES ($1)`
)

type migration struct {
	version string
	sql     string
}

// ApplyMigrations runs the embedded migrations missing from schema_migrations,
// in file name order. Each one runs in its own transaction together with its
// bookkeeping row.
func ApplyMigrations(ctx context.Context, pool PgxPool) error {
	pending, err := migrationFiles(migrations.Files)
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createMigrationTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	for _, m := range pending {
		applied, err := applyMigration(ctx, pool, m)
		if err != nil {
			return err
		}
		if applied {
			slog.Info("migration applied", "version", m.version)
		}
	}
	return nil
}

func migrationFiles(fsys fs.FS) ([]migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	out := make([]migration, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		out = append(out, migration{version: name, sql: string(data)})
	}
	return out, nil
}

// applyMigration reports false when another instance already recorded m.
func applyMigration(ctx context.Context, pool PgxPool, m migration) (bool, error) {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("begin migration %s: %w", m.version, err)
	}
	fail := func(step string, err error) (bool, error) {
		_ = tx.Rollback(ctx)
		return false, fmt.Errorf("%s migration %s: %w", step, m.version, err)
	}

	if _, err := tx.Exec(ctx, lockMigrations, migrationLockID); err != nil {
		return fail("lock", err)
	}
	var done bool
	if err := tx.QueryRow(ctx, migrationApplied, m.version).Scan(&done); err != nil {
		return fail("check", err)
	}
	if done {
		return false, tx.Commit(ctx)
	}
	if _, err := tx.Exec(ctx, m.sql); err != nil {
		return fail("apply", err)
	}
	if _, err := tx.Exec(ctx, recordMigration, m.version); err != nil {
		return fail("record", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit migration %s: %w", m.version, err)
	}
	return true, nil
}
