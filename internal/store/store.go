package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// dbPool is the subset of pgxpool.Pool used by the repositories.
type dbPool interface {
	PgxPool
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
}

// Store aggregates the repositories of the server.
type Store struct {
	pool dbPool

	Users         UserRepository
	Entries       EntryRepository
	Submissions   SubmissionRepository
	RefreshTokens RefreshTokenRepository
}

// New wires the PostgreSQL repositories on a shared connection pool.
func New(pool *pgxpool.Pool) *Store {
	return newPostgres(pool)
}

func newPostgres(pool dbPool) *Store {
	return &Store{
		pool:          pool,
		Users:         &userRepo{pool: pool},
		Entries:       &entryRepo{pool: pool},
		Submissions:   &submissionRepo{pool: pool},
		RefreshTokens: &refreshTokenRepo{pool: pool},
	}
}

// NewMemory returns a Store kept in process memory, for development and tests.
func NewMemory() *Store {
	m := newMemoryDB()
	return &Store{
		Users:         &memUserRepo{db: m},
		Entries:       &memEntryRepo{db: m},
		Submissions:   &memSubmissionRepo{db: m},
		RefreshTokens: &memRefreshTokenRepo{db: m},
	}
}

// HealthCheck verifies that the underlying database is reachable.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	defer observeDB(ctx, "db.healthcheck")()
	return s.pool.Ping(ctx)
}
