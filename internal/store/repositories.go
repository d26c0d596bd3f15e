package store

import (
	"context"
	"time"

	"github.com/afromemo/afromemo/internal/agenda"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	Upsert(ctx context.Context, user User) (*User, error)
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
}

// EntryRepository handles agenda entries.
type EntryRepository interface {
	Get(ctx context.Context, id string) (*agenda.Entry, error)
	// List returns entries ordered by start date. No status means every entry.
	List(ctx context.Context, statuses ...agenda.Status) ([]agenda.Entry, error)
	// Upsert inserts or replaces the entry, assigning an ID when empty.
	Upsert(ctx context.Context, entry agenda.Entry) (*agenda.Entry, error)
	SetStatus(ctx context.Context, id string, status agenda.Status) error
	// ArchiveEnded archives active entries whose last day is before day
	// (YYYY-MM-DD) and returns their IDs.
	ArchiveEnded(ctx context.Context, day string) ([]string, error)
}

// SubmissionRepository handles public submissions.
type SubmissionRepository interface {
	Create(ctx context.Context, sub Submission) (*Submission, error)
	GetByID(ctx context.Context, id string) (*Submission, error)
	// GetByToken finds a submission by any of its tokens.
	GetByToken(ctx context.Context, token string) (*Submission, error)
	Update(ctx context.Context, sub Submission) error
	SetStatus(ctx context.Context, id, status string) error
	List(ctx context.Context) ([]Submission, error)
}

// RefreshTokenRepository stores refresh token hashes.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token RefreshToken) (*RefreshToken, error)
	FindValid(ctx context.Context, hash string, now time.Time) (*RefreshToken, error)
	Revoke(ctx context.Context, hash string, now time.Time) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
