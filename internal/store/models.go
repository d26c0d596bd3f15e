package store

import (
	"time"

	"github.com/afromemo/afromemo/internal/agenda"
)

// User is an account allowed to log in. Role is a comma separated list.
type User struct {
	ID           int64
	Username     string
	Name         string
	Email        string
	Role         string
	PasswordHash string
	CreatedAt    time.Time
}

// Submission statuses.
const (
	SubmissionUnconfirmed = "unconfirmed"
	SubmissionPending     = "pending"
	SubmissionActive      = "active"
	SubmissionArchived    = "archived"
	SubmissionDeleted     = "deleted"
	SubmissionRemoved     = "removed"
)

// Submission is an event proposed by an anonymous visitor. Each of the three
// tokens unlocks one kind of action and is only ever sent by email.
type Submission struct {
	ID                string
	Email             string
	FormData          agenda.Entry
	Status            string
	EditToken         string
	CancelToken       string
	ConfirmationToken string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ConfirmedAt       *time.Time
}

// TokenKind names which token matched a submission lookup.
type TokenKind int

const (
	TokenEdit TokenKind = iota + 1
	TokenCancel
	TokenConfirmation
)

// Matches returns which of the submission's tokens equals token.
func (s *Submission) Matches(token string) (TokenKind, bool) {
	switch {
	case token == "":
		return 0, false
	case token == s.EditToken:
		return TokenEdit, true
	case token == s.CancelToken:
		return TokenCancel, true
	case token == s.ConfirmationToken:
		return TokenConfirmation, true
	}
	return 0, false
}

// RefreshToken is a server-side record of an issued refresh token. Only a hash
// of the token is stored.
type RefreshToken struct {
	ID        int64
	UserID    int64
	TokenHash string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}
