package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/afromemo/afromemo/internal/agenda"
	"github.com/google/uuid"
)

type memoryDB struct {
	mu            sync.RWMutex
	users         map[int64]User
	nextUserID    int64
	entries       map[string]agenda.Entry
	submissions   map[string]Submission
	refreshTokens map[string]RefreshToken
	nextTokenID   int64
}

func newMemoryDB() *memoryDB {
	return &memoryDB{
		users:         map[int64]User{},
		entries:       map[string]agenda.Entry{},
		submissions:   map[string]Submission{},
		refreshTokens: map[string]RefreshToken{},
	}
}

type memUserRepo struct{ db *memoryDB }

func (r *memUserRepo) Upsert(ctx context.Context, user User) (*User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for id, existing := range r.db.users {
		if strings.EqualFold(existing.Username, user.Username) {
			user.ID = id
			user.CreatedAt = existing.CreatedAt
			r.db.users[id] = user
			return &user, nil
		}
	}
	r.db.nextUserID++
	user.ID = r.db.nextUserID
	user.CreatedAt = time.Now().UTC()
	r.db.users[user.ID] = user
	return &user, nil
}

func (r *memUserRepo) GetByID(ctx context.Context, id int64) (*User, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	u, ok := r.db.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (r *memUserRepo) GetByUsername(ctx context.Context, username string) (*User, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	for _, u := range r.db.users {
		if strings.EqualFold(u.Username, username) {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

type memEntryRepo struct{ db *memoryDB }

func (r *memEntryRepo) Get(ctx context.Context, id string) (*agenda.Entry, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	e, ok := r.db.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (r *memEntryRepo) List(ctx context.Context, statuses ...agenda.Status) ([]agenda.Entry, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	out := make([]agenda.Entry, 0, len(r.db.entries))
	for _, e := range r.db.entries {
		if len(statuses) == 0 || hasStatus(statuses, e.Status) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartDate != out[j].StartDate {
			return out[i].StartDate < out[j].StartDate
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *memEntryRepo) Upsert(ctx context.Context, entry agenda.Entry) (*agenda.Entry, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry = storedEntry(entry)
	r.db.entries[entry.ID] = entry
	return &entry, nil
}

func (r *memEntryRepo) SetStatus(ctx context.Context, id string, status agenda.Status) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	e, ok := r.db.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.Status = status
	r.db.entries[id] = e
	return nil
}

func (r *memEntryRepo) ArchiveEnded(ctx context.Context, day string) ([]string, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var ids []string
	for id, e := range r.db.entries {
		if e.Status == agenda.StatusActive && lastDay(e) < day {
			e.Status = agenda.StatusArchived
			r.db.entries[id] = e
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

type memSubmissionRepo struct{ db *memoryDB }

func (r *memSubmissionRepo) Create(ctx context.Context, sub Submission) (*Submission, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if _, exists := r.db.submissions[sub.ID]; exists {
		return nil, ErrConflict
	}
	now := time.Now().UTC()
	sub.CreatedAt, sub.UpdatedAt = now, now
	r.db.submissions[sub.ID] = sub
	return &sub, nil
}

func (r *memSubmissionRepo) GetByID(ctx context.Context, id string) (*Submission, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	s, ok := r.db.submissions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (r *memSubmissionRepo) GetByToken(ctx context.Context, token string) (*Submission, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	for _, s := range r.db.submissions {
		if _, ok := s.Matches(token); ok {
			return &s, nil
		}
	}
	return nil, ErrNotFound
}

func (r *memSubmissionRepo) Update(ctx context.Context, sub Submission) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	existing, ok := r.db.submissions[sub.ID]
	if !ok {
		return ErrNotFound
	}
	sub.CreatedAt = existing.CreatedAt
	sub.UpdatedAt = time.Now().UTC()
	r.db.submissions[sub.ID] = sub
	return nil
}

func (r *memSubmissionRepo) SetStatus(ctx context.Context, id, status string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.submissions[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	r.db.submissions[id] = s
	return nil
}

func (r *memSubmissionRepo) List(ctx context.Context) ([]Submission, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	out := make([]Submission, 0, len(r.db.submissions))
	for _, s := range r.db.submissions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

type memRefreshTokenRepo struct{ db *memoryDB }

func (r *memRefreshTokenRepo) Create(ctx context.Context, token RefreshToken) (*RefreshToken, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if _, exists := r.db.refreshTokens[token.TokenHash]; exists {
		return nil, ErrConflict
	}
	r.db.nextTokenID++
	token.ID = r.db.nextTokenID
	token.CreatedAt = time.Now().UTC()
	r.db.refreshTokens[token.TokenHash] = token
	return &token, nil
}

func (r *memRefreshTokenRepo) FindValid(ctx context.Context, hash string, now time.Time) (*RefreshToken, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()
	t, ok := r.db.refreshTokens[hash]
	if !ok || t.RevokedAt != nil || !t.ExpiresAt.After(now) {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (r *memRefreshTokenRepo) Revoke(ctx context.Context, hash string, now time.Time) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	t, ok := r.db.refreshTokens[hash]
	if !ok {
		return ErrNotFound
	}
	if t.RevokedAt == nil {
		t.RevokedAt = &now
		r.db.refreshTokens[hash] = t
	}
	return nil
}

func (r *memRefreshTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var n int64
	for hash, t := range r.db.refreshTokens {
		if !t.ExpiresAt.After(now) {
			delete(r.db.refreshTokens, hash)
			n++
		}
	}
	return n, nil
}

func hasStatus(statuses []agenda.Status, s agenda.Status) bool {
	for _, want := range statuses {
		if want == s {
			return true
		}
	}
	return false
}

// storedEntry drops the submission-only fields an entry never persists.
func storedEntry(e agenda.Entry) agenda.Entry {
	e.Email = ""
	e.Token = ""
	e.UserSubmission = false
	if e.Tags == nil {
		e.Tags = []string{}
	}
	return e
}

func lastDay(e agenda.Entry) string {
	if d := strings.TrimSpace(e.EndDate); d != "" {
		return d
	}
	return strings.TrimSpace(e.StartDate)
}
