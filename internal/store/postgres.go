package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/afromemo/afromemo/internal/agenda"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}

func expectOne(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// userRepo implements UserRepository.
type userRepo struct {
	pool dbPool
}

const userColumns = `id, username, name, email, role, password_hash, created_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.Name, &u.Email, &u.Role, &u.PasswordHash, &u.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

func (r *userRepo) Upsert(ctx context.Context, user User) (*User, error) {
	defer observeDB(ctx, "users.upsert")()
	const q = `INSERT INTO users (username, name, email, role, password_hash)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (username) DO UPDATE SET name=EXCLUDED.name, email=EXCLUDED.email,
    role=EXCLUDED.role, password_hash=EXCLUDED.password_hash
RETURNING ` + userColumns
	return scanUser(r.pool.QueryRow(ctx, q, user.Username, user.Name, user.Email, user.Role, user.PasswordHash))
}

func (r *userRepo) GetByID(ctx context.Context, id int64) (*User, error) {
	defer observeDB(ctx, "users.get_by_id")()
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (*User, error) {
	defer observeDB(ctx, "users.get_by_username")()
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(username)=lower($1)`, username))
}

// entryRepo implements EntryRepository.
type entryRepo struct {
	pool dbPool
}

const entryColumns = `id, title, subtitle, link, price, venuename, address, place, startdate, enddate,
    starttime, endtime, description, infos, poster, category, tags, status`

func scanEntry(row pgx.Row) (*agenda.Entry, error) {
	var e agenda.Entry
	var price string
	var status int16
	if err := row.Scan(&e.ID, &e.Title, &e.Subtitle, &e.Link, &price, &e.VenueName, &e.Address, &e.Place,
		&e.StartDate, &e.EndDate, &e.StartTime, &e.EndTime, &e.Description, &e.Infos, &e.Poster,
		&e.Category, &e.Tags, &status); err != nil {
		return nil, mapErr(err)
	}
	e.Price = agenda.Price(price)
	e.Status = agenda.Status(status)
	if e.Tags == nil {
		e.Tags = []string{}
	}
	return &e, nil
}

func (r *entryRepo) Get(ctx context.Context, id string) (*agenda.Entry, error) {
	defer observeDB(ctx, "entries.get")()
	return scanEntry(r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM agenda_entries WHERE id=$1`, id))
}

func (r *entryRepo) List(ctx context.Context, statuses ...agenda.Status) ([]agenda.Entry, error) {
	defer observeDB(ctx, "entries.list")()
	q := `SELECT ` + entryColumns + ` FROM agenda_entries`
	var args []any
	if len(statuses) > 0 {
		codes := make([]int16, len(statuses))
		for i, s := range statuses {
			codes[i] = int16(s)
		}
		q += ` WHERE status = ANY($1)`
		args = append(args, codes)
	}
	q += ` ORDER BY startdate, id`

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []agenda.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r *entryRepo) Upsert(ctx context.Context, entry agenda.Entry) (*agenda.Entry, error) {
	defer observeDB(ctx, "entries.upsert")()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry = storedEntry(entry)
	const q = `INSERT INTO agenda_entries (id, title, subtitle, link, price, venuename, address, place,
    startdate, enddate, starttime, endtime, description, infos, poster, category, tags, status)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, subtitle=EXCLUDED.subtitle, link=EXCLUDED.link,
    price=EXCLUDED.price, venuename=EXCLUDED.venuename, address=EXCLUDED.address, place=EXCLUDED.place,
    startdate=EXCLUDED.startdate, enddate=EXCLUDED.enddate, starttime=EXCLUDED.starttime,
    endtime=EXCLUDED.endtime, description=EXCLUDED.description, infos=EXCLUDED.infos,
    poster=EXCLUDED.poster, category=EXCLUDED.category, tags=EXCLUDED.tags, status=EXCLUDED.status,
    updated_at=NOW()
RETURNING ` + entryColumns
	return scanEntry(r.pool.QueryRow(ctx, q, entry.ID, entry.Title, entry.Subtitle, entry.Link,
		string(entry.Price), entry.VenueName, entry.Address, entry.Place, entry.StartDate, entry.EndDate,
		entry.StartTime, entry.EndTime, entry.Description, entry.Infos, entry.Poster, entry.Category,
		entry.Tags, int16(entry.Status)))
}

func (r *entryRepo) SetStatus(ctx context.Context, id string, status agenda.Status) error {
	defer observeDB(ctx, "entries.set_status")()
	const q = `UPDATE agenda_entries SET status=$2, updated_at=NOW() WHERE id=$1`
	return expectOne(r.pool.Exec(ctx, q, id, int16(status)))
}

func (r *entryRepo) ArchiveEnded(ctx context.Context, day string) ([]string, error) {
	defer observeDB(ctx, "entries.archive_ended")()
	const q = `UPDATE agenda_entries SET status=$1, updated_at=NOW()
WHERE status=$2 AND COALESCE(NULLIF(enddate, ''), startdate) < $3
RETURNING id`
	rows, err := r.pool.Query(ctx, q, int16(agenda.StatusArchived), int16(agenda.StatusActive), day)
	if err != nil {
		return nil, fmt.Errorf("archive ended entries: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// submissionRepo implements SubmissionRepository.
type submissionRepo struct {
	pool dbPool
}

const submissionColumns = `id, email, form_data, status, edit_token, cancel_token, confirmation_token,
    created_at, updated_at, confirmed_at`

func scanSubmission(row pgx.Row) (*Submission, error) {
	var s Submission
	var form []byte
	if err := row.Scan(&s.ID, &s.Email, &form, &s.Status, &s.EditToken, &s.CancelToken,
		&s.ConfirmationToken, &s.CreatedAt, &s.UpdatedAt, &s.ConfirmedAt); err != nil {
		return nil, mapErr(err)
	}
	if err := json.Unmarshal(form, &s.FormData); err != nil {
		return nil, fmt.Errorf("decode submission %s form data: %w", s.ID, err)
	}
	return &s, nil
}

func (r *submissionRepo) Create(ctx context.Context, sub Submission) (*Submission, error) {
	defer observeDB(ctx, "submissions.create")()
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	form, err := json.Marshal(sub.FormData)
	if err != nil {
		return nil, fmt.Errorf("encode form data: %w", err)
	}
	const q = `INSERT INTO submissions (id, email, form_data, status, edit_token, cancel_token, confirmation_token)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING ` + submissionColumns
	return scanSubmission(r.pool.QueryRow(ctx, q, sub.ID, sub.Email, form, sub.Status,
		sub.EditToken, sub.CancelToken, sub.ConfirmationToken))
}

func (r *submissionRepo) GetByID(ctx context.Context, id string) (*Submission, error) {
	defer observeDB(ctx, "submissions.get_by_id")()
	return scanSubmission(r.pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id=$1`, id))
}

func (r *submissionRepo) GetByToken(ctx context.Context, token string) (*Submission, error) {
	defer observeDB(ctx, "submissions.get_by_token")()
	const q = `SELECT ` + submissionColumns + ` FROM submissions
WHERE edit_token=$1 OR cancel_token=$1 OR confirmation_token=$1`
	return scanSubmission(r.pool.QueryRow(ctx, q, token))
}

func (r *submissionRepo) Update(ctx context.Context, sub Submission) error {
	defer observeDB(ctx, "submissions.update")()
	form, err := json.Marshal(sub.FormData)
	if err != nil {
		return fmt.Errorf("encode form data: %w", err)
	}
	const q = `UPDATE submissions SET email=$2, form_data=$3, status=$4, confirmed_at=$5, updated_at=NOW()
WHERE id=$1`
	return expectOne(r.pool.Exec(ctx, q, sub.ID, sub.Email, form, sub.Status, sub.ConfirmedAt))
}

func (r *submissionRepo) SetStatus(ctx context.Context, id, status string) error {
	defer observeDB(ctx, "submissions.set_status")()
	const q = `UPDATE submissions SET status=$2, updated_at=NOW() WHERE id=$1`
	return expectOne(r.pool.Exec(ctx, q, id, status))
}

func (r *submissionRepo) List(ctx context.Context) ([]Submission, error) {
	defer observeDB(ctx, "submissions.list")()
	rows, err := r.pool.Query(ctx, `SELECT `+submissionColumns+` FROM submissions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()
	var out []Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// refreshTokenRepo implements RefreshTokenRepository.
type refreshTokenRepo struct {
	pool dbPool
}

func (r *refreshTokenRepo) Create(ctx context.Context, token RefreshToken) (*RefreshToken, error) {
	defer observeDB(ctx, "refresh_tokens.create")()
	const q = `INSERT INTO refresh_tokens (user_id, token_hash, expires_at) VALUES ($1, $2, $3)
RETURNING id, created_at`
	if err := r.pool.QueryRow(ctx, q, token.UserID, token.TokenHash, token.ExpiresAt).Scan(&token.ID, &token.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &token, nil
}

func (r *refreshTokenRepo) FindValid(ctx context.Context, hash string, now time.Time) (*RefreshToken, error) {
	defer observeDB(ctx, "refresh_tokens.find_valid")()
	const q = `SELECT id, user_id, token_hash, created_at, expires_at, revoked_at FROM refresh_tokens
WHERE token_hash=$1 AND revoked_at IS NULL AND expires_at > $2`
	var t RefreshToken
	if err := r.pool.QueryRow(ctx, q, hash, now).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt, &t.RevokedAt); err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (r *refreshTokenRepo) Revoke(ctx context.Context, hash string, now time.Time) error {
	defer observeDB(ctx, "refresh_tokens.revoke")()
	const q = `UPDATE refresh_tokens SET revoked_at=COALESCE(revoked_at, $2) WHERE token_hash=$1`
	return expectOne(r.pool.Exec(ctx, q, hash, now))
}

func (r *refreshTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	defer observeDB(ctx, "refresh_tokens.delete_expired")()
	tag, err := r.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
