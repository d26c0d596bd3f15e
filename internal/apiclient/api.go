package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/afromemo/afromemo/internal/agenda"
	"github.com/afromemo/afromemo/internal/session"
)

// MaxUploadSize is the largest poster the server accepts.
const MaxUploadSize = 5 << 20

// ErrUploadTooLarge is returned before uploading a file larger than MaxUploadSize.
var ErrUploadTooLarge = errors.New("apiclient: poster exceeds 5 MiB")

// Login exchanges credentials for an access token. The refresh cookie set by the
// server lands in the client's jar.
func (c *Client) Login(ctx context.Context, creds Credentials) (string, error) {
	var out TokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/login", creds, AuthNone, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("login response has no token")
	}
	return out.Token, nil
}

// RefreshToken obtains a new access token using the refresh cookie only.
func (c *Client) RefreshToken(ctx context.Context) (string, error) {
	var out TokenResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/refreshToken", nil, AuthNone, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("refresh response has no token")
	}
	return out.Token, nil
}

// SignIn logs in, fetches the profile of creds.Username with the new token and
// makes it the current session.
func (c *Client) SignIn(ctx context.Context, creds Credentials) (session.Session, error) {
	token, err := c.Login(ctx, creds)
	if err != nil {
		return session.Session{}, err
	}
	// Without a current session the token stays in memory until the profile
	// confirms the identity.
	if err := c.session.SetToken(ctx, token); err != nil {
		return session.Session{}, err
	}
	var user session.User
	err = c.doRequest(ctx, Request{
		Method: http.MethodGet,
		Path:   "/api/protected/user?username=" + url.QueryEscape(creds.Username),
		Auth:   AuthSession,
	}, &user)
	if err != nil {
		return session.Session{}, fmt.Errorf("fetch profile: %w", err)
	}
	sess := session.Session{User: user, Token: token}
	if err := c.session.Login(ctx, sess); err != nil {
		return session.Session{}, err
	}
	sess.IsAuthenticated = true
	return sess, nil
}

// Logout revokes the refresh token server-side.
func (c *Client) Logout(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/api/logout", nil, AuthOptional, nil)
}

// GetUser returns the profile of username.
func (c *Client) GetUser(ctx context.Context, username string) (session.User, error) {
	var out session.User
	path := "/api/protected/user?username=" + url.QueryEscape(username)
	err := c.doJSON(ctx, http.MethodGet, path, nil, AuthSession, &out)
	return out, err
}

// ListAgenda returns the public agenda, or every entry when admin is set.
// Entries without a poster get the placeholder.
func (c *Client) ListAgenda(ctx context.Context, admin bool) ([]agenda.Entry, error) {
	path, auth := "/api/agenda", AuthOptional
	if admin {
		path, auth = "/api/protected/agenda", AuthSession
	}
	var entries []agenda.Entry
	if err := c.doJSON(ctx, http.MethodGet, path, nil, auth, &entries); err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i] = entries[i].WithPlaceholder()
	}
	return entries, nil
}

func (c *Client) GetAgendaEntry(ctx context.Context, id string) (agenda.Entry, error) {
	var out agenda.Entry
	err := c.doJSON(ctx, http.MethodGet, "/api/agenda/"+url.PathEscape(id), nil, AuthOptional, &out)
	return out, err
}

// CreateAgendaEntry stores an admin-authored entry.
func (c *Client) CreateAgendaEntry(ctx context.Context, e agenda.Entry) (agenda.Entry, error) {
	var out agenda.Entry
	err := c.doJSON(ctx, http.MethodPost, "/api/agenda", e, AuthSession, &out)
	return out, err
}

// UpdateAgendaEntry replaces an admin-authored entry.
func (c *Client) UpdateAgendaEntry(ctx context.Context, e agenda.Entry) error {
	return c.doJSON(ctx, http.MethodPut, "/api/agenda/"+url.PathEscape(e.ID), e, AuthSession, nil)
}

// UpdateAgendaStatus changes the status of a published entry.
func (c *Client) UpdateAgendaStatus(ctx context.Context, id string, status agenda.Status) error {
	body := StatusUpdate{ID: id, Status: status}
	return c.doJSON(ctx, http.MethodPatch, "/api/agenda/"+url.PathEscape(id), body, AuthSession, nil)
}

// GetSubmission loads a submission by any of its tokens.
func (c *Client) GetSubmission(ctx context.Context, token string) (SubmissionRecord, error) {
	var out SubmissionRecord
	err := c.doJSON(ctx, http.MethodGet, "/api/submissions/"+url.PathEscape(token), nil, AuthNone, &out)
	return out, err
}

// CSRFToken fetches a single-use token for state-changing public requests.
func (c *Client) CSRFToken(ctx context.Context) (string, error) {
	var out csrfResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/csrfToken", nil, AuthNone, &out); err != nil {
		return "", err
	}
	if out.CSRFToken == "" {
		return "", errors.New("csrf response has no token")
	}
	return out.CSRFToken, nil
}

// SaveSubmission creates a submission, or edits it when rec.Token is set.
func (c *Client) SaveSubmission(ctx context.Context, rec SubmissionRecord, csrfToken string) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}
	header := http.Header{}
	header.Set("X-CSRF-Token", csrfToken)
	return c.doRequest(ctx, Request{
		Method: http.MethodPost,
		Path:   "/api/submissions",
		Header: header,
		Body:   body,
		Auth:   AuthNone,
	}, nil)
}

// ConfirmSubmission confirms the submitter's email with the confirmation token.
// It returns the server message ("Ok" or "Already confirmed").
func (c *Client) ConfirmSubmission(ctx context.Context, token string) (string, error) {
	var out envelope
	err := c.doJSON(ctx, http.MethodPost, "/api/submissions/confirm", TokenRequest{Token: token}, AuthNone, &out)
	return out.Message, err
}

// DeleteSubmission cancels a submission with its cancellation token.
func (c *Client) DeleteSubmission(ctx context.Context, token string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/submissions/delete", TokenRequest{Token: token}, AuthNone, nil)
}

// PublishSubmission publishes a submission as an agenda entry. It carries both
// the session token and the submission token.
func (c *Client) PublishSubmission(ctx context.Context, token string, entry agenda.Entry) error {
	body := PublishRequest{FormData: entry, Action: ActionPublish, Token: token}
	return c.doJSON(ctx, http.MethodPost, "/api/protected/agenda/admin", body, AuthSession, nil)
}

// ListSubmissions returns the submissions for moderation as agenda entries.
// Records without an email are dropped.
func (c *Client) ListSubmissions(ctx context.Context) ([]agenda.Entry, error) {
	var records []SubmissionRecord
	if err := c.doJSON(ctx, http.MethodGet, "/api/protected/submissions", nil, AuthSession, &records); err != nil {
		return nil, err
	}
	entries := make([]agenda.Entry, 0, len(records))
	for _, r := range records {
		if strings.TrimSpace(r.Email) == "" {
			continue
		}
		entries = append(entries, r.Entry())
	}
	return entries, nil
}

// SubmissionDiff compares a submission with its published entry, field by field.
func (c *Client) SubmissionDiff(ctx context.Context, id string) (map[string]FieldChange, error) {
	var out envelope
	if err := c.doJSON(ctx, http.MethodGet, "/api/submissions/diff/"+url.PathEscape(id), nil, AuthSession, &out); err != nil {
		return nil, err
	}
	diff := map[string]FieldChange{}
	if len(out.Data) == 0 || string(out.Data) == "null" {
		return diff, nil
	}
	if err := json.Unmarshal(out.Data, &diff); err != nil {
		return nil, fmt.Errorf("decode diff: %w", err)
	}
	return diff, nil
}

// UploadPoster sends an image as the multipart field "file".
func (c *Client) UploadPoster(ctx context.Context, filename string, r io.Reader) (Upload, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return Upload{}, fmt.Errorf("read poster: %w", err)
	}
	if len(data) > MaxUploadSize {
		return Upload{}, ErrUploadTooLarge
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(filename))},
		"Content-Type":        {http.DetectContentType(data)},
	})
	if err != nil {
		return Upload{}, fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return Upload{}, fmt.Errorf("write multipart part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Upload{}, fmt.Errorf("close multipart writer: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", mw.FormDataContentType())
	var out envelope
	if err := c.doRequest(ctx, Request{
		Method: http.MethodPost,
		Path:   "/upload",
		Header: header,
		Body:   buf.Bytes(),
		Auth:   AuthOptional,
	}, &out); err != nil {
		return Upload{}, err
	}
	var up Upload
	if err := json.Unmarshal(out.Data, &up); err != nil {
		return Upload{}, fmt.Errorf("decode upload response: %w", err)
	}
	return up, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, auth AuthMode, out any) error {
	req := Request{Method: method, Path: path, Auth: auth}
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		req.Body = body
	}
	return c.doRequest(ctx, req, out)
}

func (c *Client) doRequest(ctx context.Context, req Request, out any) error {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readStatusError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", req.Method, req.Path, err)
	}
	return nil
}

func readStatusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	se := &StatusError{StatusCode: resp.StatusCode}
	var env envelope
	if err := json.Unmarshal(data, &env); err == nil && env.Message != "" {
		se.Message = env.Message
	} else {
		se.Message = strings.TrimSpace(string(data))
	}
	return se
}
