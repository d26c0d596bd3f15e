package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"golang.org/x/net/publicsuffix"

	"github.com/afromemo/afromemo/internal/localstore"
	"github.com/afromemo/afromemo/internal/logging"
)

// CookieStorageKey is the local storage key of the persisted API cookies.
const CookieStorageKey = "apiCookies"

type storedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Jar is a cookie jar that can mirror the API server cookies into local
// storage, so that the refresh cookie outlives the process like it does in a browser.
type Jar struct {
	mu      sync.Mutex
	inner   *cookiejar.Jar
	storage localstore.Storage
	origin  *url.URL
	logger  *slog.Logger
}

// NewMemoryJar returns a jar that forgets its cookies on exit.
func NewMemoryJar() (*Jar, error) {
	inner, err := newCookieJar()
	if err != nil {
		return nil, err
	}
	return &Jar{inner: inner, logger: logging.Discard()}, nil
}

// NewPersistentJar returns a jar restoring and saving the cookies of baseURL in storage.
func NewPersistentJar(ctx context.Context, storage localstore.Storage, baseURL string, logger *slog.Logger) (*Jar, error) {
	origin, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	origin = &url.URL{Scheme: origin.Scheme, Host: origin.Host, Path: "/"}
	inner, err := newCookieJar()
	if err != nil {
		return nil, err
	}
	j := &Jar{inner: inner, storage: storage, origin: origin, logger: logging.OrDiscard(logger)}

	data, err := storage.Get(ctx, CookieStorageKey)
	switch {
	case errors.Is(err, localstore.ErrNotFound):
		return j, nil
	case err != nil:
		j.logger.Warn("read persisted cookies", "error", err)
		return j, nil
	}
	var stored []storedCookie
	if err := json.Unmarshal(data, &stored); err != nil {
		j.logger.Warn("discarding persisted cookies", "error", err)
		return j, nil
	}
	cookies := make([]*http.Cookie, 0, len(stored))
	for _, sc := range stored {
		cookies = append(cookies, &http.Cookie{Name: sc.Name, Value: sc.Value, Path: "/"})
	}
	inner.SetCookies(origin, cookies)
	return j, nil
}

func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.inner.SetCookies(u, cookies)
	j.persistLocked(context.Background())
}

func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.inner.Cookies(u)
}

// Clear drops every cookie, including the persisted copy.
func (j *Jar) Clear(ctx context.Context) error {
	inner, err := newCookieJar()
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.inner = inner
	if j.storage == nil {
		return nil
	}
	return j.storage.Delete(ctx, CookieStorageKey)
}

func (j *Jar) persistLocked(ctx context.Context) {
	if j.storage == nil {
		return
	}
	current := j.inner.Cookies(j.origin)
	stored := make([]storedCookie, 0, len(current))
	for _, c := range current {
		stored = append(stored, storedCookie{Name: c.Name, Value: c.Value})
	}
	data, err := json.Marshal(stored)
	if err != nil {
		j.logger.Warn("encode cookies", "error", err)
		return
	}
	if err := j.storage.Set(ctx, CookieStorageKey, data); err != nil {
		j.logger.Warn("persist cookies", "error", err)
	}
}

func newCookieJar() (*cookiejar.Jar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return jar, nil
}
