// Package apiclient talks to the Afromémo REST API. Every call goes through
// Client.Do, which attaches the session bearer token and recovers once from an
// expired token by refreshing it.
package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/afromemo/afromemo/internal/logging"
	"github.com/afromemo/afromemo/internal/metrics"
	"github.com/afromemo/afromemo/internal/session"
)

const (
	// HomeRoute is where the user is sent when the session cannot be recovered.
	HomeRoute = "/"

	DefaultTimeout        = 30 * time.Second
	DefaultMaxAuthRetries = 1
)

var (
	// ErrSessionExpired is returned after a failed refresh; the navigator has been sent home.
	ErrSessionExpired = errors.New("apiclient: session expired")
	// ErrNotAuthenticated is returned for AuthSession requests issued without a token.
	ErrNotAuthenticated = errors.New("apiclient: not authenticated")
	// ErrTimeout is returned when the server did not answer within the request timeout.
	ErrTimeout = errors.New("apiclient: request timed out")
)

// AuthMode selects which credential a request carries.
type AuthMode int

const (
	// AuthOptional attaches the session token when there is one.
	AuthOptional AuthMode = iota
	// AuthSession requires the session token.
	AuthSession
	// AuthNone never attaches the session token and never refreshes it. Public
	// submission endpoints use it: their credential is the submission token.
	AuthNone
)

// Request describes one logical API call. Body is kept as bytes so that the
// request can be replayed after a refresh.
type Request struct {
	Method      string
	Path        string
	Header      http.Header
	Body        []byte
	Auth        AuthMode
	OnAuthError AuthErrorHandler
}

// AuthError describes a 401 answer to a request.
type AuthError struct {
	Request Request
	// Attempt counts the authorization failures of this logical call so far.
	Attempt int

	client *Client
}

// Retry reissues the request with token merged into its headers.
func (e *AuthError) Retry(ctx context.Context, token string) (*http.Response, error) {
	req := e.Request
	req.Header = req.Header.Clone()
	if req.Header == nil {
		req.Header = http.Header{}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return e.client.do(ctx, req, e.Attempt)
}

// AuthErrorHandler replaces the default refresh-and-retry behaviour for one request.
type AuthErrorHandler func(ctx context.Context, e *AuthError) (*http.Response, error)

// Navigator moves the user interface to another route.
type Navigator interface {
	Navigate(route string)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(route string)

func (f NavigatorFunc) Navigate(route string) { f(route) }

// StatusError is returned for non-2xx answers.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("api returned %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is a StatusError with one of the given codes.
func IsStatus(err error, codes ...int) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	for _, code := range codes {
		if se.StatusCode == code {
			return true
		}
	}
	return false
}

// Options configures a Client. Zero values select the defaults.
type Options struct {
	BaseURL        string
	Session        *session.Store
	Navigator      Navigator
	Logger         *slog.Logger
	Timeout        time.Duration
	MaxAuthRetries int
	// Jar holds the refresh cookie. Defaults to an in-memory jar.
	Jar       http.CookieJar
	Transport http.RoundTripper
	UserAgent string
}

// Client issues authenticated requests against one API server.
type Client struct {
	base           *url.URL
	http           *http.Client
	session        *session.Store
	navigator      Navigator
	logger         *slog.Logger
	maxAuthRetries int
	userAgent      string

	refreshGroup singleflight.Group
}

// New creates a client for opts.BaseURL.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must use http or https", opts.BaseURL)
	}
	if opts.Session == nil {
		return nil, errors.New("apiclient: session store is required")
	}

	jar := opts.Jar
	if jar == nil {
		if jar, err = NewMemoryJar(); err != nil {
			return nil, err
		}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	retries := opts.MaxAuthRetries
	if retries <= 0 {
		retries = DefaultMaxAuthRetries
	}
	navigator := opts.Navigator
	if navigator == nil {
		navigator = NavigatorFunc(func(string) {})
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "afromemo-client"
	}

	return &Client{
		base: base,
		http: &http.Client{
			Jar:       jar,
			Timeout:   timeout,
			Transport: opts.Transport,
		},
		session:        opts.Session,
		navigator:      navigator,
		logger:         logging.OrDiscard(opts.Logger).With("component", "apiclient"),
		maxAuthRetries: retries,
		userAgent:      userAgent,
	}, nil
}

// Session returns the session store whose token the client sends.
func (c *Client) Session() *session.Store {
	return c.session
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Do issues req. A 401 answer is handed to the request's auth error handler, by
// default a token refresh followed by one retry. Writes are not cancelled by ctx
// once issued.
func (c *Client) Do(ctx context.Context, req Request) (*http.Response, error) {
	if isWrite(req.Method) {
		ctx = context.WithoutCancel(ctx)
	}
	return c.do(ctx, req, 0)
}

func (c *Client) do(ctx context.Context, req Request, attempt int) (*http.Response, error) {
	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || req.Auth == AuthNone {
		return resp, nil
	}
	if attempt >= c.maxAuthRetries {
		c.logger.Warn("request still unauthorized after token refresh",
			"method", req.Method, "path", req.Path, "attempts", attempt)
		return resp, nil
	}
	drain(resp)

	handler := req.OnAuthError
	if handler == nil {
		handler = c.refreshAndRetry
	}
	return handler(ctx, &AuthError{Request: req, Attempt: attempt + 1, client: c})
}

func (c *Client) refreshAndRetry(ctx context.Context, e *AuthError) (*http.Response, error) {
	token, err := c.refresh(ctx)
	if err != nil {
		c.logger.Warn("token refresh failed, leaving session", "error", err)
		c.navigator.Navigate(HomeRoute)
		return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	return e.Retry(ctx, token)
}

// refresh obtains a new access token through the refresh cookie. Concurrent
// callers share one refresh call.
func (c *Client) refresh(ctx context.Context) (string, error) {
	v, err, shared := c.refreshGroup.Do("refresh", func() (any, error) {
		token, err := c.RefreshToken(ctx)
		if err != nil {
			metrics.ObserveTokenRefresh("failure")
			return "", err
		}
		metrics.ObserveTokenRefresh("success")
		if err := c.session.SetToken(ctx, token); err != nil {
			c.logger.Warn("persist refreshed token", "error", err)
		}
		return token, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		c.logger.Debug("joined in-flight token refresh")
	}
	return v.(string), nil
}

func (c *Client) send(ctx context.Context, req Request) (*http.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target, err := c.resolve(req.Path)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if req.Body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)

	switch req.Auth {
	case AuthNone:
		httpReq.Header.Del("Authorization")
	default:
		if httpReq.Header.Get("Authorization") == "" {
			token := c.session.Token()
			if token == "" && req.Auth == AuthSession {
				return nil, ErrNotAuthenticated
			}
			if token != "" {
				httpReq.Header.Set("Authorization", "Bearer "+token)
			}
		}
	}

	c.logger.Debug("HTTP request", "method", method, "url", target)
	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.ObserveClientRequest(method, "error", time.Since(start))
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %s %s", ErrTimeout, method, req.Path)
		}
		return nil, fmt.Errorf("%s %s: %w", method, req.Path, err)
	}
	metrics.ObserveClientRequest(method, statusClass(resp.StatusCode), time.Since(start))
	c.logger.Debug("HTTP response", "method", method, "url", target, "status", resp.StatusCode)
	return resp, nil
}

func (c *Client) resolve(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse path %q: %w", path, err)
	}
	if ref.IsAbs() {
		return "", fmt.Errorf("path %q must be relative to the API root", path)
	}
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(ref.Path, "/")
	u.RawQuery = ref.RawQuery
	return u.String(), nil
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
