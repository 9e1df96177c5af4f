// Package publisher pushes sensor records to a Ghost site through the Ghost
// Admin API. The Client is constructed explicitly and owns its connection
// lifecycle; nothing here is process-global.
package publisher

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/starford/sensorhub/internal/apperr"
)

const (
	adminPath     = "/ghost/api/admin/"
	tokenLifetime = 5 * time.Minute
	maxRespBytes  = 10 << 20
)

// ErrNotConnected is returned by API calls made before Connect or after Close.
var ErrNotConnected = errors.New("publisher: client not connected")

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the Ghost connection parameters.
type Config struct {
	// URL is the site root, e.g. https://blog.example.com.
	URL string
	// AdminKey is the Admin API key in "id:secret" form, secret hex-encoded.
	AdminKey string
	Timeout  time.Duration
}

// APIError is a non-2xx answer from the Admin API.
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("ghost: %d %s: %s", e.Status, e.Type, e.Message)
	}
	return fmt.Sprintf("ghost: %d: %s", e.Status, e.Message)
}

// Unwrap maps 404 onto apperr.ErrNotFound.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return apperr.ErrNotFound
	}
	return apperr.ErrUpstream
}

// Client talks to one Ghost site.
type Client struct {
	base    *url.URL
	keyID   string
	secret  []byte
	timeout time.Duration
	http    Doer
	now     func() time.Time
	logger  *slog.Logger

	mu        sync.RWMutex
	connected bool
	site      string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the transport used for Admin API calls.
func WithHTTPClient(d Doer) ClientOption {
	return func(c *Client) {
		c.http = d
	}
}

// WithClientClock overrides the clock used for token timestamps.
func WithClientClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		c.now = now
	}
}

// WithClientLogger sets the client logger.
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient validates cfg and returns an unconnected client.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("publisher: invalid site url %q", cfg.URL)
	}
	id, secretHex, ok := strings.Cut(cfg.AdminKey, ":")
	if !ok || id == "" || secretHex == "" {
		return nil, fmt.Errorf("publisher: admin key must be id:secret")
	}
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("publisher: admin key secret: %w", err)
	}

	c := &Client{
		base:    base,
		keyID:   id,
		secret:  secret,
		timeout: cfg.Timeout,
		now:     time.Now,
		logger:  slog.Default(),
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: c.timeout}
	}
	return c, nil
}

// Connect verifies the key against the site and marks the client ready.
func (c *Client) Connect(ctx context.Context) error {
	var out struct {
		Site struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Version string `json:"version"`
		} `json:"site"`
	}
	if err := c.call(ctx, http.MethodGet, "site/", nil, nil, "", &out); err != nil {
		return fmt.Errorf("publisher: connect: %w", err)
	}
	// site/ is public; an authenticated read proves the key works.
	if err := c.call(ctx, http.MethodGet, "tags/", url.Values{"limit": {"1"}, "fields": {"id"}}, nil, "", nil); err != nil {
		return fmt.Errorf("publisher: connect: %w", err)
	}

	c.mu.Lock()
	c.connected = true
	c.site = out.Site.Title
	c.mu.Unlock()

	c.logger.Info("publisher: connected",
		slog.String("url", c.base.String()),
		slog.String("site", out.Site.Title),
		slog.String("version", out.Site.Version))
	return nil
}

// Close ends the session. Later API calls fail with ErrNotConnected.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return nil
}

// Connected reports whether Connect succeeded and Close was not called.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// token signs a short-lived Admin API JWT.
func (c *Client) token() (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenLifetime)),
		Audience:  jwt.ClaimStrings{"/admin/"},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["kid"] = c.keyID
	return tok.SignedString(c.secret)
}

// do is call for connected clients only.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	return c.call(ctx, method, path, query, body, contentType, out)
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + adminPath + path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	tok, err := c.token()
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	req.Header.Set("Authorization", "Ghost "+tok)
	req.Header.Set("Accept-Version", "v5.0")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w: %w", method, path, apperr.ErrUpstream, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRespBytes))
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(status int, data []byte) error {
	var body struct {
		Errors []struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"errors"`
	}
	e := &APIError{Status: status, Message: http.StatusText(status)}
	if json.Unmarshal(data, &body) == nil && len(body.Errors) > 0 {
		e.Message = body.Errors[0].Message
		e.Type = body.Errors[0].Type
	}
	return e
}

func jsonBody(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}
