// Package rest implements the HTTP client for the backend's JSON API.
// Authentication is cookie-based: the server sets a session cookie on
// login and every subsequent call carries it via the client's jar.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrUnauthorized is returned when the server rejects the session cookie.
// The registered unauthorized callback has already fired by the time a
// caller sees this error.
var ErrUnauthorized = errors.New("rest: unauthorized")

// Client talks to the backend REST API.
type Client struct {
	base   *url.URL
	http   *http.Client
	jar    *cookiejar.Jar
	logger *zap.Logger

	mu             sync.Mutex
	onUnauthorized func()
}

// NewClient creates a client for the given base URL (e.g.
// "http://localhost:4000").
func NewClient(baseURL string, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	return &Client{
		base: base,
		http: &http.Client{
			Jar:     jar,
			Timeout: 30 * time.Second,
		},
		jar:    jar,
		logger: logger,
	}, nil
}

// SetOnUnauthorized registers a callback invoked whenever any request
// comes back 401. The callback runs on the calling goroutine before the
// request's error is returned.
func (c *Client) SetOnUnauthorized(fn func()) {
	c.mu.Lock()
	c.onUnauthorized = fn
	c.mu.Unlock()
}

// ExportCookies serializes the jar's cookies for the base URL so a
// session can resume after a daemon restart.
func (c *Client) ExportCookies() ([]byte, error) {
	return json.Marshal(c.jar.Cookies(c.base))
}

// ImportCookies restores cookies previously produced by ExportCookies.
func (c *Client) ImportCookies(data []byte) error {
	var cookies []*http.Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return fmt.Errorf("decode cookies: %w", err)
	}
	c.jar.SetCookies(c.base, cookies)
	return nil
}

// ClearCookies drops the session cookies, e.g. after logout.
func (c *Client) ClearCookies() {
	// cookiejar has no delete; expire every known cookie instead.
	for _, ck := range c.jar.Cookies(c.base) {
		ck.MaxAge = -1
		c.jar.SetCookies(c.base, []*http.Cookie{ck})
	}
}

type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doJSON performs a request and decodes the JSON response into out (which
// may be nil for calls whose body is ignored). A 401 fires the
// unauthorized callback and returns ErrUnauthorized.
func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	contentType := ""
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(buf)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, reqBody, contentType, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	u := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		c.fireUnauthorized()
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		msg := ""
		if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr); err == nil {
			if apiErr.Error != "" {
				msg = apiErr.Error
			} else {
				msg = apiErr.Message
			}
		}
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) fireUnauthorized() {
	c.mu.Lock()
	fn := c.onUnauthorized
	c.mu.Unlock()
	if fn != nil {
		c.logger.Warn("server rejected session cookie")
		fn()
	}
}
