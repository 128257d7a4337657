// Package upstream talks to the third-party music provider's auth endpoints on
// behalf of local users.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// sessionCookieName is the cookie the provider uses to deliver session tokens.
const sessionCookieName = "session"

// Error wraps every upstream failure (transport errors, unexpected statuses,
// missing session cookies) into a single kind carrying the provider's
// status and body for diagnostics.
type Error struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("upstream %s: status %d: %s", e.Op, e.Status, e.Body)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config configures the upstream auth client.
type Config struct {
	BaseURL string
	// UserAgent is the fixed outbound identifier the provider gates on.
	UserAgent  string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client performs registration and login against the upstream provider.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
}

// New constructs a Client. A default 10s-timeout HTTP client is used when none
// is supplied.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("upstream base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    base,
		userAgent:  strings.TrimSpace(cfg.UserAgent),
		httpClient: httpClient,
	}, nil
}

// BaseURL reports the configured provider endpoint.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// UserAgent reports the fixed outbound identifier.
func (c *Client) UserAgent() string {
	return c.userAgent
}

// HTTPClient exposes the underlying transport for collaborators that talk to
// the same provider.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates an account with the provider. Success is a 201 response;
// anything else is reported as *Error.
func (c *Client) Register(ctx context.Context, username, email, password string) error {
	resp, err := c.post(ctx, "/auth/register", registerRequest{
		Username: username,
		Email:    email,
		Password: password,
	})
	if err != nil {
		return &Error{Op: "register", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return &Error{Op: "register", Status: resp.StatusCode, Body: readBody(resp.Body)}
	}
	return nil
}

// Login authenticates with the provider and extracts the opaque session token
// from the response's session cookie.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	resp, err := c.post(ctx, "/auth/login", loginRequest{Email: email, Password: password})
	if err != nil {
		return "", &Error{Op: "login", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &Error{Op: "login", Status: resp.StatusCode, Body: readBody(resp.Body)}
	}
	for _, cookie := range resp.Cookies() {
		if cookie.Name == sessionCookieName && cookie.Value != "" {
			return cookie.Value, nil
		}
	}
	return "", &Error{Op: "login", Status: resp.StatusCode, Body: "session cookie missing"}
}

func (c *Client) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return c.httpClient.Do(req)
}

func readBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
