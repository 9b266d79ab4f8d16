// Package auth verifies bearer tokens against the external auth service.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 5 * time.Second

var (
	// ErrUnauthorized means the token was rejected: the caller must log in
	// again.
	ErrUnauthorized = errors.New("invalid or expired token")

	// ErrUnavailable means the auth service did not answer in time: the
	// caller may retry later.
	ErrUnavailable = errors.New("authentication service unavailable")
)

// User identifies an authenticated caller.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Client checks token validity via GET /auth/status/.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client for the auth service at baseURL. timeout <= 0
// uses the 5s default.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Verify validates token and returns the user it belongs to. Any non-200
// status maps to ErrUnauthorized; timeouts and connection failures map to
// ErrUnavailable.
func (c *Client) Verify(ctx context.Context, token string) (User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/status/", nil)
	if err != nil {
		return User{}, fmt.Errorf("creating auth request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return User{}, ErrUnauthorized
	}

	// The auth service serves numeric ids; keep them as strings end to end.
	var status struct {
		User struct {
			ID    json.RawMessage `json:"id"`
			Email string          `json:"email"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return User{}, fmt.Errorf("%w: decoding status: %v", ErrUnavailable, err)
	}
	id := strings.Trim(string(status.User.ID), `"`)
	if id == "" || id == "null" {
		return User{}, ErrUnauthorized
	}
	return User{ID: id, Email: status.User.Email}, nil
}
