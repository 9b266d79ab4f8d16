package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/chatgate/chatgate/internal/composer"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxAttempts = 3
	initialBackoff     = 500 * time.Millisecond
)

// ErrUpstream is returned when the vector service responds with a
// non-retriable error status or retries are exhausted. The orchestrator is
// expected to degrade to an empty context rather than fail the request.
var ErrUpstream = errors.New("vector service unavailable")

// Client calls the vector service similarity-search endpoint. Transient
// failures (connection errors, timeouts, 5xx) are retried with exponential
// backoff; a 429 is never retried and yields an empty result so the pipeline
// can proceed without context.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	maxAttempts int
	logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithMaxAttempts sets the attempt budget for transient failures.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n >= 1 {
			c.maxAttempts = n
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Client for the vector service at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: defaultTimeout},
		maxAttempts: defaultMaxAttempts,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchRequest struct {
	Query string `json:"query"`
	Role  string `json:"role"`
}

// Search returns snippets similar to query, most relevant first. The result
// order is the service's relevance order and must be preserved by callers.
func (c *Client) Search(ctx context.Context, query, role string) ([]composer.Snippet, error) {
	body, err := json.Marshal(searchRequest{Query: query, Role: role})
	if err != nil {
		return nil, fmt.Errorf("marshaling search request: %w", err)
	}

	var lastErr error
	for attempt := range c.maxAttempts {
		if attempt > 0 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt-1)))
			c.logger.Warn("retrying similarity search", "attempt", attempt+1, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		snippets, retriable, err := c.doSearch(ctx, body)
		if err == nil {
			return snippets, nil
		}
		if !retriable {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %d attempts failed: %v", ErrUpstream, c.maxAttempts, lastErr)
}

// doSearch performs one attempt. The second return value reports whether the
// failure is transient and worth another attempt.
func (c *Client) doSearch(ctx context.Context, body []byte) ([]composer.Snippet, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/similarity-search", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Connection failures and timeouts are transient.
		return nil, true, fmt.Errorf("calling vector service: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		var snippets []composer.Snippet
		if err := json.NewDecoder(resp.Body).Decode(&snippets); err != nil {
			return nil, false, fmt.Errorf("%w: decoding response: %v", ErrUpstream, err)
		}
		return snippets, false, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		// Degraded success: context is an enhancement, not a requirement.
		c.logger.Warn("vector service rate limited, proceeding without context")
		return []composer.Snippet{}, false, nil

	case resp.StatusCode >= 500:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, true, fmt.Errorf("vector service status %d: %s", resp.StatusCode, respBody)

	default:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, false, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, respBody)
	}
}
