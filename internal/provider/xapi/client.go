// Package xapi wraps the X search upstream: query construction, paginated
// search execution, and normalization of the two historical response
// shapes into one canonical post.
package xapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"

	"github.com/Sendo-labs/leaderboard/pkg/clients"
)

const defaultTimeout = 30 * time.Second

// ErrTimeout means the single-request timeout elapsed. Distinct from
// UpstreamError; the orchestrator does not retry timeouts.
var ErrTimeout = errors.New("search request timed out")

// UpstreamError is a non-2xx search response
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("x search returned status %d: %s", e.StatusCode, e.Message)
}

// SearchPage is one page of search results with its continuation cursor
type SearchPage struct {
	Posts      []RawPost `json:"posts"`
	NextCursor string    `json:"next_cursor"`
	HasMore    bool      `json:"has_more"`
}

// Client is an X search API client
type Client struct {
	baseURL        string
	token          string
	requestTimeout time.Duration
	client         *http.Client
	httpExecutor   failsafe.Executor[*http.Response]
}

type Option func(*Client)

// NewClient creates an X search client
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		token:          token,
		requestTimeout: defaultTimeout,
		client: &http.Client{
			Transport: clients.DefaultTransport(),
		},
		httpExecutor: clients.NewHTTPExecutor(clients.DefaultHTTPExecutorConfig()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithRequestTimeout overrides the per-request timeout
func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.requestTimeout = timeout
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.client = httpClient
		}
	}
}

// WithHTTPExecutorConfig overrides the retry policy
func WithHTTPExecutorConfig(cfg clients.HTTPExecutorConfig) Option {
	return func(c *Client) {
		c.httpExecutor = clients.NewHTTPExecutor(cfg)
	}
}

// Search runs one page of the query. An empty cursor requests the first
// page. Each call is bounded by the configured request timeout and is
// individually cancellable through ctx.
func (c *Client) Search(ctx context.Context, query, cursor string) (*SearchPage, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("query", query)
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	searchURL := c.baseURL + "/search?" + params.Encode()

	resp, err := clients.ExecuteHTTP(reqCtx, c.httpExecutor, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, searchURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.client.Do(req)
		if err == nil && clients.DefaultShouldRetry(resp, nil) {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
		return resp, err
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, c.requestTimeout)
		}
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			Message:    extractErrorMessage(body),
		}
	}

	var page SearchPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	return &page, nil
}

// extractErrorMessage pulls a human-readable message out of an error body
// on a best-effort basis
func extractErrorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, msg := range []string{payload.Error, payload.Message, payload.Detail} {
			if msg != "" {
				return msg
			}
		}
	}
	if len(body) > 200 {
		body = body[:200]
	}
	return string(body)
}
