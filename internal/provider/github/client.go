// Package github fetches contributor profile READMEs, the surface where
// linking claims live. GitHub is consumed as a black-box HTTP service.
package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"

	"github.com/Sendo-labs/leaderboard/pkg/clients"
)

const (
	defaultBaseURL = "https://api.github.com"
	defaultTimeout = 15 * time.Second
)

// ErrNotFound means the user has no profile README (or no profile repo).
// Absence is a normal outcome for contributors who never linked.
var ErrNotFound = errors.New("profile readme not found")

// APIError is a non-2xx response other than not-found
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github returned status %d: %s", e.StatusCode, e.Message)
}

// Client is a GitHub API client scoped to profile README reads
type Client struct {
	baseURL      string
	token        string
	client       *http.Client
	httpExecutor failsafe.Executor[*http.Response]
}

type Option func(*Client)

// NewClient creates a GitHub client. token may be empty for anonymous
// access (tighter rate limits apply).
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		token:   token,
		client: &http.Client{
			Timeout:   defaultTimeout,
			Transport: clients.DefaultTransport(),
		},
		httpExecutor: clients.NewHTTPExecutor(clients.DefaultHTTPExecutorConfig()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithBaseURL overrides the API base URL (used in tests)
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
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

// FetchProfileReadme returns the raw markdown of username's profile README
// (the README of the user's eponymous repo). Returns ErrNotFound when the
// user has no profile README; transient upstream errors are retried by the
// shared executor before surfacing as an APIError.
func (c *Client) FetchProfileReadme(ctx context.Context, username string) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/readme", c.baseURL, username, username)

	resp, err := clients.ExecuteHTTP(ctx, c.httpExecutor, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/vnd.github.raw+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.client.Do(req)
		if err == nil && clients.DefaultShouldRetry(resp, nil) {
			// Drain before the executor retries so the connection is reusable
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
		return resp, err
	})
	if err != nil {
		return "", fmt.Errorf("fetch profile readme for %s: %w", username, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNotFound
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read profile readme for %s: %w", username, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode, Message: truncate(string(body), 200)}
	}

	return string(body), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
