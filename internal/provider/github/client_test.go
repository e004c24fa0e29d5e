package github

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Sendo-labs/leaderboard/pkg/clients"
)

func fastRetryConfig() clients.HTTPExecutorConfig {
	return clients.HTTPExecutorConfig{
		MaxRetries:  2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		ShouldRetry: clients.DefaultShouldRetry,
	}
}

func TestFetchProfileReadme(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/repos/octocat/octocat/readme", r.URL.Path)
		require.Equal(t, "Bearer gh-token", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("# Hi\nprofile text"))
	}))
	defer server.Close()

	c := NewClient("gh-token", WithBaseURL(server.URL), WithHTTPExecutorConfig(fastRetryConfig()))
	text, err := c.FetchProfileReadme(context.Background(), "octocat")
	require.NoError(t, err)
	require.Equal(t, "# Hi\nprofile text", text)
}

func TestFetchProfileReadmeNotFound(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewClient("", WithBaseURL(server.URL), WithHTTPExecutorConfig(fastRetryConfig()))
	_, err := c.FetchProfileReadme(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotFound)
	// Not-found is definitive and must not consume retries
	require.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestFetchProfileReadmeRetriesTransientErrors(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("readme"))
	}))
	defer server.Close()

	c := NewClient("", WithBaseURL(server.URL), WithHTTPExecutorConfig(fastRetryConfig()))
	text, err := c.FetchProfileReadme(context.Background(), "flaky")
	require.NoError(t, err)
	require.Equal(t, "readme", text)
	require.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestFetchProfileReadmeUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"API rate limit exceeded"}`))
	}))
	defer server.Close()

	c := NewClient("", WithBaseURL(server.URL), WithHTTPExecutorConfig(fastRetryConfig()))
	_, err := c.FetchProfileReadme(context.Background(), "limited")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	require.Contains(t, apiErr.Message, "rate limit")
}
