// Package httpretry provides an HTTP client with automatic retry logic,
// exponential backoff, and jitter for resilient calls to enrichment
// sites, feeds, and engagement providers.
package httpretry

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/fundline/outreach/internal/pkg/logger"
)

// Doer is the interface for executing HTTP requests.
// Both *http.Client and *Client satisfy this interface.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client wraps a Doer with retry logic using exponential backoff and
// full jitter.
type Client struct {
	inner      Doer
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	userAgent  string
	log        *logger.Logger
}

// New creates a retrying client around inner. If inner is nil, a default
// http.Client with a 30s timeout is used. maxRetries is the number of
// retry attempts after the initial request (default 3).
func New(inner Doer, maxRetries int) *Client {
	if inner == nil {
		inner = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{
		inner:      inner,
		maxRetries: maxRetries,
		baseDelay:  500 * time.Millisecond,
		maxDelay:   30 * time.Second,
		log:        logger.Component("httpretry"),
	}
}

// WithUserAgent sets a User-Agent header applied to every request that
// does not already carry one.
func (c *Client) WithUserAgent(ua string) *Client {
	c.userAgent = ua
	return c
}

// Do executes the HTTP request, retrying on retryable status codes
// (429, 500, 502, 503, 504) and transient network errors. Client errors
// (4xx other than 429) and context cancellation are not retried. On the
// final attempt the response is returned as-is so the caller can inspect
// the status and body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if req.Context().Err() != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, req.Context().Err()
		}

		if attempt > 0 {
			// Reset request body for retry if applicable
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: failed to reset request body: %w", err)
				}
				req.Body = body
			}

			delay := Backoff(attempt, c.baseDelay, c.maxDelay)
			c.log.Debug("retrying request",
				"attempt", attempt,
				"max_retries", c.maxRetries,
				"method", req.Method,
				"host", req.URL.Host,
				"path", req.URL.Path,
				"delay", delay.String())

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, req.Context().Err()
			}
		}

		resp, err := c.inner.Do(req)
		if err != nil {
			lastErr = err
			if req.Context().Err() != nil {
				return nil, err
			}
			// Network/connection/timeout error, retry
			continue
		}

		if !RetryableStatus(resp.StatusCode) {
			return resp, nil
		}

		if attempt == c.maxRetries {
			return resp, nil
		}

		// Drain body for connection reuse, then retry
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: server returned retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

// Backoff returns the delay before the given retry attempt (1-based)
// using exponential backoff with full jitter:
// random(0, min(max, base * 2^(attempt-1))), floored at 100ms so tight
// retry loops cannot hammer a struggling collaborator.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	expDelay := float64(base) * math.Pow(2, float64(attempt-1))
	if expDelay > float64(max) {
		expDelay = float64(max)
	}

	jittered := time.Duration(rand.Float64() * expDelay)
	if jittered < 100*time.Millisecond {
		jittered = 100 * time.Millisecond
	}
	return jittered
}

// RetryableStatus reports whether the HTTP status code indicates a
// transient condition worth retrying: 429, 500, 502, 503, 504.
func RetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
