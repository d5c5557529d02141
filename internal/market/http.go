// Package market holds the HTTP collaborators: the DexScreener price and
// metrics client and the token-list candidate source.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"dex-trade-agent/internal/observability"
	"dex-trade-agent/internal/retry"
)

// Default configuration values.
const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// ErrNotFound is returned when the API has no data for a token.
var ErrNotFound = errors.New("not found")

// getter fetches JSON documents with retries and exponential backoff.
type getter struct {
	client *http.Client
	policy retry.Policy
	name   string
}

// ClientOption configures the market clients.
type ClientOption func(*getter)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(g *getter) {
		g.client.Timeout = d
	}
}

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) ClientOption {
	return func(g *getter) {
		g.policy.MaxAttempts = n + 1
	}
}

// WithRetryDelay sets the initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(g *getter) {
		g.policy.BaseDelay = d
	}
}

// WithMaxDelay sets the maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(g *getter) {
		g.policy.MaxDelay = d
	}
}

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(g *getter) {
		g.client = client
	}
}

func newGetter(name string, opts []ClientOption) *getter {
	g := &getter{
		client: &http.Client{Timeout: DefaultTimeout},
		policy: retry.Policy{
			MaxAttempts: DefaultMaxRetries + 1,
			BaseDelay:   DefaultRetryDelay,
			MaxDelay:    DefaultMaxDelay,
			BackoffMult: DefaultBackoffMult,
		},
		name: name,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// getJSON GETs url and decodes the body into out. 429 and 5xx responses
// are retried; other non-200 statuses are not.
func (g *getter) getJSON(ctx context.Context, url string, out interface{}) error {
	start := time.Now()
	defer func() {
		observability.RecordHTTPLatency(g.name, time.Since(start).Seconds())
	}()

	res := retry.Do(ctx, g.policy, func(ctx context.Context) (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return struct{}{}, retry.Permanent(fmt.Errorf("create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := g.client.Do(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("http request: %w", err)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return struct{}{}, fmt.Errorf("read response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return struct{}{}, fmt.Errorf("rate limited (429)")
		case resp.StatusCode == http.StatusNotFound:
			return struct{}{}, retry.Permanent(ErrNotFound)
		case resp.StatusCode >= 500:
			return struct{}{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return struct{}{}, retry.Permanent(fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 200)))
		}

		if err := json.Unmarshal(body, out); err != nil {
			return struct{}{}, retry.Permanent(fmt.Errorf("unmarshal response: %w", err))
		}
		return struct{}{}, nil
	})
	return res.Err
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
