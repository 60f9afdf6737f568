// Package webhook posts mapped payloads to partner HTTP endpoints.
//
// One Post call is one delivery attempt. The delivery worker owns the
// retry schedule, so unlike a self-retrying publisher this client only
// classifies the outcome: 2xx succeeds, 4xx is terminal, everything
// else is transient.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pithecene-io/assay/iox"
)

// DefaultTimeout is the default per-attempt timeout.
const DefaultTimeout = 30 * time.Second

// bodyCaptureLimit bounds how much of a partner response is kept on the
// delivery record.
const bodyCaptureLimit = 1000

// Config configures the webhook client.
type Config struct {
	// Timeout is the per-attempt timeout (default 30s).
	Timeout time.Duration
	// Headers are base HTTP headers added to every request. Per-call
	// headers override them.
	Headers map[string]string
}

// Client posts JSON payloads.
type Client struct {
	config Config
	client *http.Client
}

// New creates a webhook client from the given config.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Result is a completed 2xx attempt.
type Result struct {
	StatusCode int
	// Body holds up to bodyCaptureLimit bytes of the partner response.
	Body string
}

// StatusError is returned for non-2xx HTTP responses. The code lets
// callers distinguish terminal (4xx) from transient (5xx and others).
type StatusError struct {
	Code int
	// Body holds up to bodyCaptureLimit bytes of the error response.
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Code)
}

// Terminal reports whether the response status should never be retried.
func (e *StatusError) Terminal() bool {
	return e.Code >= 400 && e.Code < 500
}

// Post sends payload as one JSON POST. Base headers from the config are
// applied first, then the per-call headers on top. Network errors and
// timeouts come back as plain errors; non-2xx statuses as *StatusError.
func (c *Client) Post(ctx context.Context, url string, payload any, headers map[string]string) (*Result, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("webhook: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook: request failed: %w", err)
	}
	defer iox.DrainClose(resp.Body)

	captured, err := io.ReadAll(io.LimitReader(resp.Body, bodyCaptureLimit))
	if err != nil {
		// The POST landed; a broken body read should not fail the attempt.
		captured = nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(captured)}
	}
	return &Result{StatusCode: resp.StatusCode, Body: string(captured)}, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
