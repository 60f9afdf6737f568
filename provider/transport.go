package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/pithecene-io/assay/iox"
	"github.com/pithecene-io/assay/log"
)

const (
	// DefaultTimeout is the per-attempt HTTP timeout.
	DefaultTimeout = 60 * time.Second
	// invokeAttempts bounds transport-level retries inside one Invoke.
	invokeAttempts = 3
	// backoffCap limits the inter-attempt delay.
	backoffCap = 10 * time.Second
)

// statusError is a non-2xx provider response.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

// transientStatus reports whether a status code is worth retrying.
func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// transport is the shared HTTP layer under every adapter: one POST per
// attempt, retries on timeout/network/429/5xx with exponential backoff,
// and a circuit breaker that sheds load once a provider keeps failing.
type transport struct {
	name    string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *log.Logger
	backoff func(retry int) time.Duration
}

func newTransport(name string, client *http.Client, logger *log.Logger) *transport {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	t := &transport{name: name, client: client, logger: logger, backoff: backoffDelay}
	t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: name,
		// Only transport-level failures trip the breaker; a provider
		// rejecting one bad request is not an outage.
		IsSuccessful: func(err error) bool {
			return err == nil || !transientFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("provider_breaker_state", map[string]any{
				"provider": name,
				"from":     from.String(),
				"to":       to.String(),
			})
		},
	})
	return t
}

// post performs the request with retries. It returns the response body
// and the duration of the final attempt. Failures are *InvokeError.
func (t *transport) post(ctx context.Context, url string, headers map[string]string, body []byte) ([]byte, time.Duration, error) {
	var lastErr error
	for attempt := 0; attempt < invokeAttempts; attempt++ {
		if attempt > 0 {
			delay := t.backoff(attempt)
			t.logger.Debug("provider_retry", map[string]any{
				"provider": t.name,
				"attempt":  attempt,
				"delay":    delay.String(),
				"error":    lastErr.Error(),
			})
			select {
			case <-ctx.Done():
				return nil, 0, &InvokeError{Provider: t.name, Transient: true, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		start := time.Now()
		out, err := t.breaker.Execute(func() (any, error) {
			return t.attempt(ctx, url, headers, body)
		})
		elapsed := time.Since(start)
		if err == nil {
			return out.([]byte), elapsed, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, 0, &InvokeError{Provider: t.name, Transient: true, Err: ctx.Err()}
		}
		if breakerOpen(err) {
			// No point hammering an open breaker within this invoke.
			return nil, 0, &InvokeError{Provider: t.name, Transient: true, Err: err}
		}
		if !transientFailure(err) {
			return nil, 0, &InvokeError{Provider: t.name, Transient: false, Err: err}
		}
	}
	return nil, 0, &InvokeError{Provider: t.name, Transient: true, Err: lastErr}
}

// attempt sends one POST and returns the body on 2xx.
func (t *transport) attempt(ctx context.Context, url string, headers map[string]string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode}
	}
	return data, nil
}

// backoffDelay is base-2 exponential from the first retry: 2s, 4s, 8s,
// capped at backoffCap.
func backoffDelay(retry int) time.Duration {
	d := time.Duration(1<<uint(retry)) * time.Second
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// transientFailure classifies errors inside one invoke: non-2xx status
// codes follow transientStatus, everything else (timeouts, connection
// resets, DNS) is transient.
func transientFailure(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return transientStatus(se.code)
	}
	return true
}

func breakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
