package ai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"
)

// StatusError is a non-2xx answer from a remote backend
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("API error: %d", e.StatusCode)
	}
	return fmt.Sprintf("API error: %d - %s", e.StatusCode, e.Body)
}

type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
}

// do runs call until it succeeds, fails with a non-retryable error or the
// retry budget is spent. Backoff doubles after every failed attempt.
func (p retryPolicy) do(ctx context.Context, call func(ctx context.Context) (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			delay := p.baseDelay * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		out, err := call(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryable reports whether err looks transient: rate limits, server
// errors and timeouts. Client errors such as 400 and 401 are final.
func isRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrEmptyResponse) {
		return true
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}

	msg := err.Error()
	for _, marker := range []string{"rate_limit", "429", "500", "502", "503", "504", "timeout", "deadline"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
