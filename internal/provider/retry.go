package provider

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// retryable classifies a provider error. It reports whether the call may be
// retried and the Retry-After hint, if any.
type retryable func(err error) (retry bool, after time.Duration)

// withRetry calls fn until it succeeds, fails permanently or runs out of
// attempts, backing off exponentially between attempts.
func withRetry[T any](ctx context.Context, name string, classify retryable, fn func() (T, error)) (T, error) {
	var zero T
	for attempts := 1; ; attempts++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, err
		}
		retry, after := classify(err)
		if !retry || attempts > maxRetries {
			return zero, err
		}
		if after == 0 {
			backoff := 2000 * (1 << (attempts - 1))
			after = time.Duration(backoff+backoff/5) * time.Millisecond
		}
		slog.Warn("Retrying provider request", "provider", name, "attempt", attempts, "max_retries", maxRetries, "after", after, "error", err)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(after):
		}
	}
}

// retryableStatus reports whether an HTTP status is worth retrying.
func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

func retryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	if secs, err := strconv.Atoi(h.Get("Retry-After")); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
