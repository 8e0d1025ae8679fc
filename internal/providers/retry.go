package providers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// HTTPError is returned by a transport round trip that completed but got a
// non-2xx response. RetryAfter holds the delay parsed from a Retry-After
// header; retryDo does not read it and waits by its own exponential backoff.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return e.Body
}

func (e *HTTPError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// retryDo retries fn with exponential backoff on transient failures: network
// errors and HTTPError with a retryable status. Non-retryable errors (4xx
// other than 429) return immediately.
func retryDo[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	operation := func() (T, error) {
		result, err := fn()
		if err == nil {
			return result, nil
		}

		var httpErr *HTTPError
		if errors.As(err, &httpErr) && !httpErr.retryable() {
			return result, backoff.Permanent(err)
		}
		return result, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(4),
	)
}

// parseRetryAfter parses a Retry-After header value (seconds, per RFC 9110);
// non-numeric or empty values yield 0 (no explicit delay hint).
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	var seconds int64
	for _, c := range header {
		if c < '0' || c > '9' {
			return 0
		}
		seconds = seconds*10 + int64(c-'0')
	}
	return time.Duration(seconds) * time.Second
}
