package backend

import (
	"context"
	"errors"
	"net"
	"time"
)

// ErrParameterInvalid marks a failure the retry wrapper must not retry
// (a malformed request that would fail identically every time).
var ErrParameterInvalid = errors.New("backend: invalid request parameters")

// WithRetry wraps attempt with quadratic backoff (attempt N waits
// N^2 * base before retrying). It is not used on the
// main upload path — the orchestrator calls Forward directly with zero
// retries, since the backend treats each request as a single-use
// token — but is exposed for other callers that need it (e.g. a
// future health-check or replay tool).
//
// Retries are skipped entirely when attempt returns ErrParameterInvalid,
// or when it returns a net.Error and totalSize exceeds 100 MiB (a large
// payload is assumed already partially consumed by the failed attempt,
// so retrying would resend data the origin may have already acted on).
func WithRetry(ctx context.Context, maxAttempts int, base time.Duration, totalSize int64, attempt func(ctx context.Context) error) error {
	var lastErr error
	for n := 1; n <= maxAttempts; n++ {
		err := attempt(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, ErrParameterInvalid) {
			return err
		}
		var netErr net.Error
		if errors.As(err, &netErr) && totalSize > extendedThreshold {
			return err
		}
		if n == maxAttempts {
			break
		}

		wait := time.Duration(n*n) * base
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return lastErr
}
