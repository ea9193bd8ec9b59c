package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// RetryPolicy bounds how often and how patiently a call is retried.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first. Values
	// below 1 mean a single try.
	Attempts int
	// Delay is the wait before the second attempt.
	Delay time.Duration
	// Multiplier scales Delay after each failed retry. 0 or 1 keeps the
	// delay fixed.
	Multiplier float64
}

func (p RetryPolicy) wait(retry int) time.Duration {
	d := p.Delay
	if p.Multiplier > 1 {
		for i := 0; i < retry; i++ {
			d = time.Duration(float64(d) * p.Multiplier)
		}
	}
	return d
}

// WithTimeout applies a per-call timeout. Zero disables it.
func WithTimeout(d time.Duration) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			if d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}
			return next(ctx, payload)
		}
	}
}

// WithRetry retries failed calls according to p. It stops early when the
// context is done, the breaker is open, or the remote answered with a
// non-retryable HTTP status. logger may be nil.
func WithRetry(p RetryPolicy, logger *slog.Logger) HandlerMiddleware {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			var lastErr error
			for attempt := 0; attempt < attempts; attempt++ {
				resp, err := next(ctx, payload)
				if err == nil {
					return resp, nil
				}
				lastErr = err

				if ctx.Err() != nil || !retryable(err) {
					return nil, lastErr
				}

				if attempt < attempts-1 {
					wait := p.wait(attempt)
					if logger != nil {
						logger.WarnContext(ctx, "connectivity: retrying call",
							"attempt", attempt+1,
							"attempts", attempts,
							"backoff_ms", wait.Milliseconds(),
							"error", err)
					}
					select {
					case <-ctx.Done():
						return nil, lastErr
					case <-time.After(wait):
					}
				}
			}
			return nil, lastErr
		}
	}
}

func retryable(err error) bool {
	var open *ErrCircuitOpen
	if errors.As(err, &open) {
		return false
	}
	var status *ErrHTTPStatus
	if errors.As(err, &status) {
		return status.Retryable()
	}
	return true
}
