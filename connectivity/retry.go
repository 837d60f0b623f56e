package connectivity

import (
	"context"
	"log/slog"
	"time"
)

// WithTimeout bounds each call to d. Zero disables the bound.
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

// WithRetry retries failed calls up to maxRetries times, waiting
// baseBackoff, then twice that, and so on between attempts. Permanent
// errors, open circuits and a cancelled caller end the loop early. logger
// may be nil.
func WithRetry(maxRetries int, baseBackoff time.Duration, logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			var lastErr error
			for attempt := 0; attempt <= maxRetries; attempt++ {
				resp, err := next(ctx, payload)
				if err == nil {
					return resp, nil
				}
				lastErr = err

				if ctx.Err() != nil || IsPermanent(err) {
					return nil, err
				}
				if _, open := err.(*ErrCircuitOpen); open {
					return nil, err
				}
				if attempt == maxRetries {
					break
				}

				wait := baseBackoff << uint(attempt)
				if logger != nil {
					logger.WarnContext(ctx, "connectivity: retrying",
						"attempt", attempt+1, "max_retries", maxRetries,
						"backoff_ms", wait.Milliseconds(), "error", err)
				}
				t := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					t.Stop()
					return nil, lastErr
				case <-t.C:
				}
			}
			return nil, lastErr
		}
	}
}
