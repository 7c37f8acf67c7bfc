package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/your-org/faceattend/internal/config"
)

// WritePolicy bounds a persistence write. Retries counts attempts after the
// first; the wait before attempt n is Backoff * 2^(n-1).
type WritePolicy struct {
	Timeout time.Duration
	Retries int
	Backoff time.Duration
}

func WritePolicyFrom(cfg config.DatabaseConfig) WritePolicy {
	return WritePolicy{Timeout: cfg.WriteTimeout, Retries: cfg.WriteRetries, Backoff: cfg.RetryBackoff}
}

// Do runs fn until it succeeds, fails with an error permanent accepts, or the
// attempts run out, and returns the last error. Each attempt has its own
// timeout. Cancelling ctx does not abort the write: a frame or request
// deadline must not lose a result that was already decided.
func (p WritePolicy) Do(ctx context.Context, op string, permanent func(error) bool, fn func(ctx context.Context) error) error {
	ctx = context.WithoutCancel(ctx)

	var err error
	for attempt := 0; attempt <= p.Retries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(1<<(attempt-1)) * p.Backoff)
		}

		wctx, cancel := ctx, context.CancelFunc(func() {})
		if p.Timeout > 0 {
			wctx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		err = fn(wctx)
		cancel()
		if err == nil {
			return nil
		}
		if permanent != nil && permanent(err) {
			return err
		}
		slog.Warn("persistence write failed", "op", op, "attempt", attempt+1, "of", p.Retries+1, "error", err)
	}
	return err
}
