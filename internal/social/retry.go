package social

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// retrier re-runs a whole logical operation while it fails with ErrConflict or ErrTransient.
type retrier struct {
	logger   *zap.SugaredLogger
	attempts int
	backoff  time.Duration
}

func newRetrier(logger *zap.SugaredLogger, cfg Config) retrier {
	return retrier{logger: logger, attempts: cfg.RetryAttempts, backoff: cfg.RetryBackoff}
}

// do returns the last error once attempts are exhausted, so the caller still sees
// ErrConflict or ErrTransient and may retry later.
func (r retrier) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || !retryable(err) {
			return err
		}
		if attempt >= r.attempts {
			r.logger.Warnf("%s: giving up after %d attempts: %v", op, attempt, err)
			return err
		}

		r.logger.Debugf("%s: attempt %d failed, retrying: %v", op, attempt, err)

		wait := r.backoff * time.Duration(attempt)
		if errors.Is(err, ErrConflict) {
			wait = r.backoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
