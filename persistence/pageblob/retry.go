package pageblob

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/zhukovaskychina/servicebus-persistence/logger"
)

// RetryPolicy masks transient object-store errors with exponential
// backoff and a bounded retry count. 404/409 are never retried — they
// are definite answers, not failures (spec §4.1, §7).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the teacher's fail-fast timeouts in scale
// (server/conf's FailFastTimeout defaulted to 5s) while bounding total
// wall-clock spent retrying one call to a few seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
}

// Do runs op, retrying while it returns an ErrKindTransient error, up
// to MaxAttempts, with exponential backoff capped at MaxDelay. Any
// other kind of error (NotFound, Conflict, Fatal) is returned
// immediately.
func (p RetryPolicy) Do(ctx context.Context, label string, op func() error) error {
	delay := p.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}

		if KindOf(lastErr) != ErrKindTransient {
			return lastErr
		}

		if attempt == p.MaxAttempts {
			break
		}

		logger.Warnf("pageblob: %s transient error on attempt %d/%d, retrying in %s: %v",
			label, attempt, p.MaxAttempts, delay, lastErr)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return errors.Wrapf(lastErr, "pageblob: %s exhausted %d retries", label, p.MaxAttempts)
}
