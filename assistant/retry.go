package assistant

import (
	"context"
	"time"

	"github.com/convoq/convoq/core"
	"github.com/convoq/convoq/logging"
)

// RetryPolicy controls retries of transient backend failures. Delay doubles
// per attempt and is capped at MaxDelay. Permanent failures and turn
// violations are never retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy suits a well-connected deployment.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// ConstrainedNetworkRetryPolicy widens attempts and delays for deployments
// behind flaky or rate-limited links.
func ConstrainedNetworkRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 15 * time.Second}
}

// Do runs fn, retrying while the error is transient and attempts remain.
// The last error is returned unchanged so callers keep its classification.
func (p RetryPolicy) Do(ctx context.Context, op string, logger logging.Logger, fn func() error) error {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !core.IsTransient(err) || attempt == attempts {
			return err
		}
		logger.Warn("%s attempt %d/%d failed, retrying in %s: %v", op, attempt, attempts, delay, err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return err
}
