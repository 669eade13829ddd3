package ai

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobmail/internal/utils"
)

// RetryPolicy bounds transport-level retries inside an oracle adapter. Callers
// of the adapters never retry on their own.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	// Retryable reports whether err is transient and, when it carries a server
	// hint, how long to wait before the next attempt.
	Retryable func(err error) (time.Duration, bool)
}

const defaultBaseDelay = time.Second

// Do runs fn until it succeeds, returns a non-retryable error, or the attempts
// are exhausted. Delays double per attempt unless the server supplies one.
func (p RetryPolicy) Do(ctx context.Context, logger *zap.Logger, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	delay := p.BaseDelay
	if delay <= 0 {
		delay = defaultBaseDelay
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}

		if attempt == attempts || p.Retryable == nil {
			return err
		}

		hint, ok := p.Retryable(err)
		if !ok {
			return err
		}

		wait := delay
		if hint > 0 {
			wait = hint
		}

		if logger != nil {
			logger.Warn("oracle call failed, retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", attempts),
				zap.Duration("delay", wait),
				zap.Error(err),
			)
		}

		if werr := utils.WaitFor(ctx, wait); werr != nil {
			return err
		}
		delay *= 2
	}

	return err
}
