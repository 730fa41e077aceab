package github

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// retryState is the explicit state of one retried operation. Rate-limit
// retries move Idle -> Attempting -> Backoff -> Attempting ... until
// Success or Exhausted.
type retryState int

const (
	stateIdle retryState = iota
	stateAttempting
	stateBackoff
	stateSuccess
	stateExhausted
)

const (
	defaultMaxAttempts = 4
	defaultBaseDelay   = 2 * time.Second
)

// Retrier retries an operation on RateLimitError with exponential backoff,
// honoring the server-advertised reset time when one is present. Any other
// error is returned immediately.
type Retrier struct {
	maxAttempts int
	baseDelay   time.Duration

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier creates a Retrier. Zero values select the defaults.
func NewRetrier(maxAttempts int, baseDelay time.Duration) *Retrier {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	return &Retrier{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		sleep:       sleepCtx,
	}
}

// Do runs op until it succeeds, fails with a non-rate-limit error, or the
// attempt budget is exhausted.
func (r *Retrier) Do(ctx context.Context, op func() error) error {
	var (
		state   = stateIdle
		attempt int
		lastErr error
		rateErr *RateLimitError
	)

	for {
		switch state {
		case stateIdle:
			state = stateAttempting

		case stateAttempting:
			err := op()
			if err == nil {
				state = stateSuccess
				continue
			}
			if !errors.As(err, &rateErr) {
				return err
			}
			lastErr = err
			if attempt == r.maxAttempts-1 {
				state = stateExhausted
				continue
			}
			state = stateBackoff

		case stateBackoff:
			if err := r.sleep(ctx, r.backoffDelay(rateErr, attempt)); err != nil {
				return err
			}
			attempt++
			state = stateAttempting

		case stateSuccess:
			return nil

		case stateExhausted:
			return fmt.Errorf("retries exhausted after %d attempts: %w", r.maxAttempts, lastErr)
		}
	}
}

// backoffDelay prefers the server-advertised reset time; when it is absent
// or already past, exponential delay from the base applies.
func (r *Retrier) backoffDelay(rateErr *RateLimitError, attempt int) time.Duration {
	if !rateErr.Reset.IsZero() {
		if wait := time.Until(rateErr.Reset); wait > 0 {
			return wait
		}
	}
	return r.baseDelay * time.Duration(1<<attempt)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
