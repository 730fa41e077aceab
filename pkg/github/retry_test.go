package github

import (
	"context"
	"errors"
	"testing"
	"time"
)

// testRetrier returns a retrier whose sleeps are recorded instead of slept.
func testRetrier(maxAttempts int, slept *[]time.Duration) *Retrier {
	r := NewRetrier(maxAttempts, 1*time.Second)
	r.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	return r
}

func TestRetrierSucceedsAfterRateLimit(t *testing.T) {
	var slept []time.Duration
	r := testRetrier(4, &slept)

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &RateLimitError{Err: errors.New("throttled")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}
	if len(slept) != 2 {
		t.Fatalf("Expected 2 backoff sleeps, got %d", len(slept))
	}
	// Exponential from the base delay when no reset time is advertised.
	if slept[0] != 1*time.Second || slept[1] != 2*time.Second {
		t.Errorf("Unexpected backoff delays: %v", slept)
	}
}

func TestRetrierExhaustsAttempts(t *testing.T) {
	var slept []time.Duration
	r := testRetrier(3, &slept)

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return &RateLimitError{Err: errors.New("throttled")}
	})
	if err == nil {
		t.Fatal("Expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls)
	}

	var rateErr *RateLimitError
	if !errors.As(err, &rateErr) {
		t.Errorf("Exhaustion error should wrap RateLimitError, got %v", err)
	}
}

func TestRetrierDoesNotRetryOtherErrors(t *testing.T) {
	var slept []time.Duration
	r := testRetrier(4, &slept)

	calls := 0
	wantErr := errors.New("transport failure")
	err := r.Do(context.Background(), func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Expected original error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("Expected a single attempt, got %d", calls)
	}
	if len(slept) != 0 {
		t.Errorf("Expected no backoff, got %v", slept)
	}
}

func TestRetrierHonorsAdvertisedReset(t *testing.T) {
	var slept []time.Duration
	r := testRetrier(2, &slept)

	reset := time.Now().Add(30 * time.Second)
	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		if calls == 1 {
			return &RateLimitError{Reset: reset, Err: errors.New("throttled")}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if len(slept) != 1 {
		t.Fatalf("Expected one sleep, got %d", len(slept))
	}
	if slept[0] < 25*time.Second || slept[0] > 30*time.Second {
		t.Errorf("Expected sleep near advertised reset, got %v", slept[0])
	}
}

func TestRetrierRespectsContextCancellation(t *testing.T) {
	r := NewRetrier(4, 1*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Do(ctx, func() error {
		return &RateLimitError{Err: errors.New("throttled")}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context cancellation, got %v", err)
	}
}
