package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// newTestLimiter returns a limiter that records sleeps instead of sleeping.
func newTestLimiter(cfg Config) (*Limiter, *[]time.Duration) {
	l := New(cfg, zerolog.Nop())
	slept := &[]time.Duration{}
	l.Sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return ctx.Err()
	}
	l.Rand = func() float64 { return 0 }
	return l, slept
}

func TestNew_Defaults(t *testing.T) {
	l := New(Config{}, zerolog.Nop())
	cfg := l.Config()

	if cfg.MaxRequestsPerSecond != 2 {
		t.Errorf("MaxRequestsPerSecond = %v, want 2", cfg.MaxRequestsPerSecond)
	}
	if cfg.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.MaxRetries)
	}
	if cfg.BaseDelay != time.Second {
		t.Errorf("BaseDelay = %v, want 1s", cfg.BaseDelay)
	}
}

func TestBackoff(t *testing.T) {
	l := New(Config{BaseDelay: time.Second}, zerolog.Nop())

	tests := []struct {
		retry    int
		expected time.Duration
	}{
		{retry: 0, expected: 0},
		{retry: 1, expected: 1 * time.Second},
		{retry: 2, expected: 2 * time.Second},
		{retry: 3, expected: 4 * time.Second},
		{retry: 4, expected: 8 * time.Second},
		{retry: 5, expected: 16 * time.Second},
	}

	for _, tt := range tests {
		if got := l.Backoff(tt.retry); got != tt.expected {
			t.Errorf("Backoff(%d) = %v, want %v", tt.retry, got, tt.expected)
		}
	}
}

func TestHandleThrottle_ExhaustsAfterMaxRetries(t *testing.T) {
	l, slept := newTestLimiter(Config{MaxRetries: 5, BaseDelay: time.Second, Jitter: time.Second})
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		retry, err := l.HandleThrottle(ctx)
		if err != nil {
			t.Fatalf("HandleThrottle() #%d error = %v", i, err)
		}
		if !retry {
			t.Fatalf("HandleThrottle() #%d retry = false, want true", i)
		}
	}

	retry, err := l.HandleThrottle(ctx)
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("sixth HandleThrottle() error = %v, want ErrRetriesExhausted", err)
	}
	if retry {
		t.Error("sixth HandleThrottle() retry = true, want false")
	}

	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	if len(*slept) != len(want) {
		t.Fatalf("slept %d times, want %d", len(*slept), len(want))
	}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Errorf("sleep #%d = %v, want %v", i+1, (*slept)[i], d)
		}
	}
}

func TestHandleThrottle_JitterBounds(t *testing.T) {
	l, slept := newTestLimiter(Config{MaxRetries: 3, BaseDelay: time.Second, Jitter: time.Second})
	l.Rand = func() float64 { return 0.999 }

	if _, err := l.HandleThrottle(context.Background()); err != nil {
		t.Fatalf("HandleThrottle() error = %v", err)
	}

	got := (*slept)[0]
	if got < time.Second || got >= 2*time.Second {
		t.Errorf("backoff with jitter = %v, want in [1s, 2s)", got)
	}
}

func TestResetRetryCount(t *testing.T) {
	l, slept := newTestLimiter(Config{MaxRetries: 5, BaseDelay: time.Second})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := l.HandleThrottle(ctx); err != nil {
			t.Fatalf("HandleThrottle() error = %v", err)
		}
	}
	if got := l.State().RetryCount; got != 3 {
		t.Fatalf("RetryCount = %d, want 3", got)
	}

	l.ResetRetryCount()
	if got := l.State().RetryCount; got != 0 {
		t.Fatalf("RetryCount after reset = %d, want 0", got)
	}

	// The next throttle starts from the base delay again.
	*slept = nil
	if _, err := l.HandleThrottle(ctx); err != nil {
		t.Fatalf("HandleThrottle() error = %v", err)
	}
	if (*slept)[0] != time.Second {
		t.Errorf("backoff after reset = %v, want 1s", (*slept)[0])
	}
}

func TestHandleThrottle_ContextCancelled(t *testing.T) {
	l := New(Config{MaxRetries: 5, BaseDelay: time.Minute}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	retry, err := l.HandleThrottle(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("HandleThrottle() error = %v, want context.Canceled", err)
	}
	if retry {
		t.Error("retry = true on cancelled context")
	}
}

func TestWait_EnforcesMinimumInterval(t *testing.T) {
	l := New(Config{MaxRequestsPerSecond: 2}, zerolog.Nop())
	ctx := context.Background()

	if err := l.Wait(ctx); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}
	first := l.State().LastRequest

	if err := l.Wait(ctx); err != nil {
		t.Fatalf("second Wait() error = %v", err)
	}
	second := l.State().LastRequest

	// Allow a little slack for timer granularity.
	if gap := second.Sub(first); gap < 490*time.Millisecond {
		t.Errorf("gap between waits = %v, want >= 500ms", gap)
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	l := New(Config{MaxRequestsPerSecond: 0.1}, zerolog.Nop())
	ctx := context.Background()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() error = %v, want context.DeadlineExceeded", err)
	}
	// The pacing delay exceeds the deadline; Wait must still run until the deadline.
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Errorf("Wait() returned after %v, want it to wait for the deadline", elapsed)
	}
}

func TestWait_CancelledReservationFreesSlot(t *testing.T) {
	l := New(Config{MaxRequestsPerSecond: 2}, zerolog.Nop())
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() error = %v, want context.Canceled", err)
	}

	// The abandoned wait must not push the next request further out.
	start := time.Now()
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 700*time.Millisecond {
		t.Errorf("Wait() after cancelled wait took %v, want <= 500ms", elapsed)
	}
}

func TestWait_PreemptiveOnLowBucket(t *testing.T) {
	l, slept := newTestLimiter(Config{MaxRequestsPerSecond: 1000})
	l.ObserveCost(QueryCost{
		RequestedQueryCost: 100,
		ThrottleStatus:     ThrottleStatus{MaximumAvailable: 1000, CurrentlyAvailable: 50, RestoreRate: 50},
	})

	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(*slept) != 1 || (*slept)[0] != time.Second {
		t.Errorf("preemptive sleeps = %v, want [1s]", *slept)
	}

	l.ObserveCost(QueryCost{
		RequestedQueryCost: 100,
		ThrottleStatus:     ThrottleStatus{MaximumAvailable: 1000, CurrentlyAvailable: 900, RestoreRate: 50},
	})
	*slept = nil
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(*slept) != 0 {
		t.Errorf("unexpected sleeps with full bucket: %v", *slept)
	}
}

func TestSleepContext(t *testing.T) {
	if err := SleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("SleepContext() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("SleepContext() error = %v, want context.Canceled", err)
	}
}
