package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for throttle handling.
var (
	shopifyThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shopify_throttles_total",
		Help: "Total number of THROTTLED responses absorbed by the limiter",
	})

	shopifyThrottleBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shopify_throttle_backoff_seconds",
		Help:    "Backoff duration slept after a throttled response",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32},
	})

	shopifyThrottleRetriesExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shopify_throttle_retries_exhausted_total",
		Help: "Total number of times the throttle retry budget was exhausted",
	})

	shopifyQueryCostAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "shopify_query_cost_available",
		Help: "Query cost points currently available in the shop bucket",
	})

	shopifyPreemptiveWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shopify_preemptive_waits_total",
		Help: "Total number of waits inserted because the cost bucket was nearly empty",
	})
)

// ErrRetriesExhausted is returned by HandleThrottle once the retry budget is spent.
var ErrRetriesExhausted = errors.New("throttle retries exhausted")

// Config holds limiter settings.
type Config struct {
	// MaxRequestsPerSecond caps the steady request rate.
	MaxRequestsPerSecond float64

	// MaxRetries is the number of throttles absorbed before giving up.
	MaxRetries int

	// BaseDelay is the backoff for the first retry. Retry n sleeps BaseDelay*2^(n-1).
	BaseDelay time.Duration

	// Jitter is the upper bound of the uniform random delay added to every backoff.
	Jitter time.Duration
}

// DefaultConfig returns the limiter defaults.
func DefaultConfig() Config {
	return Config{
		MaxRequestsPerSecond: DefaultMaxRequestsPerSecond,
		MaxRetries:           DefaultMaxRetries,
		BaseDelay:            DefaultBaseDelay,
		Jitter:               DefaultJitter,
	}
}

// Limiter paces requests and tracks throttle retries for one job.
// A Limiter is not meant to be shared across independent jobs.
type Limiter struct {
	config Config
	pacer  *rate.Limiter
	logger zerolog.Logger

	mu          sync.Mutex
	lastRequest time.Time
	retryCount  int
	lastCost    *QueryCost

	// Sleep waits for d or until ctx is done. Replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error

	// Rand returns a value in [0, 1) used for jitter. Replaced in tests.
	Rand func() float64

	now func() time.Time
}

// New creates a limiter. Zero or negative fields fall back to DefaultConfig.
func New(cfg Config, logger zerolog.Logger) *Limiter {
	defaults := DefaultConfig()
	if cfg.MaxRequestsPerSecond <= 0 {
		cfg.MaxRequestsPerSecond = defaults.MaxRequestsPerSecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaults.BaseDelay
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}

	return &Limiter{
		config: cfg,
		pacer:  rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), 1),
		logger: logger,
		Sleep:  SleepContext,
		Rand:   rand.Float64,
		now:    time.Now,
	}
}

// Wait blocks until at least 1/MaxRequestsPerSecond has passed since the
// previous Wait returned, then records the request time. If the last observed
// cost block shows the bucket cannot cover the previous query cost, Wait also
// sleeps until enough points are restored.
//
// A pacing delay longer than the context's remaining time still waits until
// the context ends, so the error is always ctx.Err().
func (l *Limiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	reservation := l.pacer.Reserve()
	if !reservation.OK() {
		return fmt.Errorf("rate limiter wait: burst too small for one request")
	}
	if err := SleepContext(ctx, reservation.Delay()); err != nil {
		reservation.Cancel()
		return err
	}

	l.mu.Lock()
	cost := l.lastCost
	l.mu.Unlock()

	if cost != nil {
		if d := cost.ThrottleStatus.TimeUntilAvailable(cost.RequestedQueryCost); d > 0 {
			shopifyPreemptiveWaitsTotal.Inc()
			l.logger.Debug().
				Float64("currently_available", cost.ThrottleStatus.CurrentlyAvailable).
				Float64("requested_cost", cost.RequestedQueryCost).
				Dur("wait", d).
				Msg("Cost bucket low, waiting before next request")
			if err := l.Sleep(ctx, d); err != nil {
				return err
			}
		}
	}

	l.mu.Lock()
	l.lastRequest = l.now()
	l.mu.Unlock()
	return nil
}

// HandleThrottle records a throttled response. It sleeps for the backoff of
// the new retry count and returns true, meaning the caller should re-issue the
// same request. Once the retry count exceeds MaxRetries it returns
// ErrRetriesExhausted without sleeping.
func (l *Limiter) HandleThrottle(ctx context.Context) (bool, error) {
	l.mu.Lock()
	l.retryCount++
	retry := l.retryCount
	l.mu.Unlock()

	shopifyThrottlesTotal.Inc()

	if retry > l.config.MaxRetries {
		shopifyThrottleRetriesExhaustedTotal.Inc()
		l.logger.Error().
			Int("retry_count", retry).
			Int("max_retries", l.config.MaxRetries).
			Msg("Throttle retries exhausted")
		return false, fmt.Errorf("%w after %d retries", ErrRetriesExhausted, l.config.MaxRetries)
	}

	delay := l.Backoff(retry)
	if l.config.Jitter > 0 {
		delay += time.Duration(l.Rand() * float64(l.config.Jitter))
	}
	shopifyThrottleBackoffSeconds.Observe(delay.Seconds())

	l.logger.Warn().
		Int("retry_count", retry).
		Int("max_retries", l.config.MaxRetries).
		Dur("backoff", delay).
		Msg("Throttled by Shopify, backing off")

	if err := l.Sleep(ctx, delay); err != nil {
		return false, err
	}
	return true, nil
}

// ResetRetryCount clears the retry counter after a successful response.
func (l *Limiter) ResetRetryCount() {
	l.mu.Lock()
	l.retryCount = 0
	l.mu.Unlock()
}

// Backoff returns the deterministic part of the delay for the given retry
// number: BaseDelay * 2^(retry-1). Jitter is not included.
func (l *Limiter) Backoff(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	return time.Duration(float64(l.config.BaseDelay) * math.Pow(2, float64(retry-1)))
}

// ObserveCost records the cost block of a successful response.
func (l *Limiter) ObserveCost(cost QueryCost) {
	l.mu.Lock()
	l.lastCost = &cost
	l.mu.Unlock()
	shopifyQueryCostAvailable.Set(cost.ThrottleStatus.CurrentlyAvailable)
}

// State returns a snapshot of the limiter.
func (l *Limiter) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return State{
		LastRequest:          l.lastRequest,
		RetryCount:           l.retryCount,
		MaxRetries:           l.config.MaxRetries,
		BaseDelay:            l.config.BaseDelay,
		MaxRequestsPerSecond: l.config.MaxRequestsPerSecond,
	}
}

// Config returns the effective configuration.
func (l *Limiter) Config() Config {
	return l.config
}

// SleepContext sleeps for d, returning early with ctx.Err() if ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
