package client

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rikpy/shopify-bulk/pkg/ratelimit"
)

var shopifyRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "shopify_retries_total",
	Help: "Total number of same-request retries after a throttle by operation",
}, []string{"operation"})

// Pacer is the part of *ratelimit.Limiter the throttled request path needs.
type Pacer interface {
	Wait(ctx context.Context) error
	HandleThrottle(ctx context.Context) (bool, error)
	ResetRetryCount()
	ObserveCost(cost ratelimit.QueryCost)
}

// DoThrottled waits on the limiter before every attempt and re-issues the
// same request after each throttle until it succeeds, fails for another
// reason, or the limiter's retry budget is exhausted.
func (c *Client) DoThrottled(ctx context.Context, limiter Pacer, req Request, out any) (*Response, error) {
	op := operationName(req.Query)

	for attempt := 1; ; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, WrapContext(ctx, err)
		}

		resp, err := c.Do(ctx, req, out)
		if err == nil {
			limiter.ResetRetryCount()
			if resp.Extensions != nil && resp.Extensions.Cost != nil {
				limiter.ObserveCost(*resp.Extensions.Cost)
			}
			if attempt > 1 {
				c.logger.Info().
					Str("operation", op).
					Int("attempt", attempt).
					Msg("Request succeeded after throttle")
			}
			return resp, nil
		}

		if !errors.Is(err, ErrThrottled) {
			return resp, err
		}

		retry, throttleErr := limiter.HandleThrottle(ctx)
		if throttleErr != nil {
			if errors.Is(throttleErr, ErrRetriesExhausted) {
				return nil, c.fail(&Error{
					Class:      ClassRetriesExhausted,
					StatusCode: 200,
					Message:    op + " stayed throttled",
					Err:        throttleErr,
				})
			}
			return nil, WrapContext(ctx, throttleErr)
		}
		if !retry {
			return resp, err
		}
		shopifyRetriesTotal.WithLabelValues(op).Inc()
	}
}
