// Package ratelimit paces Shopify Admin GraphQL requests and absorbs
// query-cost throttling with exponential backoff.
//
// Shopify reports throttling inside a 200 response (errors[].extensions.code
// == "THROTTLED") and publishes the leaky-bucket state under
// extensions.cost.throttleStatus. The Limiter covers both: a fixed request
// rate enforced before every call, and a bounded retry budget consumed on
// each throttle.
package ratelimit

import (
	"time"
)

// Defaults for a fresh Limiter.
const (
	DefaultMaxRequestsPerSecond = 2.0
	DefaultMaxRetries           = 5
	DefaultBaseDelay            = 1 * time.Second
	DefaultJitter               = 1 * time.Second
)

// State is a point-in-time snapshot of a Limiter.
type State struct {
	// LastRequest is when Wait last returned successfully. Zero until the first call.
	LastRequest time.Time `json:"last_request"`

	// RetryCount is the number of throttles absorbed since the last success.
	RetryCount int `json:"retry_count"`

	MaxRetries           int           `json:"max_retries"`
	BaseDelay            time.Duration `json:"base_delay"`
	MaxRequestsPerSecond float64       `json:"max_requests_per_second"`
}

// Exhausted reports whether the next throttle would exceed the retry budget.
func (s State) Exhausted() bool {
	return s.RetryCount >= s.MaxRetries
}

// QueryCost is the cost block Shopify attaches under extensions.cost.
type QueryCost struct {
	RequestedQueryCost float64        `json:"requestedQueryCost"`
	ActualQueryCost    *float64       `json:"actualQueryCost"`
	ThrottleStatus     ThrottleStatus `json:"throttleStatus"`
}

// ThrottleStatus describes the shop's leaky bucket.
type ThrottleStatus struct {
	MaximumAvailable   float64 `json:"maximumAvailable"`
	CurrentlyAvailable float64 `json:"currentlyAvailable"`
	RestoreRate        float64 `json:"restoreRate"`
}

// NeedsThrottling returns true if a query of the given cost would not fit in
// the points currently available.
func (s ThrottleStatus) NeedsThrottling(cost float64) bool {
	return cost > 0 && s.CurrentlyAvailable < cost
}

// TimeUntilAvailable returns how long the bucket needs to restore enough
// points for a query of the given cost. Returns 0 if the query already fits
// or the restore rate is unknown.
func (s ThrottleStatus) TimeUntilAvailable(cost float64) time.Duration {
	if !s.NeedsThrottling(cost) || s.RestoreRate <= 0 {
		return 0
	}
	deficit := cost - s.CurrentlyAvailable
	return time.Duration(deficit / s.RestoreRate * float64(time.Second))
}
