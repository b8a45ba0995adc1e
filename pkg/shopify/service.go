// Package shopify implements catalog operations on top of the Admin GraphQL
// client: paginated product reads, collection unpublish and archive through
// bulk mutations, bulk exports, inventory resets and image uploads.
//
// Every operation gets its own rate limiter, so throttle state never leaks
// between operations. Bulk operations additionally hold the shop's bulk slot
// for their whole lifetime.
package shopify

import (
	"context"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rikpy/shopify-bulk/pkg/bulk"
	"github.com/rikpy/shopify-bulk/pkg/cache"
	"github.com/rikpy/shopify-bulk/pkg/client"
	"github.com/rikpy/shopify-bulk/pkg/pagination"
	"github.com/rikpy/shopify-bulk/pkg/ratelimit"
	"github.com/rikpy/shopify-bulk/pkg/staging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for catalog operations.
var (
	shopifyOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopify_operations_total",
		Help: "Total catalog operations by operation and result class",
	}, []string{"operation", "result"})

	shopifyOperationDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shopify_operation_duration_seconds",
		Help:    "Catalog operation duration in seconds",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 300, 900, 1800},
	}, []string{"operation"})
)

// DefaultPublicationName is the publication products are unpublished from.
const DefaultPublicationName = "Online Store"

// DefaultInventoryReason is the reason recorded on inventory resets.
const DefaultInventoryReason = "correction"

// Options configures a Service. The zero value is usable.
type Options struct {
	// RateLimit configures the limiter created for each operation.
	RateLimit ratelimit.Config

	// Bulk configures bulk operation polling.
	Bulk bulk.Config

	// SlotGuard serialises bulk operations per shop. Nil means no guard.
	SlotGuard bulk.SlotGuard

	// Cache stores publication and location lookups. Nil disables caching.
	Cache *cache.Manager

	// CacheTTL defaults to cache.DefaultTTL.
	CacheTTL time.Duration

	// WorkDir holds temporary JSONL files. Defaults to os.TempDir().
	WorkDir string

	// PageSize of paginated reads. Defaults to pagination.PageSize.
	PageSize int

	// PublicationName defaults to DefaultPublicationName.
	PublicationName string

	// ImageRetries and ImageRetryDelay override the uploader defaults when set.
	ImageRetries    int
	ImageRetryDelay time.Duration

	// Logger is the base logger of the service and the components it creates.
	// Nil uses the global zerolog logger.
	Logger *zerolog.Logger
}

// Result describes a finished bulk operation.
type Result struct {
	Message   string          `json:"message"`
	Count     int             `json:"count"`
	Operation *bulk.Operation `json:"operation,omitempty"`
}

// Service runs catalog operations against one shop.
type Service struct {
	client *client.Client
	opts   Options
	base   zerolog.Logger
	logger zerolog.Logger
}

// New creates a Service.
func New(c *client.Client, opts Options) *Service {
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	if opts.PublicationName == "" {
		opts.PublicationName = DefaultPublicationName
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = cache.DefaultTTL
	}
	base := log.Logger
	if opts.Logger != nil {
		base = *opts.Logger
	}
	return &Service{
		client: c,
		opts:   opts,
		base:   base,
		logger: base.With().Str("component", "shopify").Str("shop", c.Shop()).Logger(),
	}
}

// Client returns the underlying GraphQL client.
func (s *Service) Client() *client.Client {
	return s.client
}

func (s *Service) newLimiter() *ratelimit.Limiter {
	cfg := s.opts.RateLimit
	if cfg == (ratelimit.Config{}) {
		cfg = ratelimit.DefaultConfig()
	}
	return ratelimit.New(cfg, s.logger)
}

func (s *Service) newRunner(l *ratelimit.Limiter) *bulk.Runner {
	return bulk.NewRunner(s.client, l, s.opts.Bulk).WithLogger(s.base).WithSlotGuard(s.opts.SlotGuard)
}

func (s *Service) newUploader(l *ratelimit.Limiter) *staging.Uploader {
	u := staging.NewUploader(s.client, l).WithLogger(s.base)
	if s.opts.ImageRetries > 0 {
		u.ImageRetries = s.opts.ImageRetries
	}
	if s.opts.ImageRetryDelay > 0 {
		u.ImageRetryDelay = s.opts.ImageRetryDelay
	}
	return u
}

func newPaginator[T any](s *Service, name string, fetcher pagination.PageFetcher[T], l pagination.Throttle) *pagination.Paginator[T] {
	return pagination.New[T](name, fetcher, l).WithLogger(s.base)
}

// observe records an operation's outcome. A context error replaces err with its classified form.
func (s *Service) observe(ctx context.Context, operation string, start time.Time, err error) error {
	shopifyOperationDurationSeconds.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	if err == nil {
		shopifyOperationsTotal.WithLabelValues(operation, "ok").Inc()
		s.logger.Info().Str("operation", operation).Dur("duration", time.Since(start)).Msg("Operation complete")
		return nil
	}

	err = client.WrapContext(ctx, err)
	class := client.Classify(err)
	shopifyOperationsTotal.WithLabelValues(operation, string(class)).Inc()
	s.logger.Error().Err(err).Str("operation", operation).Str("class", string(class)).Msg("Operation failed")
	return err
}
