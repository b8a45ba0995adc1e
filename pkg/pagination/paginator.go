package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rikpy/shopify-bulk/pkg/client"
	"github.com/rikpy/shopify-bulk/pkg/ratelimit"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var shopifyPagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "shopify_pages_fetched_total",
	Help: "Total connection pages fetched by query",
}, []string{"query"})

// ErrMissingCursor is returned when a page claims a next page but carries no cursor.
var ErrMissingCursor = errors.New("hasNextPage set without endCursor")

// Page is one page of a connection.
type Page[T any] struct {
	Items       []T
	HasNextPage bool
	EndCursor   string

	// Cost is the page's extensions.cost block, nil when the response had none.
	Cost *ratelimit.QueryCost
}

// PageFetcher fetches the page after cursor. A nil cursor means the first page.
type PageFetcher[T any] interface {
	FetchPage(ctx context.Context, cursor *string) (Page[T], error)
}

// PageFetcherFunc adapts a function to PageFetcher.
type PageFetcherFunc[T any] func(ctx context.Context, cursor *string) (Page[T], error)

// FetchPage calls f.
func (f PageFetcherFunc[T]) FetchPage(ctx context.Context, cursor *string) (Page[T], error) {
	return f(ctx, cursor)
}

// Throttle is the limiter surface the paginator needs.
type Throttle interface {
	Wait(ctx context.Context) error
	HandleThrottle(ctx context.Context) (bool, error)
	ResetRetryCount()
	ObserveCost(cost ratelimit.QueryCost)
}

// Paginator walks every page of one connection.
type Paginator[T any] struct {
	name    string
	fetcher PageFetcher[T]
	limiter Throttle
	logger  zerolog.Logger
}

// New creates a paginator. name labels logs and metrics.
func New[T any](name string, fetcher PageFetcher[T], limiter Throttle) *Paginator[T] {
	return &Paginator[T]{
		name:    name,
		fetcher: fetcher,
		limiter: limiter,
		logger:  log.With().Str("component", "paginator").Str("query", name).Logger(),
	}
}

// WithLogger replaces the global logger as the paginator's base logger.
func (p *Paginator[T]) WithLogger(logger zerolog.Logger) *Paginator[T] {
	p.logger = logger.With().Str("component", "paginator").Str("query", p.name).Logger()
	return p
}

// All fetches every page and returns the concatenated items in order.
// On error, nothing is returned.
func (p *Paginator[T]) All(ctx context.Context) ([]T, error) {
	var items []T
	err := p.Each(ctx, func(page Page[T]) error {
		items = append(items, page.Items...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Each calls fn for every page in order. An error from fn stops the walk.
func (p *Paginator[T]) Each(ctx context.Context, fn func(page Page[T]) error) error {
	start := time.Now()

	var cursor *string
	pageNum := 0
	total := 0

	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return client.WrapContext(ctx, fmt.Errorf("wait before %s page %d: %w", p.name, pageNum+1, err))
		}

		page, err := p.fetcher.FetchPage(ctx, cursor)
		if err != nil {
			if client.Retryable(err) {
				if _, throttleErr := p.limiter.HandleThrottle(ctx); throttleErr != nil {
					return p.fail(ctx, pageNum+1, throttleErr)
				}
				p.logger.Debug().Int("page", pageNum+1).Msg("Re-requesting throttled page")
				continue
			}
			return p.fail(ctx, pageNum+1, err)
		}

		p.limiter.ResetRetryCount()
		if page.Cost != nil {
			p.limiter.ObserveCost(*page.Cost)
		}
		pageNum++
		total += len(page.Items)
		shopifyPagesFetchedTotal.WithLabelValues(p.name).Inc()

		p.logger.Debug().
			Int("page", pageNum).
			Int("items", len(page.Items)).
			Bool("has_next_page", page.HasNextPage).
			Msg("Fetched page")

		if err := fn(page); err != nil {
			return err
		}

		if !page.HasNextPage {
			break
		}
		if page.EndCursor == "" {
			return fmt.Errorf("%s page %d: %w", p.name, pageNum, ErrMissingCursor)
		}
		next := page.EndCursor
		cursor = &next
	}

	p.logger.Info().
		Int("pages", pageNum).
		Int("items", total).
		Dur("duration", time.Since(start)).
		Msg("Pagination complete")

	return nil
}

func (p *Paginator[T]) fail(ctx context.Context, pageNum int, err error) error {
	p.logger.Warn().Err(err).Int("page", pageNum).Msg("Pagination stopped")
	if errors.Is(err, client.ErrRetriesExhausted) {
		var classified *client.Error
		if !errors.As(err, &classified) {
			err = &client.Error{Class: client.ClassRetriesExhausted, StatusCode: 200, Message: p.name + " stayed throttled", Err: err}
		}
	}
	return client.WrapContext(ctx, fmt.Errorf("fetch %s page %d: %w", p.name, pageNum, err))
}
