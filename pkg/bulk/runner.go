package bulk

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rikpy/shopify-bulk/pkg/client"
	"github.com/rikpy/shopify-bulk/pkg/ratelimit"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for bulk operations.
var (
	shopifyBulkOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shopify_bulk_operations_total",
		Help: "Total bulk operations by kind and final status",
	}, []string{"kind", "status"})

	shopifyBulkPollTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shopify_bulk_poll_total",
		Help: "Total currentBulkOperation polls",
	})

	shopifyBulkDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shopify_bulk_duration_seconds",
		Help:    "Time from bulk submission to terminal status by kind",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"kind"})
)

// Config holds runner settings.
type Config struct {
	// PollInterval is the pause between status polls.
	PollInterval time.Duration

	// Timeout bounds Poll. Zero means no limit beyond the caller's context.
	Timeout time.Duration
}

// DefaultConfig returns the runner defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: 10 * time.Second,
	}
}

// Runner submits bulk operations and polls them.
type Runner struct {
	client  *client.Client
	limiter client.Pacer
	guard   SlotGuard
	config  Config
	logger  zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewRunner creates a runner without a slot guard.
func NewRunner(c *client.Client, limiter client.Pacer, cfg Config) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Runner{
		client:  c,
		limiter: limiter,
		guard:   NoopSlot{},
		config:  cfg,
		logger:  log.With().Str("component", "bulk-runner").Str("shop", c.Shop()).Logger(),
		sleep:   ratelimit.SleepContext,
	}
}

// WithLogger replaces the global logger as the runner's base logger.
func (r *Runner) WithLogger(logger zerolog.Logger) *Runner {
	r.logger = logger.With().Str("component", "bulk-runner").Str("shop", r.client.Shop()).Logger()
	return r
}

// WithSlotGuard sets the guard used by Run and RunQuery.
func (r *Runner) WithSlotGuard(g SlotGuard) *Runner {
	if g == nil {
		g = NoopSlot{}
	}
	r.guard = g
	return r
}

const bulkOperationRunMutation = `mutation bulkOperationRunMutation($mutation: String!, $stagedUploadPath: String!) {
  bulkOperationRunMutation(mutation: $mutation, stagedUploadPath: $stagedUploadPath) {
    bulkOperation { id status type createdAt }
    userErrors { field message }
  }
}`

const bulkOperationRunQuery = `mutation bulkOperationRunQuery($query: String!) {
  bulkOperationRunQuery(query: $query) {
    bulkOperation { id status type createdAt }
    userErrors { field message }
  }
}`

type runPayload struct {
	BulkOperation *Operation         `json:"bulkOperation"`
	UserErrors    []client.UserError `json:"userErrors"`
}

// Submit starts a bulk mutation over a staged JSONL file. The staged path is
// passed through unchanged. Submission is never retried: a second call
// starts a second operation.
func (r *Runner) Submit(ctx context.Context, mutation, stagedPath string) (*Operation, error) {
	if strings.TrimSpace(mutation) == "" {
		return nil, fmt.Errorf("bulk mutation document is required")
	}
	if stagedPath == "" {
		return nil, fmt.Errorf("staged upload path is required")
	}

	var data struct {
		Payload runPayload `json:"bulkOperationRunMutation"`
	}
	vars := map[string]any{"mutation": mutation, "stagedUploadPath": stagedPath}
	if err := r.submit(ctx, "bulkOperationRunMutation", client.Request{Query: bulkOperationRunMutation, Variables: vars}, &data, &data.Payload); err != nil {
		return nil, err
	}

	op := data.Payload.BulkOperation
	op.Type = TypeMutation
	r.logger.Info().
		Str("operation_id", op.ID).
		Str("status", string(op.Status)).
		Str("staged_path", stagedPath).
		Msg("Bulk mutation submitted")
	return op, nil
}

// SubmitQuery starts a bulk query.
func (r *Runner) SubmitQuery(ctx context.Context, query string) (*Operation, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("bulk query document is required")
	}

	var data struct {
		Payload runPayload `json:"bulkOperationRunQuery"`
	}
	if err := r.submit(ctx, "bulkOperationRunQuery", client.Request{Query: bulkOperationRunQuery, Variables: map[string]any{"query": query}}, &data, &data.Payload); err != nil {
		return nil, err
	}

	op := data.Payload.BulkOperation
	op.Type = TypeQuery
	r.logger.Info().
		Str("operation_id", op.ID).
		Str("status", string(op.Status)).
		Msg("Bulk query submitted")
	return op, nil
}

func (r *Runner) submit(ctx context.Context, name string, req client.Request, out any, payload *runPayload) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return client.WrapContext(ctx, err)
	}

	if _, err := r.client.Do(ctx, req, out); err != nil {
		return fmt.Errorf("submit %s: %w", name, err)
	}
	if err := client.UserErrorsToError(name, payload.UserErrors); err != nil {
		return err
	}
	if payload.BulkOperation == nil || payload.BulkOperation.ID == "" {
		return &client.Error{Class: client.ClassGraphQL, StatusCode: 200, Message: name + " returned no bulk operation"}
	}
	return nil
}

const currentBulkOperationQuery = `query currentBulkOperation {
  currentBulkOperation(type: %s) {
    id
    status
    type
    errorCode
    createdAt
    completedAt
    objectCount
    fileSize
    url
    partialDataUrl
  }
}`

// Poll queries currentBulkOperation every PollInterval until op reaches a
// terminal status. COMPLETED returns the final operation. Any other terminal
// status returns the final operation with an error matching
// client.ErrOperationFailed. If the current operation is absent or has a
// different id, Poll fails with client.ErrOperationMismatch.
func (r *Runner) Poll(ctx context.Context, op *Operation) (*Operation, error) {
	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	opType := op.Type
	if opType == "" {
		opType = TypeMutation
	}
	query := fmt.Sprintf(currentBulkOperationQuery, opType)

	for polls := 1; ; polls++ {
		var data struct {
			Current *Operation `json:"currentBulkOperation"`
		}
		if _, err := r.client.DoThrottled(ctx, r.limiter, client.Request{Query: query}, &data); err != nil {
			return nil, fmt.Errorf("poll bulk operation %s: %w", op.ID, err)
		}
		shopifyBulkPollTotal.Inc()

		current := data.Current
		if current == nil {
			return nil, &client.Error{
				Class:      client.ClassOperationMismatch,
				StatusCode: 200,
				Message:    fmt.Sprintf("no current %s bulk operation while polling %s", strings.ToLower(string(opType)), op.ID),
			}
		}
		if current.ID != op.ID {
			r.logger.Error().
				Str("operation_id", op.ID).
				Str("current_operation_id", current.ID).
				Msg("Current bulk operation does not match submitted operation")
			return nil, &client.Error{
				Class:      client.ClassOperationMismatch,
				StatusCode: 200,
				Message:    fmt.Sprintf("current bulk operation is %s, expected %s", current.ID, op.ID),
			}
		}
		if current.Type == "" {
			current.Type = opType
		}

		if current.Status == StatusCompleted {
			r.logger.Info().
				Str("operation_id", current.ID).
				Str("object_count", current.ObjectCount).
				Int("polls", polls).
				Msg("Bulk operation completed")
			return current, nil
		}
		if current.Status.Terminal() {
			r.logger.Warn().
				Str("operation_id", current.ID).
				Str("status", string(current.Status)).
				Str("error_code", current.ErrorCode).
				Msg("Bulk operation did not complete")
			return current, &client.Error{
				Class:      client.ClassOperationFailed,
				StatusCode: 200,
				Message:    fmt.Sprintf("bulk operation %s finished with status %s (error code %q)", current.ID, current.Status, current.ErrorCode),
			}
		}

		r.logger.Debug().
			Str("operation_id", current.ID).
			Str("status", string(current.Status)).
			Str("object_count", current.ObjectCount).
			Dur("next_poll", r.config.PollInterval).
			Msg("Bulk operation still running")

		if err := r.sleep(ctx, r.config.PollInterval); err != nil {
			return nil, client.WrapContext(ctx, fmt.Errorf("poll bulk operation %s: %w", op.ID, err))
		}
	}
}

// Run holds the shop's bulk slot, submits a mutation and polls it to a
// terminal status.
func (r *Runner) Run(ctx context.Context, mutation, stagedPath string) (*Operation, error) {
	return r.run(ctx, TypeMutation, func(ctx context.Context) (*Operation, error) {
		return r.Submit(ctx, mutation, stagedPath)
	})
}

// RunQuery holds the shop's bulk slot, submits a bulk query and polls it.
func (r *Runner) RunQuery(ctx context.Context, query string) (*Operation, error) {
	return r.run(ctx, TypeQuery, func(ctx context.Context) (*Operation, error) {
		return r.SubmitQuery(ctx, query)
	})
}

func (r *Runner) run(ctx context.Context, opType Type, submit func(context.Context) (*Operation, error)) (*Operation, error) {
	release, err := r.guard.Acquire(ctx, r.client.Shop(), opType)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	op, err := submit(ctx)
	if err != nil {
		return nil, err
	}

	final, err := r.Poll(ctx, op)
	kind := op.kind()
	shopifyBulkDurationSeconds.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	switch {
	case final != nil:
		shopifyBulkOperationsTotal.WithLabelValues(kind, string(final.Status)).Inc()
	case errors.Is(err, client.ErrOperationMismatch):
		shopifyBulkOperationsTotal.WithLabelValues(kind, "MISMATCH").Inc()
	default:
		shopifyBulkOperationsTotal.WithLabelValues(kind, "UNKNOWN").Inc()
	}

	return final, err
}
