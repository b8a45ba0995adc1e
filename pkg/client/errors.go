package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/rikpy/shopify-bulk/pkg/ratelimit"
)

// ErrorClass represents a classification of failures surfaced to callers.
type ErrorClass string

const (
	// ClassTransport covers network failures, non-200 responses and undecodable bodies.
	ClassTransport ErrorClass = "transport"

	// ClassThrottled marks a 200 response carrying a THROTTLED GraphQL error.
	ClassThrottled ErrorClass = "throttled"

	// ClassRetriesExhausted marks a request that stayed throttled past the retry budget.
	ClassRetriesExhausted ErrorClass = "retries_exhausted"

	// ClassGraphQL covers any other top-level GraphQL error.
	ClassGraphQL ErrorClass = "graphql"

	// ClassUser covers mutation userErrors.
	ClassUser ErrorClass = "user"

	// ClassUploadFailed covers the staged upload steps.
	ClassUploadFailed ErrorClass = "upload_failed"

	// ClassOperationMismatch is returned when the current bulk operation is not the one submitted.
	ClassOperationMismatch ErrorClass = "operation_mismatch"

	// ClassOperationFailed is returned when a bulk operation ends in a non-success state.
	ClassOperationFailed ErrorClass = "operation_failed"

	// ClassTimeout is returned when a configured deadline passes.
	ClassTimeout ErrorClass = "timeout"

	// ClassCancelled is returned when the caller cancels the context.
	ClassCancelled ErrorClass = "cancelled"

	// ClassUnknown is used for errors that carry no classification.
	ClassUnknown ErrorClass = "unknown"
)

// Common errors returned by the client and the packages built on it.
var (
	// ErrThrottled matches any throttled response.
	ErrThrottled = errors.New("throttled")

	// ErrRetriesExhausted matches a request that stayed throttled past the retry budget.
	ErrRetriesExhausted = ratelimit.ErrRetriesExhausted

	// ErrUploadFailed matches any staged upload failure.
	ErrUploadFailed = errors.New("upload failed")

	// ErrOperationMismatch matches a poll that found a different or no current bulk operation.
	ErrOperationMismatch = errors.New("bulk operation mismatch")

	// ErrOperationFailed matches a bulk operation that finished unsuccessfully.
	ErrOperationFailed = errors.New("bulk operation failed")

	// ErrContextCancelled is returned when the context is cancelled mid-operation.
	ErrContextCancelled = errors.New("context cancelled")
)

// Error is a classified Shopify error.
type Error struct {
	Class      ErrorClass
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("shopify %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("shopify %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match an Error against the sentinel of its class.
func (e *Error) Is(target error) bool {
	sentinel := e.Class.sentinel()
	return sentinel != nil && target == sentinel
}

func (c ErrorClass) sentinel() error {
	switch c {
	case ClassThrottled:
		return ErrThrottled
	case ClassRetriesExhausted:
		return ErrRetriesExhausted
	case ClassUploadFailed:
		return ErrUploadFailed
	case ClassOperationMismatch:
		return ErrOperationMismatch
	case ClassOperationFailed:
		return ErrOperationFailed
	case ClassCancelled:
		return ErrContextCancelled
	default:
		return nil
	}
}

// Classify returns the class of err. The outermost *Error wins.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}

	var shopifyErr *Error
	if errors.As(err, &shopifyErr) {
		return shopifyErr.Class
	}

	switch {
	case errors.Is(err, ErrRetriesExhausted):
		return ClassRetriesExhausted
	case errors.Is(err, ErrThrottled):
		return ClassThrottled
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, ErrContextCancelled):
		return ClassCancelled
	default:
		return ClassUnknown
	}
}

// Describe returns the class and a human-readable message for err.
func Describe(err error) (ErrorClass, string) {
	if err == nil {
		return "", ""
	}
	return Classify(err), err.Error()
}

// Retryable reports whether err is a throttle that may be retried with the same request.
func Retryable(err error) bool {
	return errors.Is(err, ErrThrottled) && !errors.Is(err, ErrRetriesExhausted)
}

// WrapContext converts a context error into a classified Error that still
// matches the underlying context error. Returns err unchanged if ctx is live.
func WrapContext(ctx context.Context, err error) error {
	ctxErr := ctx.Err()
	switch {
	case ctxErr == nil:
		return err
	case errors.Is(ctxErr, context.DeadlineExceeded):
		return &Error{Class: ClassTimeout, Message: "deadline exceeded", Err: ctxErr}
	default:
		return &Error{Class: ClassCancelled, Message: "operation cancelled", Err: ctxErr}
	}
}
