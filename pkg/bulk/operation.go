// Package bulk submits Shopify bulk operations and polls them to completion.
//
// Shopify runs at most one bulk mutation and one bulk query per shop at a
// time and only exposes the current one (currentBulkOperation). Polling
// therefore checks that the current operation is still the one that was
// submitted; any other id means the slot was taken over and the result of
// the original operation can no longer be observed.
package bulk

import "time"

// Type is the kind of bulk operation.
type Type string

const (
	TypeQuery    Type = "QUERY"
	TypeMutation Type = "MUTATION"
)

// Status is a bulk operation status.
type Status string

const (
	StatusCreated   Status = "CREATED"
	StatusRunning   Status = "RUNNING"
	StatusCanceling Status = "CANCELING"
	StatusCompleted Status = "COMPLETED"
	StatusCanceled  Status = "CANCELED"
	StatusExpired   Status = "EXPIRED"
	StatusFailed    Status = "FAILED"
)

// Terminal returns true once the operation will not change anymore.
// Unknown statuses are treated as terminal.
func (s Status) Terminal() bool {
	switch s {
	case StatusCreated, StatusRunning, StatusCanceling:
		return false
	default:
		return true
	}
}

// Operation is a bulk operation as reported by Shopify.
type Operation struct {
	ID             string     `json:"id"`
	Status         Status     `json:"status"`
	Type           Type       `json:"type,omitempty"`
	ErrorCode      string     `json:"errorCode,omitempty"`
	CreatedAt      *time.Time `json:"createdAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
	ObjectCount    string     `json:"objectCount,omitempty"`
	FileSize       string     `json:"fileSize,omitempty"`
	URL            string     `json:"url,omitempty"`
	PartialDataURL string     `json:"partialDataUrl,omitempty"`
}

func (o *Operation) kind() string {
	if o.Type == TypeQuery {
		return "query"
	}
	return "mutation"
}
