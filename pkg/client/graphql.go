package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rikpy/shopify-bulk/pkg/ratelimit"
)

// ThrottledCode is the extensions.code Shopify sets on throttled requests.
const ThrottledCode = "THROTTLED"

// Request is a GraphQL document plus its variables.
type Request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Response is the GraphQL envelope returned by the Admin API.
type Response struct {
	Data       json.RawMessage `json:"data"`
	Errors     []GraphQLError  `json:"errors,omitempty"`
	Extensions *Extensions     `json:"extensions,omitempty"`
}

// Extensions carries the query cost block.
type Extensions struct {
	Cost *ratelimit.QueryCost `json:"cost,omitempty"`
}

// GraphQLError is a top-level GraphQL error.
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Code returns extensions.code, or "" if absent.
func (e GraphQLError) Code() string {
	if e.Extensions == nil {
		return ""
	}
	code, _ := e.Extensions["code"].(string)
	return code
}

// UserError is a mutation-level validation error.
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

// PageInfo is the cursor block of a connection.
type PageInfo struct {
	HasNextPage bool    `json:"hasNextPage"`
	EndCursor   *string `json:"endCursor"`
}

// Edge wraps one node of a connection.
type Edge[T any] struct {
	Cursor string `json:"cursor,omitempty"`
	Node   T      `json:"node"`
}

// Connection is a Relay-style connection. Shopify returns either edges or nodes.
type Connection[T any] struct {
	Edges    []Edge[T] `json:"edges,omitempty"`
	Nodes    []T       `json:"nodes,omitempty"`
	PageInfo PageInfo  `json:"pageInfo"`
}

// Items returns the nodes of the connection in order.
func (c Connection[T]) Items() []T {
	if len(c.Edges) == 0 {
		return c.Nodes
	}
	items := make([]T, 0, len(c.Edges))
	for _, edge := range c.Edges {
		items = append(items, edge.Node)
	}
	return items
}

// IsThrottled returns true if any error carries the THROTTLED code.
func IsThrottled(errs []GraphQLError) bool {
	for _, e := range errs {
		if e.Code() == ThrottledCode {
			return true
		}
		if strings.EqualFold(strings.TrimSpace(e.Message), "throttled") {
			return true
		}
	}
	return false
}

// FormatErrors joins GraphQL error messages into one line.
func FormatErrors(errs []GraphQLError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		if code := e.Code(); code != "" {
			parts = append(parts, fmt.Sprintf("%s (%s)", e.Message, code))
			continue
		}
		parts = append(parts, e.Message)
	}
	return strings.Join(parts, "; ")
}

// UserErrorsToError converts mutation userErrors into a classified error.
// Returns nil when there are none.
func UserErrorsToError(mutation string, userErrs []UserError) error {
	if len(userErrs) == 0 {
		return nil
	}

	msgs := make([]error, 0, len(userErrs))
	for _, ue := range userErrs {
		if len(ue.Field) > 0 {
			msgs = append(msgs, fmt.Errorf("%s: %s", strings.Join(ue.Field, "."), ue.Message))
			continue
		}
		msgs = append(msgs, errors.New(ue.Message))
	}

	return &Error{
		Class:      ClassUser,
		StatusCode: 200,
		Message:    fmt.Sprintf("%s returned %d user error(s)", mutation, len(userErrs)),
		Err:        errors.Join(msgs...),
	}
}
