package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/rikpy/shopify-bulk/pkg/client"
)

// PageSize is the largest page Shopify serves.
const PageSize = 250

// Doer executes one GraphQL request.
type Doer interface {
	Do(ctx context.Context, req client.Request, out any) (*client.Response, error)
}

// Query fetches pages of a GraphQL connection. The document must declare
// $first: Int! and $cursor: String, and Path locates the connection inside
// data, e.g. {"collection", "products"}.
type Query[N any, T any] struct {
	Doer      Doer
	Document  string
	Variables map[string]any
	Path      []string

	// PageSize defaults to the package PageSize.
	PageSize int

	// Normalize converts a raw node. Nodes are dropped when it returns false.
	Normalize func(N) (T, bool)
}

// FetchPage implements PageFetcher.
func (q *Query[N, T]) FetchPage(ctx context.Context, cursor *string) (Page[T], error) {
	size := q.PageSize
	if size <= 0 {
		size = PageSize
	}

	vars := make(map[string]any, len(q.Variables)+2)
	maps.Copy(vars, q.Variables)
	vars["first"] = size
	vars["cursor"] = cursor

	var data json.RawMessage
	resp, err := q.Doer.Do(ctx, client.Request{Query: q.Document, Variables: vars}, &data)
	if err != nil {
		return Page[T]{}, err
	}

	conn, err := extractConnection[N](data, q.Path)
	if err != nil {
		return Page[T]{}, err
	}

	nodes := conn.Items()
	page := Page[T]{
		Items:       make([]T, 0, len(nodes)),
		HasNextPage: conn.PageInfo.HasNextPage,
	}
	if conn.PageInfo.EndCursor != nil {
		page.EndCursor = *conn.PageInfo.EndCursor
	}
	if resp != nil && resp.Extensions != nil {
		page.Cost = resp.Extensions.Cost
	}
	for _, n := range nodes {
		if q.Normalize == nil {
			if item, ok := any(n).(T); ok {
				page.Items = append(page.Items, item)
			}
			continue
		}
		if item, ok := q.Normalize(n); ok {
			page.Items = append(page.Items, item)
		}
	}
	return page, nil
}

// ErrNotFound is returned when an object on the connection path is null.
var ErrNotFound = errors.New("object not found")

func extractConnection[N any](data json.RawMessage, path []string) (client.Connection[N], error) {
	var conn client.Connection[N]
	current := data
	for i, key := range path {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(current, &obj); err != nil {
			return conn, &client.Error{Class: client.ClassTransport, StatusCode: 200, Message: "decode " + strings.Join(path[:i+1], "."), Err: err}
		}
		next, ok := obj[key]
		if !ok || len(next) == 0 || string(next) == "null" {
			return conn, fmt.Errorf("%s: %w", strings.Join(path[:i+1], "."), ErrNotFound)
		}
		current = next
	}
	if err := json.Unmarshal(current, &conn); err != nil {
		return conn, &client.Error{Class: client.ClassTransport, StatusCode: 200, Message: "decode connection", Err: err}
	}
	return conn, nil
}
