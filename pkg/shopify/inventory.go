package shopify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rikpy/shopify-bulk/pkg/client"
	"github.com/rikpy/shopify-bulk/pkg/pagination"
	"github.com/rikpy/shopify-bulk/pkg/ratelimit"
)

// DefaultMetafieldKey holds the date after which a product is withdrawn.
const DefaultMetafieldKey = "custom.unpublish_after"

// InventoryChunkSize is the number of items set per inventory mutation.
const InventoryChunkSize = 250

var (
	// ErrInvalidFilterDate is returned for cutoff dates in an unknown format.
	ErrInvalidFilterDate = errors.New("unrecognized date format")

	// ErrNoLocations is returned when the shop has no inventory location.
	ErrNoLocations = errors.New("no locations found")
)

// MetafieldProduct is a product whose date metafield lies before a cutoff.
type MetafieldProduct struct {
	ID                      string    `json:"id"`
	Title                   string    `json:"title"`
	MetafieldValue          string    `json:"unpublish_metafield"`
	MetafieldDate           time.Time `json:"-"`
	VariantInventoryItemIDs []string  `json:"variant_inventory_item_ids"`
}

// ParseFilterDate parses a cutoff date given as dd/mm/yyyy or yyyy-mm-dd.
// The result is midnight UTC.
func ParseFilterDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var layout string
	switch {
	case strings.Contains(s, "/"):
		layout = "02/01/2006"
	case strings.Contains(s, "-"):
		layout = "2006-01-02"
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidFilterDate, s)
	}
	t, err := time.ParseInLocation(layout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrInvalidFilterDate, s, err)
	}
	return t, nil
}

var metafieldLayouts = []string{time.RFC3339, "2006-01-02T15:04:05-0700"}

func parseMetafieldDate(v string) (time.Time, error) {
	var lastErr error
	for _, layout := range metafieldLayouts {
		t, err := time.Parse(layout, v)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

const metafieldProductsQuery = `query metafieldProducts($namespace: String, $key: String!, $first: Int!, $cursor: String) {
  products(first: $first, after: $cursor) {
    edges {
      node {
        id
        title
        metafield(namespace: $namespace, key: $key) { value }
        variants(first: 250) {
          edges { node { id inventoryItem { id } } }
        }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

type metafieldNode struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Metafield *struct {
		Value string `json:"value"`
	} `json:"metafield"`
	Variants client.Connection[struct {
		ID            string `json:"id"`
		InventoryItem *struct {
			ID string `json:"id"`
		} `json:"inventoryItem"`
	}] `json:"variants"`
}

// ProductsWithMetafieldBefore returns the products whose date metafield key
// ("namespace.key") is earlier than cutoff. Products without the metafield
// are skipped, as are values that are not timestamps.
func (s *Service) ProductsWithMetafieldBefore(ctx context.Context, key string, cutoff time.Time) ([]MetafieldProduct, error) {
	start := time.Now()
	products, err := s.productsWithMetafieldBefore(ctx, s.newLimiter(), key, cutoff)
	return products, s.observe(ctx, "metafield_products", start, err)
}

func (s *Service) productsWithMetafieldBefore(ctx context.Context, l *ratelimit.Limiter, key string, cutoff time.Time) ([]MetafieldProduct, error) {
	if key == "" {
		key = DefaultMetafieldKey
	}
	vars := map[string]any{"key": key}
	if ns, k, ok := strings.Cut(key, "."); ok {
		vars["namespace"] = ns
		vars["key"] = k
	}

	q := &pagination.Query[metafieldNode, MetafieldProduct]{
		Doer:      s.client,
		Document:  metafieldProductsQuery,
		Variables: vars,
		Path:      []string{"products"},
		PageSize:  s.opts.PageSize,
		Normalize: func(n metafieldNode) (MetafieldProduct, bool) {
			if n.Metafield == nil || n.Metafield.Value == "" {
				return MetafieldProduct{}, false
			}
			date, err := parseMetafieldDate(n.Metafield.Value)
			if err != nil {
				s.logger.Warn().Err(err).Str("product", n.ID).Str("value", n.Metafield.Value).Msg("Skipping unparsable metafield date")
				return MetafieldProduct{}, false
			}
			if !date.Before(cutoff) {
				return MetafieldProduct{}, false
			}

			p := MetafieldProduct{
				ID:                      n.ID,
				Title:                   n.Title,
				MetafieldValue:          n.Metafield.Value,
				MetafieldDate:           date,
				VariantInventoryItemIDs: []string{},
			}
			for _, v := range n.Variants.Items() {
				if v.InventoryItem != nil && v.InventoryItem.ID != "" {
					p.VariantInventoryItemIDs = append(p.VariantInventoryItemIDs, v.InventoryItem.ID)
				}
			}
			return p, true
		},
	}
	return newPaginator[MetafieldProduct](s, "metafield_products", q, l).All(ctx)
}

const locationsQuery = `query locations {
  locations(first: 1) {
    edges { node { id name } }
  }
}`

// LocationID returns the shop's first inventory location.
func (s *Service) LocationID(ctx context.Context) (string, error) {
	start := time.Now()
	id, err := s.locationID(ctx, s.newLimiter())
	return id, s.observe(ctx, "location_id", start, err)
}

func (s *Service) locationID(ctx context.Context, l *ratelimit.Limiter) (string, error) {
	data, err := s.cached(ctx, "location", "first", func(ctx context.Context) ([]byte, error) {
		var out struct {
			Locations client.Connection[struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			}] `json:"locations"`
		}
		if _, err := s.client.DoThrottled(ctx, l, client.Request{Query: locationsQuery}, &out); err != nil {
			return nil, err
		}
		items := out.Locations.Items()
		if len(items) == 0 || items[0].ID == "" {
			return nil, &client.Error{Class: client.ClassUser, StatusCode: 200, Message: "inventory location", Err: ErrNoLocations}
		}
		return []byte(items[0].ID), nil
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

const setOnHandMutation = `mutation inventorySetOnHandQuantities($input: InventorySetOnHandQuantitiesInput!) {
  inventorySetOnHandQuantities(input: $input) {
    inventoryAdjustmentGroup { id }
    userErrors { field message }
  }
}`

type setQuantity struct {
	InventoryItemID string `json:"inventoryItemId"`
	LocationID      string `json:"locationId"`
	Quantity        int    `json:"quantity"`
}

// SetInventoryToZero sets the on-hand quantity of every item at locationID
// to zero, InventoryChunkSize items per mutation. An empty reason means
// DefaultInventoryReason.
func (s *Service) SetInventoryToZero(ctx context.Context, itemIDs []string, locationID, reason string) error {
	start := time.Now()
	err := s.setInventoryToZero(ctx, s.newLimiter(), itemIDs, locationID, reason)
	return s.observe(ctx, "inventory_zero", start, err)
}

func (s *Service) setInventoryToZero(ctx context.Context, l *ratelimit.Limiter, itemIDs []string, locationID, reason string) error {
	if locationID == "" {
		return &client.Error{Class: client.ClassUser, Message: "location id is required"}
	}
	if reason == "" {
		reason = DefaultInventoryReason
	}

	for chunkStart := 0; chunkStart < len(itemIDs); chunkStart += InventoryChunkSize {
		chunk := itemIDs[chunkStart:min(chunkStart+InventoryChunkSize, len(itemIDs))]

		quantities := make([]setQuantity, 0, len(chunk))
		for _, id := range chunk {
			quantities = append(quantities, setQuantity{InventoryItemID: id, LocationID: locationID})
		}

		req := client.Request{
			Query: setOnHandMutation,
			Variables: map[string]any{
				"input": map[string]any{
					"reason":        reason,
					"setQuantities": quantities,
				},
			},
		}

		var out struct {
			InventorySetOnHandQuantities struct {
				UserErrors []client.UserError `json:"userErrors"`
			} `json:"inventorySetOnHandQuantities"`
		}
		if _, err := s.client.DoThrottled(ctx, l, req, &out); err != nil {
			return fmt.Errorf("set inventory items %d-%d: %w", chunkStart+1, chunkStart+len(chunk), err)
		}
		if err := client.UserErrorsToError("inventorySetOnHandQuantities", out.InventorySetOnHandQuantities.UserErrors); err != nil {
			return err
		}

		s.logger.Debug().Int("from", chunkStart+1).Int("items", len(chunk)).Msg("Inventory chunk set to zero")
	}
	return nil
}

// ZeroStockBefore sets the inventory of every product whose date metafield
// lies before cutoff to zero at the shop's first location.
func (s *Service) ZeroStockBefore(ctx context.Context, key string, cutoff time.Time, reason string) (*Result, error) {
	start := time.Now()
	result, err := s.zeroStockBefore(ctx, key, cutoff, reason)
	return result, s.observe(ctx, "zero_stock_before", start, err)
}

func (s *Service) zeroStockBefore(ctx context.Context, key string, cutoff time.Time, reason string) (*Result, error) {
	l := s.newLimiter()

	products, err := s.productsWithMetafieldBefore(ctx, l, key, cutoff)
	if err != nil {
		return nil, err
	}

	var itemIDs []string
	for _, p := range products {
		itemIDs = append(itemIDs, p.VariantInventoryItemIDs...)
	}
	if len(itemIDs) == 0 {
		return &Result{Message: "No inventory items to reset."}, nil
	}

	locationID, err := s.locationID(ctx, l)
	if err != nil {
		return nil, err
	}

	if err := s.setInventoryToZero(ctx, l, itemIDs, locationID, reason); err != nil {
		return nil, err
	}

	return &Result{
		Message: fmt.Sprintf("Inventory set to zero for %d items of %d products.", len(itemIDs), len(products)),
		Count:   len(itemIDs),
	}, nil
}
