package shopify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rikpy/shopify-bulk/internal/testutil"
	"github.com/rikpy/shopify-bulk/pkg/client"
	"github.com/stretchr/testify/require"
)

func TestParseFilterDate(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Time
		wantErr  bool
	}{
		{"23/02/2024", time.Date(2024, 2, 23, 0, 0, 0, 0, time.UTC), false},
		{"2024-02-23", time.Date(2024, 2, 23, 0, 0, 0, 0, time.UTC), false},
		{" 01/12/2023 ", time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC), false},
		{"02/23/2024", time.Time{}, true},
		{"2024-23-02", time.Time{}, true},
		{"23.02.2024", time.Time{}, true},
		{"", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFilterDate(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidFilterDate)
				return
			}
			require.NoError(t, err)
			require.True(t, tt.expected.Equal(got), "got %s", got)
		})
	}
}

func metafieldProduct(id int, value any) map[string]any {
	var metafield any
	if value != nil {
		metafield = map[string]any{"value": value}
	}
	return map[string]any{
		"id":        fmt.Sprintf("gid://shopify/Product/%d", id),
		"title":     fmt.Sprintf("Product %d", id),
		"metafield": metafield,
		"variants": testutil.Connection([]any{
			map[string]any{"id": "v1", "inventoryItem": map[string]any{"id": fmt.Sprintf("gid://shopify/InventoryItem/%d1", id)}},
			map[string]any{"id": "v2", "inventoryItem": map[string]any{"id": fmt.Sprintf("gid://shopify/InventoryItem/%d2", id)}},
		}, false, ""),
	}
}

func handleMetafieldProducts(mock *testutil.MockShopify) {
	mock.HandleSequence("metafield(",
		testutil.DataResponse(map[string]any{"products": testutil.Connection([]any{
			metafieldProduct(1, "2024-01-15T00:00:00+01:00"),
			metafieldProduct(2, "2024-03-01T00:00:00Z"),
			metafieldProduct(3, nil),
		}, true, "m1")}),
		testutil.DataResponse(map[string]any{"products": testutil.Connection([]any{
			metafieldProduct(4, "not a date"),
			metafieldProduct(5, "2024-02-22T23:59:59+0000"),
			metafieldProduct(6, ""),
		}, false, "")}),
	)
}

func TestProductsWithMetafieldBefore(t *testing.T) {
	mock := testutil.NewMockShopify()
	defer mock.Close()
	handleMetafieldProducts(mock)

	s := newTestService(t, mock, Options{})
	cutoff, err := ParseFilterDate("23/02/2024")
	require.NoError(t, err)

	got, err := s.ProductsWithMetafieldBefore(context.Background(), "custom.unpublish_after", cutoff)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "gid://shopify/Product/1", got[0].ID)
	require.Equal(t, "2024-01-15T00:00:00+01:00", got[0].MetafieldValue)
	require.Equal(t, []string{"gid://shopify/InventoryItem/11", "gid://shopify/InventoryItem/12"}, got[0].VariantInventoryItemIDs)
	require.Equal(t, "gid://shopify/Product/5", got[1].ID)

	calls := mock.CallsMatching("metafield(")
	require.Len(t, calls, 2)
	require.Equal(t, "custom", calls[0].Variables["namespace"])
	require.Equal(t, "unpublish_after", calls[0].Variables["key"])
	require.Equal(t, "m1", calls[1].Variables["cursor"])
}

func TestSetInventoryToZero_Chunks(t *testing.T) {
	mock := testutil.NewMockShopify()
	defer mock.Close()
	mock.HandleData("inventorySetOnHandQuantities", map[string]any{
		"inventorySetOnHandQuantities": map[string]any{
			"inventoryAdjustmentGroup": map[string]any{"id": "gid://shopify/InventoryAdjustmentGroup/1"},
			"userErrors":               []any{},
		},
	})

	ids := make([]string, 600)
	for i := range ids {
		ids[i] = fmt.Sprintf("gid://shopify/InventoryItem/%d", i)
	}

	s := newTestService(t, mock, Options{})
	err := s.SetInventoryToZero(context.Background(), ids, "gid://shopify/Location/1", "")
	require.NoError(t, err)

	calls := mock.CallsMatching("inventorySetOnHandQuantities")
	require.Len(t, calls, 3)

	sizes := make([]int, 0, len(calls))
	for _, c := range calls {
		input := c.Variables["input"].(map[string]any)
		require.Equal(t, DefaultInventoryReason, input["reason"])
		quantities := input["setQuantities"].([]any)
		sizes = append(sizes, len(quantities))

		first := quantities[0].(map[string]any)
		require.Equal(t, "gid://shopify/Location/1", first["locationId"])
		require.Equal(t, float64(0), first["quantity"])
	}
	require.Equal(t, []int{250, 250, 100}, sizes)

	last := calls[2].Variables["input"].(map[string]any)["setQuantities"].([]any)
	require.Equal(t, "gid://shopify/InventoryItem/599", last[99].(map[string]any)["inventoryItemId"])
}

func TestSetInventoryToZero_Errors(t *testing.T) {
	tests := []struct {
		name       string
		locationID string
		response   testutil.MockResponse
		errorClass client.ErrorClass
		calls      int
	}{
		{
			name:       "missing location",
			errorClass: client.ClassUser,
		},
		{
			name:       "user errors",
			locationID: "gid://shopify/Location/1",
			response: testutil.DataResponse(map[string]any{
				"inventorySetOnHandQuantities": map[string]any{
					"userErrors": []map[string]any{{"field": []string{"input", "reason"}, "message": "Reason is invalid"}},
				},
			}),
			errorClass: client.ClassUser,
			calls:      1,
		},
		{
			name:       "transport error",
			locationID: "gid://shopify/Location/1",
			response:   testutil.StatusResponse(502),
			errorClass: client.ClassTransport,
			calls:      1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockShopify()
			defer mock.Close()
			mock.Handle("inventorySetOnHandQuantities", func(testutil.GraphQLCall) testutil.MockResponse {
				return tt.response
			})

			s := newTestService(t, mock, Options{})
			err := s.SetInventoryToZero(context.Background(), []string{"gid://shopify/InventoryItem/1"}, tt.locationID, "correction")
			require.Error(t, err)
			require.Equal(t, tt.errorClass, client.Classify(err))
			require.Len(t, mock.CallsMatching("inventorySetOnHandQuantities"), tt.calls)
		})
	}
}

func TestZeroStockBefore(t *testing.T) {
	mock := testutil.NewMockShopify()
	defer mock.Close()

	handleMetafieldProducts(mock)
	mock.HandleData("locations(", map[string]any{
		"locations": testutil.Connection([]any{map[string]any{"id": "gid://shopify/Location/77", "name": "Warehouse"}}, false, ""),
	})
	mock.HandleData("inventorySetOnHandQuantities", map[string]any{
		"inventorySetOnHandQuantities": map[string]any{"userErrors": []any{}},
	})

	s := newTestService(t, mock, Options{})
	result, err := s.ZeroStockBefore(context.Background(), "", time.Date(2024, 2, 23, 0, 0, 0, 0, time.UTC), "")
	require.NoError(t, err)
	require.Equal(t, 4, result.Count)

	calls := mock.CallsMatching("inventorySetOnHandQuantities")
	require.Len(t, calls, 1)
	quantities := calls[0].Variables["input"].(map[string]any)["setQuantities"].([]any)
	require.Len(t, quantities, 4)
	require.Equal(t, "gid://shopify/Location/77", quantities[0].(map[string]any)["locationId"])
}

func TestLocationID_NoLocations(t *testing.T) {
	mock := testutil.NewMockShopify()
	defer mock.Close()
	mock.HandleData("locations(", map[string]any{"locations": testutil.Connection(nil, false, "")})

	s := newTestService(t, mock, Options{})
	_, err := s.LocationID(context.Background())
	require.ErrorIs(t, err, ErrNoLocations)
}
