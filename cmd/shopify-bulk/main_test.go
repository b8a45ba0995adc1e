package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rikpy/shopify-bulk/internal/testutil"
	"github.com/rikpy/shopify-bulk/pkg/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	if testing.Short() {
		t.Skip("Skipping container test in short mode")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		redisC.Terminate(ctx)
	}

	return redisClient, cleanup
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestReadyEndpoint_NoRedis(t *testing.T) {
	mux := newServeMux(nil)

	for _, path := range []string{"/ready", "/health", "/metrics"} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("%s: expected status 200, got %d", path, w.Code)
		}
	}
}

func TestReadyEndpoint(t *testing.T) {
	redisClient, cleanup := setupTestRedis(t)
	defer cleanup()

	handler := readyHandler(redisClient)

	t.Run("ready", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/ready", nil)
		w := httptest.NewRecorder()

		handler(w, req)

		resp := w.Result()
		body, _ := io.ReadAll(resp.Body)

		if resp.StatusCode != http.StatusOK {
			t.Errorf("Expected status 200, got %d", resp.StatusCode)
		}

		if string(body) != "OK" {
			t.Errorf("Expected body 'OK', got %s", string(body))
		}
	})

	t.Run("not_ready_redis_down", func(t *testing.T) {
		// Close Redis to simulate failure
		redisClient.Close()

		req := httptest.NewRequest("GET", "/ready", nil)
		w := httptest.NewRecorder()

		handler(w, req)

		resp := w.Result()

		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d", resp.StatusCode)
		}
	})
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		class client.ErrorClass
		want  int
	}{
		{client.ClassUser, 2},
		{client.ClassRetriesExhausted, 3},
		{client.ClassOperationFailed, 4},
		{client.ClassTimeout, 5},
		{client.ClassTransport, 1},
		{client.ClassUnknown, 1},
	}

	for _, tt := range tests {
		t.Run(string(tt.class), func(t *testing.T) {
			if got := exitCode(tt.class); got != tt.want {
				t.Errorf("exitCode(%s) = %d, want %d", tt.class, got, tt.want)
			}
		})
	}
}

// runCLI executes the root command with args against mock and returns stdout.
func runCLI(t *testing.T, mock *testutil.MockShopify, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())

	if mock != nil {
		args = append(args, "--shop", "test-shop", "--token", "shpat_test", "--base-url", mock.URL())
	}

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return stdout.String(), err
}

func TestHandleCommand(t *testing.T) {
	out, err := runCLI(t, nil, "handle", "Summer Sale!", "Men's T-Shirt (Blue)")
	require.NoError(t, err)

	var handles []string
	require.NoError(t, json.Unmarshal([]byte(out), &handles))
	assert.Equal(t, []string{"summer-sale", "mens-t-shirt-blue"}, handles)
}

func TestProductsCommand(t *testing.T) {
	mock := testutil.NewMockShopify()
	defer mock.Close()

	mock.HandleData("products(", map[string]any{
		"products": testutil.Connection([]any{
			map[string]any{"id": "gid://shopify/Product/1", "title": "Widget", "status": "ACTIVE"},
			map[string]any{"id": "gid://shopify/Product/2", "title": "Gadget", "status": "DRAFT"},
		}, false, ""),
	})

	out, err := runCLI(t, mock, "products")
	require.NoError(t, err)

	var products []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &products))
	require.Len(t, products, 2)
	assert.Equal(t, "Widget", products[0]["title"])
	assert.Equal(t, "DRAFT", products[1]["status"])
}

func TestInventoryLocationCommand(t *testing.T) {
	mock := testutil.NewMockShopify()
	defer mock.Close()

	mock.HandleData("locations(", map[string]any{
		"locations": testutil.Connection([]any{
			map[string]any{"id": "gid://shopify/Location/7", "name": "Warehouse"},
		}, false, ""),
	})

	out, err := runCLI(t, mock, "inventory", "location")
	require.NoError(t, err)
	assert.Contains(t, out, "gid://shopify/Location/7")
}

func TestCollectionsCommand(t *testing.T) {
	mock := testutil.NewMockShopify()
	defer mock.Close()

	mock.HandleData("collections(", map[string]any{
		"collections": testutil.Connection([]any{
			map[string]any{"id": "gid://shopify/Collection/3", "title": "Summer", "handle": "summer", "ruleSet": nil},
		}, false, ""),
	})

	out, err := runCLI(t, mock, "collections")
	require.NoError(t, err)

	var collections []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &collections))
	require.Len(t, collections, 1)
	assert.Equal(t, "summer", collections[0]["handle"])
	assert.Equal(t, false, collections[0]["smart"])
}

func TestVerifyCommand(t *testing.T) {
	mock := testutil.NewMockShopify()
	defer mock.Close()

	mock.Handle("shop {", func(testutil.GraphQLCall) testutil.MockResponse {
		return testutil.StatusResponse(http.StatusUnauthorized)
	})

	_, err := runCLI(t, mock, "verify")
	require.Error(t, err)
	assert.Equal(t, client.ClassUser, client.Classify(err))
	assert.Equal(t, 2, exitCode(client.Classify(err)))
}

func TestCommandErrors(t *testing.T) {
	mock := testutil.NewMockShopify()
	defer mock.Close()

	tests := []struct {
		name  string
		args  []string
		class client.ErrorClass
	}{
		{"missing credentials", []string{"products", "--shop", "test-shop"}, client.ClassUser},
		{"invalid collection id", append([]string{"collection", "archive", "not-an-id"}, credentials(mock)...), client.ClassUser},
		{"bad cutoff date", append([]string{"inventory", "expired", "--before", "31.12.2024"}, credentials(mock)...), client.ClassUser},
		{"cache without redis", append([]string{"cache", "purge"}, credentials(mock)...), client.ClassUser},
		{"bad publish date", append([]string{"blog", "publish", "1", "--title", "Harvest", "--publish-at", "tomorrow"}, credentials(mock)...), client.ClassUser},
		{"missing mutation file", append([]string{"bulk", "update", "lines.jsonl", "--mutation-file", "missing.graphql"}, credentials(mock)...), client.ClassUser},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, nil, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.class, client.Classify(err), err.Error())
		})
	}
}

func credentials(mock *testutil.MockShopify) []string {
	return []string{"--shop", "test-shop", "--token", "shpat_test", "--base-url", mock.URL()}
}

func TestServeShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, "127.0.0.1:0", newServeMux(nil))
	}()

	cancel()
	err := <-done
	if err != nil && !strings.Contains(err.Error(), "closed") {
		t.Errorf("serve returned %v after cancel", err)
	}
}
