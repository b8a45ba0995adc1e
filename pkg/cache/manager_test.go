package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a test Redis client for testing.
// Integration tests use testcontainers-go instead.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewManager(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	manager := NewManager(client)
	if manager == nil {
		t.Fatal("NewManager returned nil")
	}
	if manager.redis != client {
		t.Error("Manager redis client not set correctly")
	}
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil redis client")
		}
	}()
	NewManager(nil)
}

func TestManager_SetAndGet(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()

	key := Key{Shop: "my-shop", Kind: "publication", ID: "Online Store"}
	entry := NewEntry([]byte("gid://shopify/Publication/1"), 5*time.Minute)

	if err := manager.Set(ctx, key, entry); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := manager.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got.Data) != string(entry.Data) {
		t.Errorf("Data = %q, want %q", got.Data, entry.Data)
	}
}

func TestManager_Get_CacheMiss(t *testing.T) {
	manager := NewManager(setupTestRedis(t))

	_, err := manager.Get(context.Background(), Key{Shop: "my-shop", Kind: "publication", ID: "missing"})
	if !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}

func TestManager_Set_ExpiredEntryIgnored(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()
	key := Key{Shop: "my-shop", Kind: "publication", ID: "old"}

	if err := manager.Set(ctx, key, &Entry{Data: []byte("x"), Expires: time.Now().Add(-time.Minute)}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}

func TestManager_Delete(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()
	key := Key{Shop: "my-shop", Kind: "location", ID: "main"}

	if err := manager.Set(ctx, key, NewEntry([]byte("gid://shopify/Location/1"), time.Minute)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := manager.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get() after delete error = %v, want ErrCacheMiss", err)
	}
}

func TestManager_GetOrLoad(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()
	key := Key{Shop: "my-shop", Kind: "publication", ID: "Online Store"}

	loads := 0
	load := func(context.Context) ([]byte, error) {
		loads++
		return []byte("gid://shopify/Publication/7"), nil
	}

	for i := 0; i < 3; i++ {
		got, err := manager.GetOrLoad(ctx, key, time.Minute, load)
		if err != nil {
			t.Fatalf("GetOrLoad() error = %v", err)
		}
		if string(got) != "gid://shopify/Publication/7" {
			t.Errorf("GetOrLoad() = %q", got)
		}
	}
	if loads != 1 {
		t.Errorf("loader called %d times, want 1", loads)
	}
}

func TestManager_GetOrLoad_LoaderError(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()
	key := Key{Shop: "my-shop", Kind: "publication", ID: "Missing"}
	boom := errors.New("boom")

	if _, err := manager.GetOrLoad(ctx, key, time.Minute, func(context.Context) ([]byte, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("GetOrLoad() error = %v, want boom", err)
	}
	if _, err := manager.Get(ctx, key); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("failed load was cached: %v", err)
	}
}

func TestManager_Purge(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	ctx := context.Background()

	for _, k := range []Key{
		{Shop: "shop-a", Kind: "publication", ID: "Online Store"},
		{Shop: "shop-a", Kind: "location", ID: "main"},
		{Shop: "shop-b", Kind: "publication", ID: "Online Store"},
	} {
		if err := manager.Set(ctx, k, NewEntry([]byte("x"), time.Minute)); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}

	removed, err := manager.Purge(ctx, "shop-a")
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if _, err := manager.Get(ctx, Key{Shop: "shop-b", Kind: "publication", ID: "Online Store"}); err != nil {
		t.Errorf("other shop purged: %v", err)
	}
}

func TestManager_Set_NilEntry(t *testing.T) {
	manager := NewManager(setupTestRedis(t))
	if err := manager.Set(context.Background(), Key{Shop: "x"}, nil); err == nil {
		t.Error("Set(nil) should return error")
	}
}
