package redis_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/MahdiBaghbani/userservice-go/internal/platform/cache"
	"github.com/MahdiBaghbani/userservice-go/internal/platform/cache/redis"
)

func newTestCache(t *testing.T) (*redis.Cache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)

	c, err := redis.New(&redis.Config{
		Addr:        s.Addr(),
		DialTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create redis cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, s
}

func TestNew_FailFastUnreachable(t *testing.T) {
	cfg := &redis.Config{
		Addr:        "localhost:59999",
		DialTimeout: 100 * time.Millisecond,
	}

	_, err := redis.New(cfg)
	if err == nil {
		t.Fatal("expected error when connecting to unreachable Redis, got nil")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := redis.DefaultConfig()

	if cfg.Addr != "localhost:6379" {
		t.Errorf("expected default addr localhost:6379, got %s", cfg.Addr)
	}
	if cfg.DB != 0 {
		t.Errorf("expected default DB 0, got %d", cfg.DB)
	}
	if cfg.DefaultTTL != cache.TTLSeats {
		t.Errorf("expected default TTL %v, got %v", cache.TTLSeats, cfg.DefaultTTL)
	}
}

func TestSetGetDelete(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "key1", []byte("value1"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	val, err := c.Get(ctx, "key1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "value1" {
		t.Errorf("expected 'value1', got %q", string(val))
	}

	exists, err := c.Exists(ctx, "key1")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected key to exist")
	}

	if err := c.Delete(ctx, "key1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	exists, err = c.Exists(ctx, "key1")
	if err != nil {
		t.Fatalf("Exists after delete failed: %v", err)
	}
	if exists {
		t.Error("expected key to not exist after delete")
	}
}

func TestGet_Missing(t *testing.T) {
	c, _ := newTestCache(t)

	_, err := c.Get(context.Background(), "missing")
	if !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSet_AppliesTTL(t *testing.T) {
	c, s := newTestCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "tenant:seats:t1", []byte("5"), 30*time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if ttl := s.TTL("tenant:seats:t1"); ttl != 30*time.Second {
		t.Errorf("expected TTL 30s, got %v", ttl)
	}

	s.FastForward(31 * time.Second)

	if _, err := c.Get(ctx, "tenant:seats:t1"); !errors.Is(err, cache.ErrNotFound) {
		t.Errorf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestSet_ZeroTTLUsesDefault(t *testing.T) {
	c, s := newTestCache(t)

	if err := c.Set(context.Background(), "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if ttl := s.TTL("k"); ttl != cache.TTLSeats {
		t.Errorf("expected default TTL %v, got %v", cache.TTLSeats, ttl)
	}
}

func TestNewFromConfig_Redis(t *testing.T) {
	s := miniredis.RunT(t)

	c, err := cache.NewFromConfig("redis", map[string]any{
		"redis": map[string]any{
			"addr":            s.Addr(),
			"dial_timeout_ms": int64(1000),
		},
	})
	if err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	defer c.Close()

	if _, ok := c.(*redis.Cache); !ok {
		t.Errorf("expected *redis.Cache, got %T", c)
	}
}
