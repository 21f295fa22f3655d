// Package redis provides a Redis/Valkey cache driver backed by valkey-go.
package redis

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/MahdiBaghbani/userservice-go/internal/platform/cache"
)

func init() {
	cache.RegisterDriver("redis", func(config map[string]any) (cache.Cache, error) {
		cfg := DefaultConfig()
		if v, ok := config["addr"].(string); ok && v != "" {
			cfg.Addr = v
		}
		if v, ok := config["password"].(string); ok {
			cfg.Password = v
		}
		if v, ok := toInt(config["db"]); ok {
			cfg.DB = v
		}
		if v, ok := toInt(config["dial_timeout_ms"]); ok && v > 0 {
			cfg.DialTimeout = time.Duration(v) * time.Millisecond
		}
		if v, ok := toInt(config["default_ttl_seconds"]); ok && v > 0 {
			cfg.DefaultTTL = time.Duration(v) * time.Second
		}
		return New(cfg)
	})
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// Config holds Redis connection configuration.
type Config struct {
	Addr        string        // Redis address (host:port)
	Password    string        // Optional password
	DB          int           // Database number
	DialTimeout time.Duration // Connection timeout
	DefaultTTL  time.Duration // Used when Set is called with ttl 0
}

// DefaultConfig returns sensible defaults for Redis connection.
func DefaultConfig() *Config {
	return &Config{
		Addr:        "localhost:6379",
		DialTimeout: 5 * time.Second,
		DefaultTTL:  cache.TTLSeats,
	}
}

// Cache stores entries in Redis or Valkey.
type Cache struct {
	client     valkey.Client
	defaultTTL time.Duration
}

// New connects to the configured server. It fails fast when the server is
// unreachable instead of degrading silently.
func New(cfg *Config) (*Cache, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:  []string{cfg.Addr},
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: true,
		Dialer:       net.Dialer{Timeout: cfg.DialTimeout},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = cache.TTLSeats
	}
	return &Cache{client: client, defaultTTL: ttl}, nil
}

// Get retrieves a value by key.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Do(ctx, c.client.B().Get().Key(key).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, cache.ErrNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set stores a value with the given TTL.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	cmd := c.client.B().Set().Key(key).Value(valkey.BinaryString(value)).PxMilliseconds(ttl.Milliseconds()).Build()
	if err := c.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Do(ctx, c.client.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Exists checks if a key exists.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Do(ctx, c.client.B().Exists().Key(key).Build()).AsInt64()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

// Close releases the connection pool.
func (c *Cache) Close() error {
	c.client.Close()
	return nil
}

var _ cache.Cache = (*Cache)(nil)
