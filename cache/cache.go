// Package cache provides a small TTL key/value interface with in-memory and
// Redis backends. The control plane uses it to hold issued anti-forgery
// states until a callback consumes them.
//
// The in-memory backend stores values as-is. The Redis backend serializes
// values with msgpack, so [GetContext] deserializes []byte results
// transparently and callers can swap backends without changing code.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

type Cache interface {
	// Get retrieves a value from the cache.
	Get(ctx context.Context, key string) (bool, any, error)
	// Set stores a value in the cache with a TTL. If expires <= 0, the
	// cache's configured default TTL is used.
	Set(ctx context.Context, key string, val any, expires time.Duration) error
	// Take atomically retrieves and removes a value.
	Take(ctx context.Context, key string) (bool, any, error)
	// Expire removes a key from the cache.
	Expire(ctx context.Context, key string) (bool, error)
	// Close shuts down the cache.
	Close() error
}

type value struct {
	object  any
	expires time.Time
}

func decode[T any](found bool, val any, err error) (bool, T, error) {
	var zero T
	if !found || err != nil {
		return false, zero, err
	}
	if typed, ok := val.(T); ok {
		return true, typed, nil
	}
	if data, ok := val.([]byte); ok {
		var result T
		if err := msgpack.Unmarshal(data, &result); err != nil {
			return false, zero, fmt.Errorf("cache: failed to unmarshal value: %w", err)
		}
		return true, result, nil
	}
	return false, zero, fmt.Errorf("cache: cannot convert value of type %T to %T", val, zero)
}

// GetContext retrieves a typed value from the cache.
func GetContext[T any](ctx context.Context, c Cache, key string) (bool, T, error) {
	return decode[T](c.Get(ctx, key))
}

// TakeContext atomically retrieves and removes a typed value.
func TakeContext[T any](ctx context.Context, c Cache, key string) (bool, T, error) {
	return decode[T](c.Take(ctx, key))
}

// DefaultExpires is the default TTL used when Set is called with expires <= 0.
const DefaultExpires = 5 * time.Minute

// DefaultQueryTimeout is the per-operation timeout for cache backends that
// perform I/O (Redis).
const DefaultQueryTimeout = 5 * time.Second

type config struct {
	defaultExpires time.Duration
	queryTimeout   time.Duration
	expiryCheck    time.Duration
	prefix         string
}

// Option configures a Cache implementation.
type Option func(*config)

func applyOptions(opts []Option) config {
	cfg := config{
		defaultExpires: DefaultExpires,
		queryTimeout:   DefaultQueryTimeout,
		expiryCheck:    time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.defaultExpires <= 0 {
		cfg.defaultExpires = DefaultExpires
	}
	if cfg.queryTimeout <= 0 {
		cfg.queryTimeout = DefaultQueryTimeout
	}
	if cfg.expiryCheck <= 0 {
		cfg.expiryCheck = time.Minute
	}
	return cfg
}

// WithExpires sets the default TTL for cached values. Values <= 0 keep
// DefaultExpires.
func WithExpires(d time.Duration) Option {
	return func(c *config) { c.defaultExpires = d }
}

// WithQueryTimeout sets the per-operation timeout for the Redis backend.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithExpiryCheck sets the interval for background expired entry cleanup of
// the in-memory backend.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithPrefix sets the key prefix used by the Redis backend.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}
