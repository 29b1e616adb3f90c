package redis

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned (wrapped) when a key or hash field does not exist
var ErrNotFound = errors.New("redis: not found")

// Client represents a Redis client interface for testing and abstraction
type Client interface {
	// HSet sets a field in a hash
	HSet(ctx context.Context, key string, field string, value interface{}) error

	// HSetFields sets several hash fields in one round trip
	HSetFields(ctx context.Context, key string, fields map[string]interface{}) error

	// HGet gets a field from a hash; missing fields wrap ErrNotFound
	HGet(ctx context.Context, key string, field string) (string, error)

	// HGetAll gets all fields from a hash
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	// Expire sets a TTL on a key
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Del removes keys
	Del(ctx context.Context, keys ...string) error

	// Ping checks the connection to Redis
	Ping(ctx context.Context) error

	// Close closes the Redis connection
	Close() error
}
