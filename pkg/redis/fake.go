package redis

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// FakeClient is an in-memory Client for tests. Only hashes are modelled.
type FakeClient struct {
	mu     sync.Mutex
	hashes map[string]map[string]string
	ttls   map[string]time.Duration

	// Err, if set, is returned by every operation.
	Err error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeClient creates an empty FakeClient
func NewFakeClient() *FakeClient {
	return &FakeClient{
		hashes: make(map[string]map[string]string),
		ttls:   make(map[string]time.Duration),
	}
}

func (f *FakeClient) hash(key string) map[string]string {
	h, ok := f.hashes[key]
	if !ok {
		h = make(map[string]string)
		f.hashes[key] = h
	}
	return h
}

// HSet records a hash field
func (f *FakeClient) HSet(ctx context.Context, key string, field string, value interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.hash(key)[field] = fmt.Sprint(value)
	return nil
}

// HSetFields records several hash fields
func (f *FakeClient) HSetFields(ctx context.Context, key string, fields map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	h := f.hash(key)
	for field, value := range fields {
		h[field] = fmt.Sprint(value)
	}
	return nil
}

// HGet returns a hash field or a wrapped ErrNotFound
func (f *FakeClient) HGet(ctx context.Context, key string, field string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	v, ok := f.hashes[key][field]
	if !ok {
		return "", fmt.Errorf("hash field %s:%s: %w", key, field, ErrNotFound)
	}
	return v, nil
}

// HGetAll returns a copy of the hash
func (f *FakeClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	out := make(map[string]string, len(f.hashes[key]))
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return out, nil
}

// Expire records the TTL
func (f *FakeClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.ttls[key] = ttl
	return nil
}

// TTL returns the last TTL set on key
func (f *FakeClient) TTL(key string) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ttls[key]
}

// Del removes keys
func (f *FakeClient) Del(ctx context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	for _, k := range keys {
		delete(f.hashes, k)
		delete(f.ttls, k)
	}
	return nil
}

// Ping returns Err
func (f *FakeClient) Ping(ctx context.Context) error {
	return f.Err
}

// Close marks the client closed
func (f *FakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}
