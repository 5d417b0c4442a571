// Package cache is the best-effort read-side cache: queries consult it
// before the projection tables and evict on staleness signals. A miss or a
// broken backend only costs a table read.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Cache stores opaque bytes under string keys. Implementations never fail
// reads or writes visibly; a degraded cache behaves like an empty one.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, keys ...string)
}

// GetJSON reads and decodes a cached value.
func GetJSON[T any](ctx context.Context, c Cache, key string) (T, bool) {
	var value T
	raw, ok := c.Get(ctx, key)
	if !ok {
		return value, false
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, false
	}
	return value, true
}

// SetJSON encodes and stores a value. Encoding failures drop the write.
func SetJSON(ctx context.Context, c Cache, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.Set(ctx, key, raw, ttl)
}
