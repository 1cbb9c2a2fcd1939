package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Default expirations per backend.
const (
	ExpiryDefaultInMemory = 5 * time.Minute
	ExpiryDefaultRedis    = 15 * time.Minute
)

// Cache is the lookup cache used for plan-mapping results.
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration)
	Delete(ctx context.Context, key string)
	Flush(ctx context.Context)
}

// UnmarshalCacheValue converts a cached value to the requested type. The
// in-memory backend stores objects, the redis backend JSON strings; both
// paths are handled.
func UnmarshalCacheValue[T any](value interface{}) (*T, bool) {
	if value == nil {
		return nil, false
	}

	if typed, ok := value.(*T); ok {
		return typed, true
	}

	if str, ok := value.(string); ok {
		var result T
		if err := json.Unmarshal([]byte(str), &result); err == nil {
			return &result, true
		}
	}

	return nil, false
}
