package core

import (
	"context"
	"time"
)

// Cache stores JSON-serializable values with a TTL.
// Get reports whether the key was found; a miss is not an error.
type Cache interface {
	Get(ctx context.Context, key string, dst interface{}) (bool, error)
	Set(ctx context.Context, key string, val interface{}, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
}
