package cache

import (
	"context"
	"time"
)

// Store is a byte-oriented key/value cache with per-entry TTL. Set replaces
// the whole value atomically, so readers see either the previous value or
// the new one.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
