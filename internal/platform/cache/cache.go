// Package cache backs the engine's read paths with a two-tier lookup cache:
// an in-process LRU (L1) in front of an optional Redis layer (L2). Token
// metadata is the main tenant. Entries are immutable once written, so the
// layers never carry invalidation traffic beyond TTL expiry.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports a cache miss. Any other error is a layer fault.
var ErrNotFound = errors.New("cache: key not found")

// Cache is the store contract shared by the memory, Redis, and layered
// implementations. Values must round-trip exactly as stored; the layered
// cache relies on that when it backfills L1 from an L2 hit.
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}
