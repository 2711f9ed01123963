package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultL1MaxTTL caps how long the in-memory layer holds an entry written
// with a longer TTL. Token metadata lives in L2 for weeks; L1 only needs to
// absorb the hot working set.
const DefaultL1MaxTTL = 1 * time.Minute

// LayeredCache implements a two-tier cache (L1: memory, L2: Redis).
// Reads fall through L1 to L2 and backfill L1 on an L2 hit; writes go
// through to both layers.
type LayeredCache struct {
	l1       Cache
	l2       Cache
	l1MaxTTL time.Duration
	logger   *slog.Logger
}

// LayeredCacheConfig holds layered cache configuration
type LayeredCacheConfig struct {
	L1       Cache
	L2       Cache
	L1MaxTTL time.Duration
	Logger   *slog.Logger
}

// NewLayeredCache creates a layered cache with the default L1 TTL cap.
// Either layer may be nil.
func NewLayeredCache(l1, l2 Cache) *LayeredCache {
	return NewLayeredCacheWithConfig(LayeredCacheConfig{L1: l1, L2: l2})
}

// NewLayeredCacheWithConfig creates a layered cache from explicit config.
func NewLayeredCacheWithConfig(cfg LayeredCacheConfig) *LayeredCache {
	if cfg.L1MaxTTL <= 0 {
		cfg.L1MaxTTL = DefaultL1MaxTTL
	}
	return &LayeredCache{
		l1:       cfg.L1,
		l2:       cfg.L2,
		l1MaxTTL: cfg.L1MaxTTL,
		logger:   cfg.Logger,
	}
}

// Get retrieves a value from cache (L1 → L2 → miss). An L1 fault degrades
// to L2; an L2 fault other than a miss is surfaced to the caller.
func (lc *LayeredCache) Get(ctx context.Context, key string) (interface{}, error) {
	if lc.l1 != nil {
		val, err := lc.l1.Get(ctx, key)
		if err == nil {
			return val, nil
		}
		if !errors.Is(err, ErrNotFound) && lc.logger != nil {
			lc.logger.Warn("L1 cache read failed, degrading to L2",
				slog.String("key", key),
				slog.Any("error", err),
			)
		}
	}

	if lc.l2 != nil {
		val, err := lc.l2.Get(ctx, key)
		if err == nil {
			// Backfill L1 cache on L2 hit
			if lc.l1 != nil {
				_ = lc.l1.Set(ctx, key, val, lc.l1MaxTTL)
			}
			return val, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	return nil, ErrNotFound
}

// Set stores a value in both cache layers (write-through). L1's TTL is
// capped at the configured maximum.
func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	var l1Err, l2Err error

	if lc.l1 != nil {
		l1TTL := ttl
		if l1TTL > lc.l1MaxTTL {
			l1TTL = lc.l1MaxTTL
		}
		l1Err = lc.l1.Set(ctx, key, value, l1TTL)
	}

	if lc.l2 != nil {
		l2Err = lc.l2.Set(ctx, key, value, ttl)
		if l2Err != nil && lc.logger != nil {
			lc.logger.Warn("L2 cache write failed",
				slog.String("key", key),
				slog.Any("error", l2Err),
			)
		}
	}

	// Return error only if every present layer failed
	if lc.l1 != nil && lc.l2 != nil {
		if l1Err != nil && l2Err != nil {
			return l2Err
		}
		return nil
	}
	if l1Err != nil {
		return l1Err
	}
	return l2Err
}

// Delete removes a key from both cache layers
func (lc *LayeredCache) Delete(ctx context.Context, key string) error {
	var l1Err, l2Err error

	if lc.l1 != nil {
		l1Err = lc.l1.Delete(ctx, key)
	}

	if lc.l2 != nil {
		l2Err = lc.l2.Delete(ctx, key)
	}

	if l1Err != nil {
		return l1Err
	}
	return l2Err
}

// Close closes both cache layers
func (lc *LayeredCache) Close() error {
	var l1Err, l2Err error

	if lc.l1 != nil {
		l1Err = lc.l1.Close()
	}

	if lc.l2 != nil {
		l2Err = lc.l2.Close()
	}

	if l1Err != nil {
		return l1Err
	}
	return l2Err
}
