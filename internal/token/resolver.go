package token

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Web3ok/bsc-sub000/internal/platform/cache"
	"github.com/Web3ok/bsc-sub000/internal/platform/observability"
	"github.com/ethereum/go-ethereum/common"
)

// MetadataReader fetches token metadata from the chain.
// Interface defined where it is consumed; internal/chain implements it.
type MetadataReader interface {
	TokenMetadata(ctx context.Context, addr common.Address) (symbol string, decimals uint8, err error)
}

// Resolver resolves token metadata: registry seed first, then the layered
// cache, then an on-chain read. Resolved tokens are cached with a long TTL
// since symbol and decimals are immutable per deployed token.
type Resolver struct {
	registry *Registry
	reader   MetadataReader
	cache    cache.Cache
	ttl      time.Duration
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// ResolverConfig holds resolver configuration
type ResolverConfig struct {
	Registry *Registry
	Reader   MetadataReader
	Cache    cache.Cache
	TTL      time.Duration
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

// NewResolver creates a new token metadata resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Reader == nil {
		return nil, fmt.Errorf("metadata reader is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * 24 * time.Hour
	}

	return &Resolver{
		registry: cfg.Registry,
		reader:   cfg.Reader,
		cache:    cfg.Cache,
		ttl:      cfg.TTL,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}, nil
}

// Resolve returns the metadata for addr. The native coin sentinel resolves
// without any lookup.
func (r *Resolver) Resolve(ctx context.Context, addr common.Address) (Token, error) {
	if addr == NativeAddress {
		return Native(), nil
	}

	if t, ok := r.registry.ByAddress(addr); ok {
		return t, nil
	}

	key := cacheKey(addr)
	if r.cache != nil {
		if val, err := r.cache.Get(ctx, key); err == nil {
			if t, ok := decodeCached(val); ok {
				if r.metrics != nil {
					r.metrics.RecordCacheHit(ctx, "token_metadata")
				}
				return t, nil
			}
			// Unreadable entry; fall through to a fresh resolve.
			_ = r.cache.Delete(ctx, key)
		}
		if r.metrics != nil {
			r.metrics.RecordCacheMiss(ctx, "token_metadata")
		}
	}

	symbol, decimals, err := r.reader.TokenMetadata(ctx, addr)
	if err != nil {
		return Token{}, fmt.Errorf("failed to resolve token %s: %w", addr.Hex(), err)
	}

	t := Token{Address: addr, Symbol: symbol, Decimals: int(decimals)}

	if r.cache != nil {
		// Stored as a JSON string so the value round-trips identically
		// through the memory and Redis layers.
		data, err := json.Marshal(t)
		if err == nil {
			if err := r.cache.Set(ctx, key, string(data), r.ttl); err != nil && r.logger != nil {
				r.logger.LogWarn(ctx, "failed to cache token metadata",
					"address", addr.Hex(),
					"error", err,
				)
			}
		}
	}

	if r.logger != nil {
		r.logger.LogDebug(ctx, "resolved token metadata",
			"address", addr.Hex(),
			"symbol", t.Symbol,
			"decimals", t.Decimals,
		)
	}

	return t, nil
}

func cacheKey(addr common.Address) string {
	return "token:meta:" + addr.Hex()
}

func decodeCached(val interface{}) (Token, bool) {
	s, ok := val.(string)
	if !ok {
		return Token{}, false
	}
	var t Token
	if err := json.Unmarshal([]byte(s), &t); err != nil {
		return Token{}, false
	}
	if t.Symbol == "" {
		return Token{}, false
	}
	return t, true
}

// WarmupProvider pre-resolves a configured token list at startup so the first
// batch does not pay resolution latency. Implements cache.WarmupProvider.
type WarmupProvider struct {
	resolver *Resolver
	addrs    []common.Address
}

// NewWarmupProvider creates a warmup provider for the given addresses.
func NewWarmupProvider(resolver *Resolver, addrs []common.Address) *WarmupProvider {
	return &WarmupProvider{resolver: resolver, addrs: addrs}
}

// Name returns the provider name for warmup logging.
func (w *WarmupProvider) Name() string {
	return "token-metadata"
}

// Warmup resolves every configured address, stopping early on context
// cancellation. Individual resolution failures abort the warmup; the warmer
// treats them as non-fatal.
func (w *WarmupProvider) Warmup(ctx context.Context) error {
	for _, addr := range w.addrs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := w.resolver.Resolve(ctx, addr); err != nil {
			return fmt.Errorf("warmup resolve %s: %w", addr.Hex(), err)
		}
	}
	return nil
}
