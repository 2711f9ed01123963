package routing

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Web3ok/bsc-sub000/internal/money"
	"github.com/Web3ok/bsc-sub000/internal/platform/observability"
	"github.com/Web3ok/bsc-sub000/internal/token"
)

const defaultQuoteConcurrency = 4

// Resolver finds the best execution route for a trade across the configured
// venue set.
type Resolver struct {
	registry     *Registry
	quoters      map[VenueKind]venueQuoter
	baseAsset    common.Address
	quoteLimiter *semaphore.Weighted
	logger       *observability.Logger
	metrics      *observability.Metrics
	tracer       observability.Tracer
}

// ResolverConfig holds route resolver configuration.
type ResolverConfig struct {
	Registry *Registry
	Reader   StateReader

	// BaseAsset is the intermediate token for 2-hop fallback routes
	// (WBNB on BSC). Also stands in for native BNB during routing.
	BaseAsset common.Address

	// QuoteConcurrency bounds concurrent pool-state reads during fan-out.
	QuoteConcurrency int64

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer
}

// NewResolver creates a route resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("venue registry is required")
	}
	if cfg.Reader == nil {
		return nil, fmt.Errorf("state reader is required")
	}
	if cfg.BaseAsset == (common.Address{}) {
		return nil, fmt.Errorf("base asset address is required")
	}

	concurrency := cfg.QuoteConcurrency
	if concurrency <= 0 {
		concurrency = defaultQuoteConcurrency
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = observability.NewNoopTracer()
	}

	return &Resolver{
		registry: cfg.Registry,
		quoters: map[VenueKind]venueQuoter{
			ConstantProduct:       &constantProductQuoter{reader: cfg.Reader},
			ConcentratedLiquidity: &concentratedQuoter{reader: cfg.Reader},
		},
		baseAsset:    cfg.BaseAsset,
		quoteLimiter: semaphore.NewWeighted(concurrency),
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		tracer:       tracer,
	}, nil
}

// ResolveRoute finds the best route from tokenIn to tokenOut for amountIn.
// Native BNB (zero address) routes as WBNB; the executor picks the native
// router call variants from the operation itself.
//
// Direct venues are quoted concurrently and the highest output wins, ties
// going to the lower fee tier. Only when no direct venue has usable
// liquidity does resolution fall back to tokenIn -> base -> tokenOut.
func (r *Resolver) ResolveRoute(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, maxSlippageBps money.BPS) (*Route, error) {
	start := time.Now()

	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	in := r.forRouting(tokenIn)
	out := r.forRouting(tokenOut)
	if in == out {
		return nil, ErrInvalidPair
	}

	ctx, span := r.tracer.StartSpan(ctx, "routing.resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("token_in", in.Hex()),
		attribute.String("token_out", out.Hex()),
		attribute.String("amount_in", amountIn.String()),
	)

	route, err := r.resolve(ctx, in, out, amountIn)

	duration := time.Since(start)
	if err != nil {
		span.SetStatus(observability.SpanStatusError, err.Error())
		if r.metrics != nil {
			r.metrics.RecordRouteResolution(ctx, "", duration, false)
		}
		return nil, err
	}

	route.MinAmountOut = maxSlippageBps.DeductFromBig(route.AmountOut)

	path := "direct"
	if !route.Direct() {
		path = "two_hop"
	}

	span.SetAttributes(
		attribute.String("path", path),
		attribute.String("amount_out", route.AmountOut.String()),
		attribute.Int64("impact_bps", route.PriceImpactBps.Int64()),
	)
	span.SetStatus(observability.SpanStatusOK, "")

	if r.metrics != nil {
		r.metrics.RecordRouteResolution(ctx, path, duration, true)
		for _, h := range route.Hops {
			r.metrics.RecordFeeTierUsed(ctx, h.Venue.FeeBps.Int64())
		}
	}

	if r.logger != nil {
		r.logger.LogDebug(ctx, "route resolved",
			"path", path,
			"venues", route.Summary(),
			"amount_in", amountIn.String(),
			"amount_out", route.AmountOut.String(),
			"min_amount_out", route.MinAmountOut.String(),
			"impact_bps", route.PriceImpactBps.Int64(),
			"duration_ms", duration.Milliseconds(),
		)
	}

	return route, nil
}

// forRouting maps the native BNB sentinel onto the wrapped base asset.
func (r *Resolver) forRouting(addr common.Address) common.Address {
	if addr == token.NativeAddress {
		return r.baseAsset
	}
	return addr
}

func (r *Resolver) resolve(ctx context.Context, in, out common.Address, amountIn *big.Int) (*Route, error) {
	if hop, ok := r.bestHop(ctx, in, out, amountIn, r.registry.VenuesFor(in, out)); ok {
		return &Route{
			Hops:           []Hop{hop},
			AmountIn:       amountIn,
			AmountOut:      hop.AmountOut,
			PriceImpactBps: hop.ImpactBps,
		}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// No liquid direct venue: try in -> base -> out. Hops stay on
	// constant-product venues so the route executes as a single V2 router
	// path call.
	if in == r.baseAsset || out == r.baseAsset {
		return nil, fmt.Errorf("%w: %s -> %s", ErrRouteNotFound, in.Hex(), out.Hex())
	}

	hop1, ok := r.bestHop(ctx, in, r.baseAsset, amountIn, constantProductOnly(r.registry.VenuesFor(in, r.baseAsset)))
	if !ok {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s -> %s", ErrRouteNotFound, in.Hex(), out.Hex())
	}

	hop2, ok := r.bestHop(ctx, r.baseAsset, out, hop1.AmountOut, constantProductOnly(r.registry.VenuesFor(r.baseAsset, out)))
	if !ok {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s -> %s", ErrRouteNotFound, in.Hex(), out.Hex())
	}

	return &Route{
		Hops:           []Hop{hop1, hop2},
		AmountIn:       amountIn,
		AmountOut:      hop2.AmountOut,
		PriceImpactBps: combineImpact(hop1.ImpactBps, hop2.ImpactBps),
	}, nil
}

// bestHop quotes every candidate venue concurrently and returns the hop with
// the highest output. A quote failure disqualifies its venue without failing
// the others.
func (r *Resolver) bestHop(ctx context.Context, in, out common.Address, amountIn *big.Int, venues []Venue) (Hop, bool) {
	if len(venues) == 0 {
		return Hop{}, false
	}

	quotes := make([]*Quote, len(venues))

	g, gctx := errgroup.WithContext(ctx)
	for i, venue := range venues {
		g.Go(func() error {
			if err := r.quoteLimiter.Acquire(gctx, 1); err != nil {
				return fmt.Errorf("quote limiter: %w", err)
			}
			defer r.quoteLimiter.Release(1)

			start := time.Now()
			q, err := r.quoters[venue.Kind].Quote(gctx, venue, in, amountIn)
			if r.metrics != nil {
				r.metrics.RecordQuote(gctx, venue.Kind.String(), time.Since(start), err == nil)
			}
			if err != nil {
				if r.logger != nil {
					r.logger.LogDebug(gctx, "venue quote failed",
						"venue", venue.ID,
						"error", err,
					)
				}
				return nil
			}

			quotes[i] = &q
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Hop{}, false
	}

	best := -1
	for i, q := range quotes {
		if q == nil || q.AmountOut == nil || q.AmountOut.Sign() == 0 {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		switch q.AmountOut.Cmp(quotes[best].AmountOut) {
		case 1:
			best = i
		case 0:
			if venues[i].FeeBps < venues[best].FeeBps {
				best = i
			}
		}
	}

	if best < 0 {
		return Hop{}, false
	}

	return Hop{
		Venue:     venues[best],
		TokenIn:   in,
		TokenOut:  out,
		AmountIn:  amountIn,
		AmountOut: quotes[best].AmountOut,
		ImpactBps: quotes[best].PriceImpactBps,
	}, true
}

func constantProductOnly(venues []Venue) []Venue {
	out := venues[:0:0]
	for _, v := range venues {
		if v.Kind == ConstantProduct {
			out = append(out, v)
		}
	}
	return out
}
