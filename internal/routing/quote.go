package routing

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Web3ok/bsc-sub000/internal/money"
	"github.com/Web3ok/bsc-sub000/internal/routing/clmath"
)

var (
	// ErrInvalidAmount is returned when the input amount is nil or not positive.
	ErrInvalidAmount = errors.New("routing: amount in must be positive")

	// ErrInsufficientLiquidity is returned when a pool cannot absorb the
	// requested swap (empty reserves, zero in-range liquidity).
	ErrInsufficientLiquidity = errors.New("routing: insufficient liquidity")

	// ErrRouteNotFound is returned when neither a direct venue nor the
	// base-asset fallback produces a usable route.
	ErrRouteNotFound = errors.New("routing: no route found")

	// ErrInvalidPair is returned when token in and token out are identical.
	ErrInvalidPair = errors.New("routing: token in and token out are the same")
)

// Quote is the outcome of pricing one swap against one venue.
type Quote struct {
	// AmountOut is the simulated output in the out-token's smallest units.
	AmountOut *big.Int

	// PriceImpactBps is the deviation of the realized execution price from
	// the venue's spot price, in basis points, fee included. Floored at 0.
	PriceImpactBps money.BPS
}

// StateReader provides the live pool state quoting needs. Implemented by the
// chain read facade; tests substitute fixed snapshots.
type StateReader interface {
	// PairReserves returns a constant-product pair's reserves in token0,
	// token1 order.
	PairReserves(ctx context.Context, pool common.Address) (reserve0, reserve1 *big.Int, err error)

	// PoolState returns a concentrated-liquidity pool's current sqrt price
	// (Q64.96) and in-range liquidity.
	PoolState(ctx context.Context, pool common.Address) (sqrtPriceX96, liquidity *big.Int, err error)
}

// ConstantProductQuote prices a swap against x*y=k reserves with the fee
// taken off the input:
//
//	amountOut = amountIn·(10000-feeBps)·reserveOut / (reserveIn·10000 + amountIn·(10000-feeBps))
//
// All arithmetic stays in *big.Int; decimals never enter the formula, so
// pairs with asymmetric decimals price identically to symmetric ones.
func ConstantProductQuote(reserveIn, reserveOut, amountIn *big.Int, feeBps money.BPS) (Quote, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return Quote{}, ErrInvalidAmount
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() == 0 || reserveOut.Sign() == 0 {
		return Quote{}, ErrInsufficientLiquidity
	}

	keep := big.NewInt(money.BPSScale - feeBps.Int64())
	effectiveIn := new(big.Int).Mul(amountIn, keep)

	num := new(big.Int).Mul(effectiveIn, reserveOut)
	den := new(big.Int).Mul(reserveIn, big.NewInt(money.BPSScale))
	den.Add(den, effectiveIn)

	amountOut := num.Quo(num, den)

	// Realized execution price vs spot price reserveOut/reserveIn:
	// impact = 10000 - amountOut·reserveIn·10000 / (amountIn·reserveOut)
	realized := new(big.Int).Mul(amountOut, reserveIn)
	realized.Mul(realized, big.NewInt(money.BPSScale))
	realized.Quo(realized, new(big.Int).Mul(amountIn, reserveOut))

	impact := money.BPSScale - realized.Int64()
	if impact < 0 {
		impact = 0
	}

	return Quote{
		AmountOut:      amountOut,
		PriceImpactBps: money.BPS(impact),
	}, nil
}

// executionImpactBps measures how far realized output fell below the
// frictionless spot output, in basis points, floored at 0.
func executionImpactBps(amountOut, spotOut *big.Int) money.BPS {
	if spotOut == nil || spotOut.Sign() == 0 {
		return money.BPS(money.BPSScale)
	}

	realized := new(big.Int).Mul(amountOut, big.NewInt(money.BPSScale))
	realized.Quo(realized, spotOut)

	impact := money.BPSScale - realized.Int64()
	if impact < 0 {
		impact = 0
	}
	return money.BPS(impact)
}

// venueQuoter prices one swap direction against one venue kind.
type venueQuoter interface {
	Quote(ctx context.Context, venue Venue, tokenIn common.Address, amountIn *big.Int) (Quote, error)
}

// constantProductQuoter quotes V2-style pairs from live reserves.
type constantProductQuoter struct {
	reader StateReader
}

func (q *constantProductQuoter) Quote(ctx context.Context, venue Venue, tokenIn common.Address, amountIn *big.Int) (Quote, error) {
	reserve0, reserve1, err := q.reader.PairReserves(ctx, venue.Pool)
	if err != nil {
		return Quote{}, fmt.Errorf("venue %s reserves: %w", venue.ID, err)
	}

	reserveIn, reserveOut := reserve0, reserve1
	if tokenIn != venue.Token0 {
		reserveIn, reserveOut = reserve1, reserve0
	}

	return ConstantProductQuote(reserveIn, reserveOut, amountIn, venue.FeeBps)
}

// concentratedQuoter quotes V3-style pools via single-step Q64.96 swap math.
type concentratedQuoter struct {
	reader StateReader
}

func (q *concentratedQuoter) Quote(ctx context.Context, venue Venue, tokenIn common.Address, amountIn *big.Int) (Quote, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return Quote{}, ErrInvalidAmount
	}

	sqrtPriceX96, liquidity, err := q.reader.PoolState(ctx, venue.Pool)
	if err != nil {
		return Quote{}, fmt.Errorf("venue %s pool state: %w", venue.ID, err)
	}

	zeroForOne := tokenIn == venue.Token0
	feePips := int(venue.FeeBps.Int64()) * 100

	amountOut, _, err := clmath.QuoteExactIn(sqrtPriceX96, liquidity, amountIn, zeroForOne, feePips)
	if err != nil {
		if errors.Is(err, clmath.ErrInvalidLiquidity) {
			return Quote{}, fmt.Errorf("venue %s: %w", venue.ID, ErrInsufficientLiquidity)
		}
		return Quote{}, fmt.Errorf("venue %s swap step: %w", venue.ID, err)
	}

	spotOut := clmath.SpotOutput(sqrtPriceX96, amountIn, zeroForOne)
	if spotOut.Sign() == 0 {
		return Quote{}, fmt.Errorf("venue %s: %w", venue.ID, ErrInsufficientLiquidity)
	}

	return Quote{
		AmountOut:      amountOut,
		PriceImpactBps: executionImpactBps(amountOut, spotOut),
	}, nil
}
