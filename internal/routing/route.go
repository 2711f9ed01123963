package routing

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Web3ok/bsc-sub000/internal/money"
)

// Hop is one swap leg of a route: a venue and the direction through it.
type Hop struct {
	Venue     Venue
	TokenIn   common.Address
	TokenOut  common.Address
	AmountIn  *big.Int
	AmountOut *big.Int
	ImpactBps money.BPS
}

// Route is a resolved execution path for a trade. Produced fresh per request
// from live pool state, never cached.
type Route struct {
	Hops []Hop

	// AmountIn is the input to the first hop.
	AmountIn *big.Int

	// AmountOut is the quoted output of the final hop.
	AmountOut *big.Int

	// PriceImpactBps aggregates per-hop impact across the route.
	PriceImpactBps money.BPS

	// MinAmountOut is the slippage floor the transaction enforces on-chain:
	// amountOut·(10000-maxSlippageBps)/10000.
	MinAmountOut *big.Int
}

// Direct reports whether the route is a single-hop swap.
func (r *Route) Direct() bool {
	return len(r.Hops) == 1
}

// Path returns the token path through the route, first input to final output.
func (r *Route) Path() []common.Address {
	if len(r.Hops) == 0 {
		return nil
	}
	path := make([]common.Address, 0, len(r.Hops)+1)
	path = append(path, r.Hops[0].TokenIn)
	for _, h := range r.Hops {
		path = append(path, h.TokenOut)
	}
	return path
}

// Summary returns a compact venue trail for logs, e.g. "pancake-v2>pancake-v2".
func (r *Route) Summary() string {
	ids := make([]string, len(r.Hops))
	for i, h := range r.Hops {
		ids[i] = h.Venue.ID
	}
	return strings.Join(ids, ">")
}

// combineImpact compounds two per-hop impacts into a route-level figure:
// surviving value multiplies through hops, so
// total = 10000 - (10000-a)·(10000-b)/10000.
func combineImpact(a, b money.BPS) money.BPS {
	survivedA := money.BPSScale - a.Int64()
	survivedB := money.BPSScale - b.Int64()
	if survivedA < 0 {
		survivedA = 0
	}
	if survivedB < 0 {
		survivedB = 0
	}
	return money.BPS(money.BPSScale - survivedA*survivedB/money.BPSScale)
}
