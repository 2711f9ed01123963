// Package routing resolves trade routes across configured DEX venues. Quotes
// run against live pool state, routes prefer the best direct venue and fall
// back to a 2-hop path through the base asset when no direct pool has usable
// liquidity.
package routing

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Web3ok/bsc-sub000/internal/money"
	"github.com/Web3ok/bsc-sub000/internal/platform/config"
)

// VenueKind distinguishes pool pricing models.
type VenueKind int

const (
	// ConstantProduct is a V2-style x*y=k pair with fee off the input.
	ConstantProduct VenueKind = iota
	// ConcentratedLiquidity is a V3-style pool quoted through Q64.96
	// swap-step math.
	ConcentratedLiquidity
)

// String returns a human-readable venue kind.
func (k VenueKind) String() string {
	switch k {
	case ConstantProduct:
		return "constant_product"
	case ConcentratedLiquidity:
		return "concentrated_liquidity"
	default:
		return "unknown"
	}
}

// ParseVenueKind parses the config representation of a venue kind.
func ParseVenueKind(s string) (VenueKind, error) {
	switch s {
	case "constant_product":
		return ConstantProduct, nil
	case "concentrated_liquidity":
		return ConcentratedLiquidity, nil
	default:
		return 0, fmt.Errorf("unknown venue kind %q", s)
	}
}

// Venue is one queryable liquidity source for a token pair.
type Venue struct {
	ID     string
	Kind   VenueKind
	FeeBps money.BPS
	Pool   common.Address
	Token0 common.Address
	Token1 common.Address
}

// Serves reports whether the venue trades the given unordered pair.
func (v Venue) Serves(a, b common.Address) bool {
	return (v.Token0 == a && v.Token1 == b) || (v.Token0 == b && v.Token1 == a)
}

// pairKey builds an order-independent map key for a token pair.
func pairKey(a, b common.Address) string {
	if a.Cmp(b) > 0 {
		a, b = b, a
	}
	return a.Hex() + "/" + b.Hex()
}

// Registry holds the static venue set loaded from configuration.
type Registry struct {
	venues []Venue
	byPair map[string][]Venue
}

// NewRegistry builds a venue registry from configuration. Addresses were
// format-checked during config validation; this parses them into typed form.
func NewRegistry(cfgs []config.VenueConfig) (*Registry, error) {
	r := &Registry{
		venues: make([]Venue, 0, len(cfgs)),
		byPair: make(map[string][]Venue),
	}

	for _, vc := range cfgs {
		kind, err := ParseVenueKind(vc.Kind)
		if err != nil {
			return nil, fmt.Errorf("venue %q: %w", vc.ID, err)
		}

		v := Venue{
			ID:     vc.ID,
			Kind:   kind,
			FeeBps: money.NewBPSFromInt(vc.FeeBps),
			Pool:   common.HexToAddress(vc.Pool),
			Token0: common.HexToAddress(vc.Token0),
			Token1: common.HexToAddress(vc.Token1),
		}

		r.venues = append(r.venues, v)
		key := pairKey(v.Token0, v.Token1)
		r.byPair[key] = append(r.byPair[key], v)
	}

	return r, nil
}

// VenuesFor returns every venue serving the unordered pair (a, b).
func (r *Registry) VenuesFor(a, b common.Address) []Venue {
	return r.byPair[pairKey(a, b)]
}

// Venues returns all registered venues.
func (r *Registry) Venues() []Venue {
	return r.venues
}

// Len returns the number of registered venues.
func (r *Registry) Len() int {
	return len(r.venues)
}
