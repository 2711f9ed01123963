// Package money provides the fixed-point scalar types the engine prices
// with. Basis points ride int64 so tolerance math never touches floats;
// token amounts themselves stay *big.Int in smallest units everywhere.
package money

import (
	"fmt"
	"math/big"
)

// BPSScale is the basis-point denominator: 100% == 10000 bps.
const BPSScale int64 = 10000

const weiPerGwei int64 = 1e9

// Shared read-only operand for the hot quoting paths.
var bpsScaleBig = big.NewInt(BPSScale)

// BPS is a quantity in basis points. 1 bps = 0.01%.
type BPS int64

// NewBPSFromInt creates BPS directly from basis points.
func NewBPSFromInt(bps int64) BPS {
	return BPS(bps)
}

// Sub returns a - b.
func (a BPS) Sub(b BPS) BPS { return a - b }

// Abs returns the absolute value.
func (a BPS) Abs() BPS {
	if a < 0 {
		return -a
	}
	return a
}

// Int64 returns the raw basis-point count.
func (a BPS) Int64() int64 { return int64(a) }

// String formats as "50 bps".
func (a BPS) String() string {
	return fmt.Sprintf("%d bps", int64(a))
}

// DeductFromBig returns amount·(10000-a)/10000 as a new *big.Int. This is
// the slippage floor: the minimum acceptable output for a quoted amount
// under tolerance a.
func (a BPS) DeductFromBig(amount *big.Int) *big.Int {
	if amount == nil {
		return new(big.Int)
	}

	keep := BPSScale - int64(a)
	if keep < 0 {
		keep = 0
	}

	out := new(big.Int).Mul(amount, big.NewInt(keep))
	return out.Quo(out, bpsScaleBig)
}

// RatioBPS returns (a-b)·10000/b, the deviation of a from b in basis
// points. Zero when b is nil or zero.
func RatioBPS(a, b *big.Int) BPS {
	if a == nil || b == nil || b.Sign() == 0 {
		return 0
	}

	diff := new(big.Int).Sub(a, b)
	diff.Mul(diff, bpsScaleBig)
	diff.Quo(diff, b)
	return BPS(diff.Int64())
}

// Gwei is a gas price in gwei.
type Gwei int64

// GweiFromWei converts a raw wei amount to gwei, truncating.
func GweiFromWei(wei *big.Int) Gwei {
	if wei == nil {
		return 0
	}
	return Gwei(new(big.Int).Quo(wei, big.NewInt(weiPerGwei)).Int64())
}

// ToWei converts to wei as a fresh *big.Int.
func (g Gwei) ToWei() *big.Int {
	return new(big.Int).Mul(big.NewInt(int64(g)), big.NewInt(weiPerGwei))
}

// Float64 returns the gwei count as a float, for metrics.
func (g Gwei) Float64() float64 { return float64(g) }

// String formats as "3 gwei".
func (g Gwei) String() string {
	return fmt.Sprintf("%d gwei", int64(g))
}
