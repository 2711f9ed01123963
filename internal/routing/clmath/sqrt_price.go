// Package clmath implements Q64.96 fixed-point swap math for
// concentrated-liquidity pools, following the SqrtPriceMath core that
// PancakeSwap V3 shares with Uniswap V3. Only the exact-input direction is
// implemented: the engine quotes known input amounts, never exact outputs.
package clmath

import (
	"errors"
	"math/big"
)

var (
	ErrInvalidLiquidity = errors.New("liquidity must be positive")
	ErrInvalidPrice     = errors.New("invalid sqrt price")
)

// Shared read-only operands.
var (
	one = big.NewInt(1)
	q96 = new(big.Int).Lsh(one, 96)
)

// nextSqrtPriceFromInput returns the pool's sqrt price after amountIn of
// the selling token enters. Selling token0 pushes the price down, selling
// token1 pushes it up.
func nextSqrtPriceFromInput(sqrtPX96, liquidity, amountIn *big.Int, zeroForOne bool) (*big.Int, error) {
	if sqrtPX96.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if liquidity.Sign() <= 0 {
		return nil, ErrInvalidLiquidity
	}

	if zeroForOne {
		return nextPriceFromAmount0(sqrtPX96, liquidity, amountIn), nil
	}
	return nextPriceFromAmount1(sqrtPX96, liquidity, amountIn), nil
}

// nextPriceFromAmount0 applies token0 entering the pool:
// liquidity·2^96·sqrtP / (liquidity·2^96 + amount·sqrtP), rounded up so
// the pool keeps the dust.
func nextPriceFromAmount0(sqrtPX96, liquidity, amount *big.Int) *big.Int {
	if amount.Sign() == 0 {
		return sqrtPX96
	}

	numerator := new(big.Int).Lsh(liquidity, 96)
	denominator := new(big.Int).Mul(amount, sqrtPX96)
	denominator.Add(denominator, numerator)

	return mulDivUp(numerator, sqrtPX96, denominator)
}

// nextPriceFromAmount1 applies token1 entering the pool: the sqrt price
// rises by amount·2^96/liquidity, rounded down so the pool keeps the dust.
func nextPriceFromAmount1(sqrtPX96, liquidity, amount *big.Int) *big.Int {
	delta := new(big.Int).Lsh(amount, 96)
	delta.Div(delta, liquidity)
	return delta.Add(delta, sqrtPX96)
}

// amount0Delta is the token0 conveyed while the sqrt price travels between
// two bounds: liquidity·2^96·|sqrtB-sqrtA| / (sqrtB·sqrtA), rounded down.
func amount0Delta(sqrtAX96, sqrtBX96, liquidity *big.Int) *big.Int {
	if sqrtAX96.Cmp(sqrtBX96) > 0 {
		sqrtAX96, sqrtBX96 = sqrtBX96, sqrtAX96
	}

	out := new(big.Int).Lsh(liquidity, 96)
	out.Mul(out, new(big.Int).Sub(sqrtBX96, sqrtAX96))
	out.Div(out, sqrtBX96)
	return out.Div(out, sqrtAX96)
}

// amount1Delta is the token1 conveyed for the same travel:
// liquidity·|sqrtB-sqrtA| / 2^96, rounded down.
func amount1Delta(sqrtAX96, sqrtBX96, liquidity *big.Int) *big.Int {
	diff := new(big.Int).Sub(sqrtBX96, sqrtAX96)
	diff.Abs(diff)

	out := diff.Mul(diff, liquidity)
	return out.Rsh(out, 96)
}

// mulDivUp computes a·b/den rounded up.
func mulDivUp(a, b, den *big.Int) *big.Int {
	num := new(big.Int).Mul(a, b)
	quo, rem := new(big.Int).QuoRem(num, den, new(big.Int))
	if rem.Sign() > 0 {
		quo.Add(quo, one)
	}
	return quo
}

// Q96ToFloat converts a Q96 sqrt price to the float price it encodes
// (token1 per token0). Display only; never feed the result back into swap
// math.
func Q96ToFloat(sqrtPriceX96 *big.Int) float64 {
	sqrtPrice := new(big.Float).Quo(
		new(big.Float).SetInt(sqrtPriceX96),
		new(big.Float).SetInt(q96),
	)

	price, _ := new(big.Float).Mul(sqrtPrice, sqrtPrice).Float64()
	return price
}

// FloatToQ96 converts a float price (token1 per token0) to a Q96 sqrt
// price.
func FloatToQ96(price float64) *big.Int {
	sqrtPriceX96 := new(big.Float).Sqrt(big.NewFloat(price))
	sqrtPriceX96.Mul(sqrtPriceX96, new(big.Float).SetInt(q96))

	out, _ := sqrtPriceX96.Int(nil)
	return out
}
