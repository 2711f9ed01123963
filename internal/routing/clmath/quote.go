package clmath

import (
	"math/big"
)

const pipsDenominator = 1000000

// QuoteExactIn simulates swapping amountIn against the pool's current price
// and in-range liquidity, returning the output amount and the sqrt price
// after the swap. The simulation treats the active range's liquidity as
// covering the whole move, so quotes degrade for swaps large enough to
// cross ticks. Callers gate on price impact before trusting the result.
//
// feePips is the pool fee in hundredths of a bip (e.g. 2500 = 0.25%).
func QuoteExactIn(
	sqrtPriceX96 *big.Int,
	liquidity *big.Int,
	amountIn *big.Int,
	zeroForOne bool,
	feePips int,
) (amountOut, sqrtPriceNextX96 *big.Int, err error) {
	amountInAfterFee := new(big.Int).Mul(amountIn, big.NewInt(int64(pipsDenominator-feePips)))
	amountInAfterFee.Div(amountInAfterFee, big.NewInt(pipsDenominator))

	sqrtPriceNextX96, err = nextSqrtPriceFromInput(sqrtPriceX96, liquidity, amountInAfterFee, zeroForOne)
	if err != nil {
		return nil, nil, err
	}

	if zeroForOne {
		amountOut = amount1Delta(sqrtPriceNextX96, sqrtPriceX96, liquidity)
	} else {
		amountOut = amount0Delta(sqrtPriceX96, sqrtPriceNextX96, liquidity)
	}

	return amountOut, sqrtPriceNextX96, nil
}

// SpotOutput returns the output a swap of amountIn would produce at the
// current spot price with zero fee and zero impact. Quoters compare this
// against the simulated output to measure execution cost.
func SpotOutput(sqrtPriceX96, amountIn *big.Int, zeroForOne bool) *big.Int {
	priceX192 := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)

	if zeroForOne {
		// out = in * price, price = sqrtP^2 / 2^192
		out := new(big.Int).Mul(amountIn, priceX192)
		return out.Rsh(out, 192)
	}

	// out = in / price
	out := new(big.Int).Lsh(amountIn, 192)
	return out.Div(out, priceX192)
}
