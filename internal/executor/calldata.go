package executor

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/Web3ok/bsc-sub000/internal/routing"
	"github.com/Web3ok/bsc-sub000/internal/token"
)

// Router ABIs, trimmed to the methods the executor submits. V2 is the
// PancakeSwap-style path router, V3 the exactInputSingle router with
// multicall + unwrap for native output.
const v2RouterABIJSON = `[
	{"name":"swapExactTokensForTokens","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
	{"name":"swapExactETHForTokens","type":"function","stateMutability":"payable","inputs":[{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
	{"name":"swapExactTokensForETH","type":"function","stateMutability":"nonpayable","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

const v3RouterABIJSON = `[
	{"name":"exactInputSingle","type":"function","stateMutability":"payable","inputs":[{"name":"params","type":"tuple","components":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"fee","type":"uint24"},{"name":"recipient","type":"address"},{"name":"deadline","type":"uint256"},{"name":"amountIn","type":"uint256"},{"name":"amountOutMinimum","type":"uint256"},{"name":"sqrtPriceLimitX96","type":"uint160"}]}],"outputs":[{"name":"amountOut","type":"uint256"}]},
	{"name":"unwrapWETH9","type":"function","stateMutability":"payable","inputs":[{"name":"amountMinimum","type":"uint256"},{"name":"recipient","type":"address"}],"outputs":[]},
	{"name":"multicall","type":"function","stateMutability":"payable","inputs":[{"name":"data","type":"bytes[]"}],"outputs":[{"name":"results","type":"bytes[]"}]}
]`

const approveABIJSON = `[
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var (
	v2RouterABI = mustParseABI(v2RouterABIJSON)
	v3RouterABI = mustParseABI(v3RouterABIJSON)
	approveABI  = mustParseABI(approveABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("executor: invalid static ABI: " + err.Error())
	}
	return parsed
}

// exactInputSingleParams mirrors the V3 router's tuple argument.
type exactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	Fee               *big.Int
	Recipient         common.Address
	Deadline          *big.Int
	AmountIn          *big.Int
	AmountOutMinimum  *big.Int
	SqrtPriceLimitX96 *big.Int
}

// txPlan is an unsigned transaction sketch: target contract, call data,
// attached value and gas budget. Nonce and gas price are filled per attempt.
type txPlan struct {
	to       common.Address
	data     []byte
	value    *big.Int
	gasLimit uint64
}

// approvePlan builds the ERC-20 approve granting the router exactly the
// operation's input amount. Exact-amount grants re-check on every trade
// instead of leaving an open allowance behind.
func (e *Executor) approvePlan(router common.Address, op *Operation) (txPlan, error) {
	data, err := approveABI.Pack("approve", router, op.AmountIn)
	if err != nil {
		return txPlan{}, fmt.Errorf("packing approve: %w", err)
	}
	return txPlan{
		to:       op.TokenIn,
		data:     data,
		value:    big.NewInt(0),
		gasLimit: e.gasApprove,
	}, nil
}

// swapPlan builds the swap call for the route's venue generation. Fallback
// routes are constant-product only, so a route never mixes generations.
func (e *Executor) swapPlan(op *Operation, route *routing.Route, deadline *big.Int) (txPlan, error) {
	if route.Hops[0].Venue.Kind == routing.ConcentratedLiquidity {
		return e.v3Plan(op, route, deadline)
	}
	return e.v2Plan(op, route, deadline)
}

func (e *Executor) v2Plan(op *Operation, route *routing.Route, deadline *big.Int) (txPlan, error) {
	// Hop tokens are already wrapped: the resolver routes native BNB as
	// WBNB, so Path() is directly the router path.
	path := route.Path()
	value := big.NewInt(0)

	var (
		data []byte
		err  error
	)
	switch {
	case op.TokenIn == token.NativeAddress:
		data, err = v2RouterABI.Pack("swapExactETHForTokens",
			route.MinAmountOut, path, op.SourceAccount, deadline)
		value = op.AmountIn
	case op.TokenOut == token.NativeAddress:
		data, err = v2RouterABI.Pack("swapExactTokensForETH",
			op.AmountIn, route.MinAmountOut, path, op.SourceAccount, deadline)
	default:
		data, err = v2RouterABI.Pack("swapExactTokensForTokens",
			op.AmountIn, route.MinAmountOut, path, op.SourceAccount, deadline)
	}
	if err != nil {
		return txPlan{}, fmt.Errorf("packing v2 swap: %w", err)
	}

	return txPlan{to: e.v2Router, data: data, value: value, gasLimit: e.gasSwap}, nil
}

func (e *Executor) v3Plan(op *Operation, route *routing.Route, deadline *big.Int) (txPlan, error) {
	if !route.Direct() {
		return txPlan{}, fmt.Errorf("concentrated route must be single hop, got %d", len(route.Hops))
	}
	hop := route.Hops[0]

	// Native output is custodied by the router and unwrapped to the
	// account in the same transaction.
	recipient := op.SourceAccount
	if op.TokenOut == token.NativeAddress {
		recipient = e.v3Router
	}

	params := exactInputSingleParams{
		TokenIn:  hop.TokenIn,
		TokenOut: hop.TokenOut,
		// The V3 fee unit is hundredths of a bip.
		Fee:               big.NewInt(hop.Venue.FeeBps.Int64() * 100),
		Recipient:         recipient,
		Deadline:          deadline,
		AmountIn:          op.AmountIn,
		AmountOutMinimum:  route.MinAmountOut,
		SqrtPriceLimitX96: big.NewInt(0),
	}
	data, err := v3RouterABI.Pack("exactInputSingle", params)
	if err != nil {
		return txPlan{}, fmt.Errorf("packing exactInputSingle: %w", err)
	}

	if op.TokenOut == token.NativeAddress {
		unwrap, err := v3RouterABI.Pack("unwrapWETH9", route.MinAmountOut, op.SourceAccount)
		if err != nil {
			return txPlan{}, fmt.Errorf("packing unwrapWETH9: %w", err)
		}
		data, err = v3RouterABI.Pack("multicall", [][]byte{data, unwrap})
		if err != nil {
			return txPlan{}, fmt.Errorf("packing multicall: %w", err)
		}
	}

	value := big.NewInt(0)
	if op.TokenIn == token.NativeAddress {
		// The router wraps attached value when tokenIn is WBNB.
		value = op.AmountIn
	}

	return txPlan{to: e.v3Router, data: data, value: value, gasLimit: e.gasSwap}, nil
}
