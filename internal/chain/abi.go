package chain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Minified fragments of the contract surfaces the engine reads. Only the
// functions actually called are declared; go-ethereum resolves calls by
// name and type, so the rest of each contract's interface stays out of the
// binary.
const (
	// V2 pair, reserve reads.
	pairABIJSON = `[{"name":"getReserves","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]}]`

	// V3 pool, current price and in-range liquidity. Tick walking is not
	// needed for single-range quotes.
	poolABIJSON = `[
{"name":"slot0","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"sqrtPriceX96","type":"uint160"},{"name":"tick","type":"int24"},{"name":"observationIndex","type":"uint16"},{"name":"observationCardinality","type":"uint16"},{"name":"observationCardinalityNext","type":"uint16"},{"name":"feeProtocol","type":"uint32"},{"name":"unlocked","type":"bool"}]},
{"name":"liquidity","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint128"}]}]`

	// ERC-20 metadata, allowance and balance reads.
	erc20ABIJSON = `[
{"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}]`
)

var (
	pairABI  = mustParseABI(pairABIJSON)
	poolABI  = mustParseABI(poolABIJSON)
	erc20ABI = mustParseABI(erc20ABIJSON)
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("chain: invalid static ABI: %v", err))
	}
	return parsed
}
