package token

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// registrySeed lists well-known BSC mainnet tokens. The resolver serves these
// without an RPC round trip; everything else is resolved on-chain and cached.
// DOGE is the reminder that 18 decimals is a convention, not a rule.
var registrySeed = []Token{
	{
		Address:  common.HexToAddress("0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c"),
		Symbol:   "WBNB",
		Decimals: 18,
	},
	{
		Address:  common.HexToAddress("0xe9e7CEA3DedcA5984780Bafc599bD69ADd087D56"),
		Symbol:   "BUSD",
		Decimals: 18,
	},
	{
		Address:  common.HexToAddress("0x55d398326f99059fF775485246999027B3197955"),
		Symbol:   "USDT",
		Decimals: 18,
	},
	{
		Address:  common.HexToAddress("0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d"),
		Symbol:   "USDC",
		Decimals: 18,
	},
	{
		Address:  common.HexToAddress("0x7130d2A12B9BCbFAe4f2634d864A1Ee1Ce3Ead9c"),
		Symbol:   "BTCB",
		Decimals: 18,
	},
	{
		Address:  common.HexToAddress("0x2170Ed0880ac9A755fd29B2688956BD959F933F8"),
		Symbol:   "ETH",
		Decimals: 18,
	},
	{
		Address:  common.HexToAddress("0x0E09FaBB73Bd3Ade0a17ECC321fD13a19e81cE82"),
		Symbol:   "CAKE",
		Decimals: 18,
	},
	{
		Address:  common.HexToAddress("0xbA2aE424d960c26247Dd6c32edC70B295c744C43"),
		Symbol:   "DOGE",
		Decimals: 8,
	},
}

// Registry is a static, read-only lookup of well-known tokens by address.
type Registry struct {
	byAddress map[common.Address]Token
	bySymbol  map[string]Token
}

// NewRegistry builds the default BSC registry.
func NewRegistry() *Registry {
	r := &Registry{
		byAddress: make(map[common.Address]Token, len(registrySeed)),
		bySymbol:  make(map[string]Token, len(registrySeed)),
	}
	for _, t := range registrySeed {
		r.byAddress[t.Address] = t
		r.bySymbol[strings.ToUpper(t.Symbol)] = t
	}
	return r
}

// ByAddress looks up a token by address.
func (r *Registry) ByAddress(addr common.Address) (Token, bool) {
	t, ok := r.byAddress[addr]
	return t, ok
}

// BySymbol looks up a token by symbol, case-insensitive.
func (r *Registry) BySymbol(symbol string) (Token, bool) {
	t, ok := r.bySymbol[strings.ToUpper(symbol)]
	return t, ok
}

// Tokens returns all registered tokens.
func (r *Registry) Tokens() []Token {
	out := make([]Token, 0, len(r.byAddress))
	for _, t := range r.byAddress {
		out = append(out, t)
	}
	return out
}
