// Package token resolves and caches ERC-20 token metadata. Decimals are
// never assumed: every amount in the engine is carried in the token's native
// smallest unit and converted to human-readable form only at boundaries
// (events, logs) using the resolved decimals.
package token

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Token holds the immutable metadata of a deployed token. Once resolved it
// never changes, so it is cached indefinitely by address.
type Token struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals int            `json:"decimals"`
}

// NativeAddress is the sentinel address for the chain's native coin (BNB).
// Operations selling the native coin use it as TokenIn; the executor wraps
// routing through WBNB pairs and attaches value to the transaction instead of
// requiring an approval.
var NativeAddress = common.Address{}

// Native returns the native coin pseudo-token.
func Native() Token {
	return Token{Address: NativeAddress, Symbol: "BNB", Decimals: 18}
}

// IsNative reports whether t is the native coin pseudo-token.
func (t Token) IsNative() bool {
	return t.Address == NativeAddress
}

// Pow10 returns 10^decimals as *big.Int.
func Pow10(decimals int) *big.Int {
	if decimals < 0 {
		decimals = 0
	}
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// ToHuman converts a raw smallest-unit amount into a human-readable float
// using the given decimals. Boundary use only; the engine's arithmetic stays
// on raw *big.Int.
func ToHuman(raw *big.Int, decimals int) *big.Float {
	if raw == nil {
		return big.NewFloat(0)
	}
	val := new(big.Float).SetInt(raw)
	scale := new(big.Float).SetInt(Pow10(decimals))
	return new(big.Float).Quo(val, scale)
}

// FromHuman converts a human-readable float into a raw smallest-unit amount,
// truncating any sub-unit remainder.
func FromHuman(val *big.Float, decimals int) *big.Int {
	if val == nil {
		return big.NewInt(0)
	}
	scaled := new(big.Float).Mul(val, new(big.Float).SetInt(Pow10(decimals)))
	raw := new(big.Int)
	scaled.Int(raw)
	return raw
}

// FormatAmount renders a raw amount as a decimal string for logs and events.
func FormatAmount(raw *big.Int, decimals int) string {
	return ToHuman(raw, decimals).Text('f', min(decimals, 8))
}
