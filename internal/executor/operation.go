package executor

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Web3ok/bsc-sub000/internal/money"
	"github.com/Web3ok/bsc-sub000/internal/routing"
)

// Operation is the unit of work submitted to the engine: one trade from one
// source account. Immutable after submission.
type Operation struct {
	ID            string
	BatchID       string
	SourceAccount common.Address

	// TokenIn and TokenOut identify the trade pair. token.NativeAddress
	// marks native BNB on either side.
	TokenIn  common.Address
	TokenOut common.Address

	// AmountIn is the exact input in the token's smallest unit.
	AmountIn *big.Int

	MaxSlippageBps money.BPS

	// Deadline optionally fixes the on-chain swap deadline. Zero means the
	// configured window from the moment execution starts.
	Deadline time.Time
}

// Result is the terminal outcome of one operation.
type Result struct {
	OperationID string
	State       State
	Route       *routing.Route

	// TxHash is the swap transaction, zero until one was broadcast.
	TxHash common.Hash

	// ApproveTxHash is set when an approval transaction ran first.
	ApproveTxHash common.Hash

	// AmountOut is the realized output decoded from the receipt's transfer
	// logs, falling back to the quoted amount. Set only on Confirmed.
	AmountOut *big.Int

	GasUsed uint64

	// Err explains any non-Confirmed terminal state.
	Err error
}
