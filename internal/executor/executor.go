// Package executor drives one trade operation through its lifecycle: resolve
// a route, approve the router when the allowance falls short, submit the swap
// and wait for on-chain confirmation. Every state transition is reported to
// the transition sink and counted in metrics.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Web3ok/bsc-sub000/internal/events"
	"github.com/Web3ok/bsc-sub000/internal/money"
	"github.com/Web3ok/bsc-sub000/internal/nonce"
	"github.com/Web3ok/bsc-sub000/internal/platform/config"
	"github.com/Web3ok/bsc-sub000/internal/platform/observability"
	"github.com/Web3ok/bsc-sub000/internal/platform/resilience"
	"github.com/Web3ok/bsc-sub000/internal/routing"
	"github.com/Web3ok/bsc-sub000/internal/token"
	"github.com/Web3ok/bsc-sub000/internal/wallet"
)

var (
	// ErrReverted marks an on-chain revert. Never retried automatically:
	// the slippage or liquidity conditions that caused it may still hold.
	ErrReverted = errors.New("executor: transaction reverted on-chain")

	// ErrConfirmTimeout marks a confirmation wait that ran out with the
	// transaction still outstanding. The transaction may confirm later;
	// reconciliation is out-of-band.
	ErrConfirmTimeout = errors.New("executor: confirmation timed out")
)

// ChainClient is the chain access the executor needs.
type ChainClient interface {
	Allowance(ctx context.Context, tokenAddr, owner, spender common.Address) (*big.Int, error)
	BalanceOf(ctx context.Context, tokenAddr, account common.Address) (*big.Int, error)
	SuggestedGasPrice(ctx context.Context) (*big.Int, error)
	Broadcast(ctx context.Context, tx *types.Transaction) error
	WaitReceipt(ctx context.Context, txHash common.Hash, pollInterval time.Duration) (*types.Receipt, error)
}

// RouteResolver resolves a trade route from live pool state.
type RouteResolver interface {
	ResolveRoute(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, maxSlippageBps money.BPS) (*routing.Route, error)
}

// NonceSource leases per-account transaction sequence numbers.
type NonceSource interface {
	Lease(ctx context.Context, account common.Address) (*nonce.Lease, error)
	Release(lease *nonce.Lease, outcome nonce.Outcome) error
}

// TransitionSink receives one event per operation state transition.
type TransitionSink interface {
	Dispatch(event events.TransitionEvent)
}

// Executor runs single operations end to end. Safe for concurrent use; the
// nonce source serializes per-account submission order.
type Executor struct {
	chain    ChainClient
	resolver RouteResolver
	nonces   NonceSource
	signers  wallet.Registry
	sink     TransitionSink
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   observability.Tracer

	v2Router common.Address
	v3Router common.Address

	deadlineWindow time.Duration
	confirmPoll    time.Duration
	confirmTimeout time.Duration
	retry          resilience.RetryConfig
	gasSwap        uint64
	gasApprove     uint64
}

// Config holds executor dependencies and settings.
type Config struct {
	Chain    ChainClient
	Resolver RouteResolver
	Nonces   NonceSource
	Signers  wallet.Registry
	Sink     TransitionSink
	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Tracer   observability.Tracer

	V2Router common.Address
	V3Router common.Address

	Settings config.ExecutorConfig
}

// NewExecutor creates an operation executor.
func NewExecutor(cfg Config) (*Executor, error) {
	if cfg.Chain == nil {
		return nil, fmt.Errorf("executor: chain client is required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("executor: route resolver is required")
	}
	if cfg.Nonces == nil {
		return nil, fmt.Errorf("executor: nonce source is required")
	}
	if cfg.Signers == nil {
		return nil, fmt.Errorf("executor: signer registry is required")
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}

	s := cfg.Settings
	if s.DeadlineWindow <= 0 {
		s.DeadlineWindow = 5 * time.Minute
	}
	if s.ConfirmPollInterval <= 0 {
		s.ConfirmPollInterval = 3 * time.Second
	}
	// The client-side wait must outlast the on-chain deadline so a timeout
	// is unambiguous: past it, the router itself rejects execution.
	if s.ConfirmTimeout < s.DeadlineWindow {
		s.ConfirmTimeout = s.DeadlineWindow + time.Minute
	}
	if s.GasLimitSwap == 0 {
		s.GasLimitSwap = 350000
	}
	if s.GasLimitApprove == 0 {
		s.GasLimitApprove = 60000
	}

	retry := resilience.DefaultRetryConfig()
	if s.RetryAttempts > 0 {
		retry.MaxAttempts = s.RetryAttempts
	}
	if s.RetryBaseDelay > 0 {
		retry.BaseDelay = s.RetryBaseDelay
	}

	return &Executor{
		chain:          cfg.Chain,
		resolver:       cfg.Resolver,
		nonces:         cfg.Nonces,
		signers:        cfg.Signers,
		sink:           cfg.Sink,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		tracer:         cfg.Tracer,
		v2Router:       cfg.V2Router,
		v3Router:       cfg.V3Router,
		deadlineWindow: s.DeadlineWindow,
		confirmPoll:    s.ConfirmPollInterval,
		confirmTimeout: s.ConfirmTimeout,
		retry:          retry,
		gasSwap:        s.GasLimitSwap,
		gasApprove:     s.GasLimitApprove,
	}, nil
}

// progress tracks one operation's position in the state machine while the
// executor drives it. The Operation itself stays immutable.
type progress struct {
	op    *Operation
	state State
	start time.Time
}

// Run drives op through its full lifecycle and always returns a terminal
// result. Routing failures, execution failures and cancellation all land in
// Result.State, with Result.Err explaining the cause.
func (e *Executor) Run(ctx context.Context, op *Operation) *Result {
	ctx, span := e.tracer.StartSpan(ctx, "executor.run", observability.WithAttributes(
		attribute.String("operation_id", op.ID),
		attribute.String("batch_id", op.BatchID),
	))
	defer span.End()

	p := &progress{op: op, state: StatePending, start: time.Now()}
	res := &Result{OperationID: op.ID}

	e.advance(ctx, p, StateRouting, "")
	route, err := e.resolver.ResolveRoute(ctx, op.TokenIn, op.TokenOut, op.AmountIn, op.MaxSlippageBps)
	if err != nil {
		span.NoticeError(err)
		return e.fail(ctx, p, res, fmt.Errorf("resolving route: %w", err))
	}
	span.SetAttributes(attribute.String("route", route.Summary()))

	res = e.execute(ctx, p, route)
	if res.Err != nil {
		span.NoticeError(res.Err)
	}
	return res
}

// Execute drives an operation that already has a resolved route, entering
// the state machine past the routing phase. Callers that want route
// resolution included use Run.
func (e *Executor) Execute(ctx context.Context, op *Operation, route *routing.Route) (*Result, error) {
	if op == nil || op.AmountIn == nil || op.AmountIn.Sign() <= 0 {
		return nil, fmt.Errorf("executor: operation has no positive input amount")
	}
	if route == nil || len(route.Hops) == 0 {
		return nil, fmt.Errorf("executor: route has no hops")
	}

	p := &progress{op: op, state: StatePending, start: time.Now()}
	return e.execute(ctx, p, route), nil
}

func (e *Executor) execute(ctx context.Context, p *progress, route *routing.Route) *Result {
	op := p.op
	res := &Result{OperationID: op.ID, Route: route}

	signer, err := e.signers.Signer(op.SourceAccount)
	if err != nil {
		return e.fail(ctx, p, res, fmt.Errorf("looking up signer: %w", err))
	}

	if op.TokenIn != token.NativeAddress {
		// Fail before touching a nonce: a short balance reverts on-chain
		// anyway, so catch it while it is still free.
		balance, err := resilience.RetryIfWithResult(ctx, e.retry, resilience.IsRetryable,
			func(ctx context.Context) (*big.Int, error) {
				return e.chain.BalanceOf(ctx, op.TokenIn, op.SourceAccount)
			})
		if err != nil {
			return e.fail(ctx, p, res, fmt.Errorf("reading balance: %w", err))
		}
		if balance.Cmp(op.AmountIn) < 0 {
			return e.fail(ctx, p, res, fmt.Errorf("balance %s short of %s", balance, op.AmountIn))
		}

		router := e.routerFor(route)
		allowance, err := resilience.RetryIfWithResult(ctx, e.retry, resilience.IsRetryable,
			func(ctx context.Context) (*big.Int, error) {
				return e.chain.Allowance(ctx, op.TokenIn, op.SourceAccount, router)
			})
		if err != nil {
			return e.fail(ctx, p, res, fmt.Errorf("reading allowance: %w", err))
		}

		if allowance.Cmp(op.AmountIn) < 0 {
			e.advance(ctx, p, StateApproving, fmt.Sprintf("allowance %s short of %s", allowance, op.AmountIn))

			plan, err := e.approvePlan(router, op)
			if err != nil {
				return e.fail(ctx, p, res, err)
			}
			lease, hash, err := e.broadcastTx(ctx, signer, plan)
			if err != nil {
				return e.fail(ctx, p, res, fmt.Errorf("approving router: %w", err))
			}
			res.ApproveTxHash = hash

			receipt, err := e.confirmTx(ctx, lease, hash)
			if err != nil {
				return e.timedOut(ctx, p, res, "approval "+hash.Hex(), err)
			}
			if receipt.Status == types.ReceiptStatusFailed {
				return e.fail(ctx, p, res, fmt.Errorf("approval %s: %w", hash.Hex(), ErrReverted))
			}
			if e.logger != nil {
				e.logger.LogDebug(ctx, "router approved",
					"operation_id", op.ID,
					"token", op.TokenIn.Hex(),
					"spender", router.Hex(),
					"tx_hash", hash.Hex(),
				)
			}
		}
	}

	// The window opens when the swap is built, not when the operation
	// started, so a slow approval does not eat into it.
	deadline := op.Deadline
	if deadline.IsZero() {
		deadline = time.Now().Add(e.deadlineWindow)
	}
	plan, err := e.swapPlan(op, route, big.NewInt(deadline.Unix()))
	if err != nil {
		return e.fail(ctx, p, res, err)
	}

	e.advance(ctx, p, StateSubmitting, "")
	lease, hash, err := e.broadcastTx(ctx, signer, plan)
	if err != nil {
		return e.fail(ctx, p, res, fmt.Errorf("submitting swap: %w", err))
	}
	res.TxHash = hash

	e.advance(ctx, p, StateAwaitingConfirmation, "tx "+hash.Hex())
	receipt, err := e.confirmTx(ctx, lease, hash)
	if err != nil {
		return e.timedOut(ctx, p, res, "tx "+hash.Hex(), err)
	}

	res.GasUsed = receipt.GasUsed
	if receipt.Status == types.ReceiptStatusFailed {
		e.advance(ctx, p, StateReverted, "tx "+hash.Hex())
		res.State = StateReverted
		res.Err = ErrReverted
		if e.logger != nil {
			e.logger.LogWarn(ctx, "swap reverted",
				"operation_id", op.ID,
				"tx_hash", hash.Hex(),
				"route", route.Summary(),
			)
		}
		return res
	}

	res.AmountOut = route.AmountOut
	if out := amountOutFromReceipt(receipt, op.TokenOut, op.SourceAccount); out != nil {
		res.AmountOut = out
	}

	e.advance(ctx, p, StateConfirmed, "tx "+hash.Hex())
	res.State = StateConfirmed
	if e.logger != nil {
		e.logger.LogInfo(ctx, "operation confirmed",
			"operation_id", op.ID,
			"tx_hash", hash.Hex(),
			"route", route.Summary(),
			"amount_out", res.AmountOut.String(),
			"quote_deviation_bps", money.RatioBPS(res.AmountOut, route.AmountOut).Int64(),
			"gas_used", receipt.GasUsed,
		)
	}
	return res
}

// broadcastTx leases a nonce, signs and broadcasts the plan. A failed attempt
// abandons its lease; transient failures retry with a fresh lease, so a
// reclaimed sequence number is naturally reused.
func (e *Executor) broadcastTx(ctx context.Context, signer wallet.TxSigner, plan txPlan) (*nonce.Lease, common.Hash, error) {
	type submission struct {
		lease *nonce.Lease
		hash  common.Hash
	}

	sub, err := resilience.RetryIfWithResult(ctx, e.retry, resilience.IsRetryable,
		func(ctx context.Context) (submission, error) {
			lease, err := e.nonces.Lease(ctx, signer.Address())
			if err != nil {
				return submission{}, fmt.Errorf("leasing nonce: %w", err)
			}

			gasPrice, err := e.chain.SuggestedGasPrice(ctx)
			if err != nil {
				e.release(lease, nonce.Abandoned)
				return submission{}, fmt.Errorf("fetching gas price: %w", err)
			}

			unsigned := types.NewTx(&types.LegacyTx{
				Nonce:    lease.Sequence,
				To:       &plan.to,
				Value:    plan.value,
				Gas:      plan.gasLimit,
				GasPrice: gasPrice,
				Data:     plan.data,
			})
			signed, err := signer.Sign(ctx, unsigned)
			if err != nil {
				e.release(lease, nonce.Abandoned)
				return submission{}, fmt.Errorf("signing: %w", err)
			}

			if err := e.chain.Broadcast(ctx, signed); err != nil {
				e.release(lease, nonce.Abandoned)
				return submission{}, fmt.Errorf("broadcasting: %w", err)
			}
			return submission{lease: lease, hash: signed.Hash()}, nil
		})
	if err != nil {
		return nil, common.Hash{}, err
	}
	return sub.lease, sub.hash, nil
}

// confirmTx waits for the receipt and settles the lease. The lease is always
// Consumed: the transaction reached the network, so its sequence number must
// never be reused.
func (e *Executor) confirmTx(ctx context.Context, lease *nonce.Lease, hash common.Hash) (*types.Receipt, error) {
	wctx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()

	start := time.Now()
	receipt, err := e.chain.WaitReceipt(wctx, hash, e.confirmPoll)
	e.release(lease, nonce.Consumed)
	if e.metrics != nil {
		e.metrics.RecordConfirmationWait(ctx, time.Since(start), err == nil)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: tx %s: %v", ErrConfirmTimeout, hash.Hex(), err)
	}
	return receipt, nil
}

// advance moves the operation to the next state, reporting the transition to
// metrics and the event sink.
func (e *Executor) advance(ctx context.Context, p *progress, to State, detail string) {
	from := p.state
	p.state = to

	if e.metrics != nil {
		e.metrics.RecordOperationTransition(ctx, from.String(), to.String())
		if to.Terminal() {
			e.metrics.RecordOperationDone(ctx, to.String(), time.Since(p.start))
		}
	}
	if e.sink != nil {
		e.sink.Dispatch(events.TransitionEvent{
			OperationID: p.op.ID,
			BatchID:     p.op.BatchID,
			FromState:   from.String(),
			ToState:     to.String(),
			Timestamp:   time.Now().UTC(),
			Detail:      detail,
		})
	}
	if e.logger != nil {
		e.logger.LogDebug(ctx, "operation transition",
			"operation_id", p.op.ID,
			"from", from.String(),
			"to", to.String(),
		)
	}
}

// fail lands the operation in its failure terminal: Cancelled when the
// context was cancelled, Failed otherwise.
func (e *Executor) fail(ctx context.Context, p *progress, res *Result, err error) *Result {
	to := StateFailed
	if errors.Is(err, context.Canceled) {
		to = StateCancelled
	}
	e.advance(ctx, p, to, err.Error())
	res.State = to
	res.Err = err
	if to == StateFailed {
		if e.metrics != nil {
			e.metrics.RecordError(ctx, "operation")
		}
		if e.logger != nil {
			e.logger.LogError(ctx, "operation failed", err, "operation_id", p.op.ID)
		}
	}
	return res
}

// timedOut lands the operation in TimedOut with its transaction left
// outstanding for out-of-band reconciliation.
func (e *Executor) timedOut(ctx context.Context, p *progress, res *Result, detail string, err error) *Result {
	e.advance(ctx, p, StateTimedOut, detail)
	res.State = StateTimedOut
	res.Err = err
	if e.logger != nil {
		e.logger.LogWarn(ctx, "confirmation timed out, transaction left outstanding",
			"operation_id", p.op.ID,
			"detail", detail,
		)
	}
	return res
}

// release settles a lease, logging instead of failing: a release error must
// never mask the submission error that triggered it.
func (e *Executor) release(lease *nonce.Lease, outcome nonce.Outcome) {
	if err := e.nonces.Release(lease, outcome); err != nil && e.logger != nil {
		e.logger.Warn("nonce release failed",
			"account", lease.Account.Hex(),
			"sequence", lease.Sequence,
			"outcome", outcome.String(),
			"error", err,
		)
	}
}

// routerFor picks the router contract for the route's venue generation.
func (e *Executor) routerFor(route *routing.Route) common.Address {
	if route.Hops[0].Venue.Kind == routing.ConcentratedLiquidity {
		return e.v3Router
	}
	return e.v2Router
}

// transferTopic is the ERC-20 Transfer event signature hash.
var transferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// amountOutFromReceipt scans the receipt's transfer logs for the final
// delivery of tokenOut to the recipient. Returns nil when no such log exists;
// native output arrives through a WBNB withdrawal, not a transfer.
func amountOutFromReceipt(receipt *types.Receipt, tokenOut, recipient common.Address) *big.Int {
	var out *big.Int
	for _, lg := range receipt.Logs {
		if lg.Address != tokenOut || len(lg.Topics) != 3 || lg.Topics[0] != transferTopic {
			continue
		}
		if common.BytesToAddress(lg.Topics[2].Bytes()) != recipient {
			continue
		}
		if len(lg.Data) != 32 {
			continue
		}
		// Multi-hop receipts carry one transfer per hop; the last one to
		// the recipient is the delivery.
		out = new(big.Int).SetBytes(lg.Data)
	}
	return out
}
