// Package batch orchestrates trade operations over a bounded worker pool and
// aggregates their terminal states into a batch-level report. A batch is
// never independently "failed": its terminal state derives from the terminal
// states of its operations.
package batch

import (
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Web3ok/bsc-sub000/internal/executor"
)

// State is a batch's lifecycle position.
type State int

const (
	StateCreated State = iota
	StateRunning
	StateCompleted
	StatePartiallyFailed
	StateCancelled
)

// String returns the wire name of the batch state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StatePartiallyFailed:
		return "partially_failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the batch lifecycle.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StatePartiallyFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Config holds per-batch orchestration settings. Zero fields take the
// engine's configured defaults before validation.
type Config struct {
	// MaxConcurrency bounds simultaneously in-flight operations; hard
	// validated to [1, 10].
	MaxConcurrency int

	// InterOpDelay is the minimum spacing between consecutive operation
	// executions on the same worker slot.
	InterOpDelay time.Duration

	// PerOpTimeout bounds one operation end to end. Zero disables it.
	PerOpTimeout time.Duration
}

// opStatus tracks one operation's progress inside a batch.
type opStatus struct {
	op     *executor.Operation
	state  executor.State
	result *executor.Result
}

// Handle tracks one running batch. Status gives a non-blocking snapshot,
// Done closes once every operation reached a terminal state.
type Handle struct {
	id      string
	cfg     Config
	started time.Time

	mu        sync.RWMutex
	state     State
	ops       []*opStatus
	cancelled bool
	finished  time.Time

	done chan struct{}
}

func newHandle(id string, ops []*executor.Operation, cfg Config) *Handle {
	statuses := make([]*opStatus, len(ops))
	for i, op := range ops {
		statuses[i] = &opStatus{op: op, state: executor.StatePending}
	}
	return &Handle{
		id:      id,
		cfg:     cfg,
		started: time.Now(),
		state:   StateRunning,
		ops:     statuses,
		done:    make(chan struct{}),
	}
}

// ID returns the batch identifier.
func (h *Handle) ID() string { return h.id }

// Done closes once the batch reached its terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel requests cooperative cancellation: operations that have not started
// yet are cancelled directly, operations already running reach their natural
// terminal state. Reports false when the batch is already terminal.
func (h *Handle) Cancel() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != StateRunning {
		return false
	}
	h.cancelled = true
	return true
}

// markStarted flips an operation to in-flight unless the batch was cancelled
// first, reporting whether the operation should run. Check and flip share
// one critical section so a cancel can never slip between them.
func (h *Handle) markStarted(st *opStatus) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return false
	}
	st.state = executor.StateRouting
	return true
}

// markDone records an operation's terminal result. A state that is already
// terminal is kept: a shutdown sweep may have cancelled the slot first.
func (h *Handle) markDone(st *opStatus, res *executor.Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if st.state.Terminal() {
		return
	}
	st.state = res.State
	st.result = res
}

// markCancelled moves a never-started operation straight to Cancelled.
func (h *Handle) markCancelled(st *opStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !st.state.Terminal() {
		st.state = executor.StateCancelled
	}
}

// sweptOp pairs an operation swept to Cancelled at finalize with the state
// the sweep caught it in. A Pending sweep never ran; anything later was in
// flight when the batch context died, so its transaction may be outstanding.
type sweptOp struct {
	st   *opStatus
	from executor.State
}

// finalize sweeps any operation still non-terminal to Cancelled, derives the
// batch terminal state and closes done. Returns the swept operations so the
// caller can report their transitions.
func (h *Handle) finalize() (State, []sweptOp) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var swept []sweptOp
	allConfirmed := true
	for _, st := range h.ops {
		if !st.state.Terminal() {
			swept = append(swept, sweptOp{st: st, from: st.state})
			st.state = executor.StateCancelled
		}
		if st.state != executor.StateConfirmed {
			allConfirmed = false
		}
	}

	switch {
	case h.cancelled:
		h.state = StateCancelled
	case allConfirmed:
		h.state = StateCompleted
	default:
		h.state = StatePartiallyFailed
	}
	h.finished = time.Now()
	close(h.done)

	return h.state, swept
}

// OperationStatus is one operation's entry in a batch report.
type OperationStatus struct {
	OperationID   string
	State         executor.State
	TxHash        common.Hash
	ApproveTxHash common.Hash
	AmountOut     *big.Int
	GasUsed       uint64
	Error         string
}

// Report is a point-in-time snapshot of batch progress.
type Report struct {
	BatchID string
	State   State

	Pending   int
	InFlight  int
	Succeeded int
	Failed    int
	Cancelled int

	Operations []OperationStatus

	Started  time.Time
	Finished time.Time
}

// Status returns a snapshot of the batch without blocking its workers.
func (h *Handle) Status() Report {
	h.mu.RLock()
	defer h.mu.RUnlock()

	r := Report{
		BatchID:    h.id,
		State:      h.state,
		Operations: make([]OperationStatus, len(h.ops)),
		Started:    h.started,
		Finished:   h.finished,
	}

	for i, st := range h.ops {
		os := OperationStatus{OperationID: st.op.ID, State: st.state}
		if st.result != nil {
			os.TxHash = st.result.TxHash
			os.ApproveTxHash = st.result.ApproveTxHash
			os.AmountOut = st.result.AmountOut
			os.GasUsed = st.result.GasUsed
			if st.result.Err != nil {
				os.Error = st.result.Err.Error()
			}
		}
		r.Operations[i] = os

		switch {
		case st.state == executor.StatePending:
			r.Pending++
		case st.state == executor.StateConfirmed:
			r.Succeeded++
		case st.state == executor.StateCancelled:
			r.Cancelled++
		case st.state.Terminal():
			r.Failed++
		default:
			r.InFlight++
		}
	}
	return r
}
