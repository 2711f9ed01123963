package batch

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Web3ok/bsc-sub000/internal/events"
	"github.com/Web3ok/bsc-sub000/internal/executor"
	"github.com/Web3ok/bsc-sub000/internal/money"
)

// fakeRunner drives operations to a terminal state without touching a chain.
// When gate is set, Run blocks until the gate closes or the context dies;
// started receives the operation id before blocking.
type fakeRunner struct {
	mu        sync.Mutex
	runs      int
	started   chan string
	gate      chan struct{}
	ignoreCtx bool // hold the gate through context death, like a broadcast past the point of no return
	revertIDs map[string]bool
}

func (r *fakeRunner) Run(ctx context.Context, op *executor.Operation) *executor.Result {
	r.mu.Lock()
	r.runs++
	r.mu.Unlock()

	if r.started != nil {
		r.started <- op.ID
	}
	if r.gate != nil {
		if r.ignoreCtx {
			<-r.gate
		} else {
			select {
			case <-r.gate:
			case <-ctx.Done():
				return &executor.Result{OperationID: op.ID, State: executor.StateCancelled, Err: ctx.Err()}
			}
		}
	}

	if r.revertIDs[op.ID] {
		return &executor.Result{OperationID: op.ID, State: executor.StateReverted, Err: executor.ErrReverted}
	}
	return &executor.Result{
		OperationID: op.ID,
		State:       executor.StateConfirmed,
		TxHash:      common.HexToHash("0xfeed"),
		AmountOut:   big.NewInt(995_000),
		GasUsed:     87_654,
	}
}

func (r *fakeRunner) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

type recordSink struct {
	mu     sync.Mutex
	events []events.TransitionEvent
}

func (s *recordSink) Dispatch(ev events.TransitionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordSink) withToState(to string) []events.TransitionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.TransitionEvent
	for _, ev := range s.events {
		if ev.ToState == to {
			out = append(out, ev)
		}
	}
	return out
}

func makeOps(n int) []*executor.Operation {
	ops := make([]*executor.Operation, n)
	for i := range ops {
		ops[i] = &executor.Operation{
			ID:             fmt.Sprintf("op-%d", i+1),
			BatchID:        "batch-1",
			SourceAccount:  common.HexToAddress("0x1111111111111111111111111111111111111111"),
			TokenIn:        common.HexToAddress("0x2222222222222222222222222222222222222222"),
			TokenOut:       common.HexToAddress("0x3333333333333333333333333333333333333333"),
			AmountIn:       big.NewInt(1_000_000),
			MaxSlippageBps: money.BPS(50),
		}
	}
	return ops
}

func newTestOrchestrator(t *testing.T, runner OperationRunner, sink executor.TransitionSink) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(OrchestratorConfig{Runner: runner, Sink: sink})
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}
	return o
}

func waitDone(t *testing.T, h *Handle, timeout time.Duration) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(timeout):
		t.Fatalf("batch %s did not finish within %v", h.ID(), timeout)
	}
}

func TestOrchestrator_CompletesBatch(t *testing.T) {
	runner := &fakeRunner{}
	o := newTestOrchestrator(t, runner, nil)

	ops := makeOps(4)
	h := o.Run(context.Background(), "batch-1", ops, Config{MaxConcurrency: 2})
	waitDone(t, h, 5*time.Second)

	report := h.Status()
	if report.State != StateCompleted {
		t.Errorf("Expected state %s, got %s", StateCompleted, report.State)
	}
	if report.Succeeded != 4 || report.Failed != 0 || report.Cancelled != 0 {
		t.Errorf("Expected 4 succeeded, got %d succeeded / %d failed / %d cancelled",
			report.Succeeded, report.Failed, report.Cancelled)
	}
	if runner.runCount() != 4 {
		t.Errorf("Expected 4 runner invocations, got %d", runner.runCount())
	}
	if report.Finished.IsZero() {
		t.Error("Expected finished timestamp to be set")
	}

	for _, os := range report.Operations {
		if os.State != executor.StateConfirmed {
			t.Errorf("Operation %s: expected confirmed, got %s", os.OperationID, os.State)
		}
		if os.AmountOut == nil || os.AmountOut.Int64() != 995_000 {
			t.Errorf("Operation %s: expected amount out 995000, got %v", os.OperationID, os.AmountOut)
		}
	}
}

func TestOrchestrator_PartialFailure(t *testing.T) {
	runner := &fakeRunner{revertIDs: map[string]bool{"op-5": true}}
	o := newTestOrchestrator(t, runner, nil)

	ops := makeOps(10)
	h := o.Run(context.Background(), "batch-1", ops, Config{MaxConcurrency: 3})
	waitDone(t, h, 5*time.Second)

	report := h.Status()
	if report.State != StatePartiallyFailed {
		t.Errorf("Expected state %s, got %s", StatePartiallyFailed, report.State)
	}
	if report.Succeeded != 9 {
		t.Errorf("Expected 9 succeeded, got %d", report.Succeeded)
	}
	if report.Failed != 1 {
		t.Errorf("Expected 1 failed, got %d", report.Failed)
	}

	for _, os := range report.Operations {
		if os.OperationID != "op-5" {
			continue
		}
		if os.State != executor.StateReverted {
			t.Errorf("Expected op-5 reverted, got %s", os.State)
		}
		if os.Error == "" {
			t.Error("Expected op-5 to carry an error")
		}
	}
}

func TestOrchestrator_CancelGatesNewStarts(t *testing.T) {
	runner := &fakeRunner{
		started: make(chan string, 10),
		gate:    make(chan struct{}),
	}
	sink := &recordSink{}
	o := newTestOrchestrator(t, runner, sink)

	ops := makeOps(10)
	h := o.Run(context.Background(), "batch-1", ops, Config{MaxConcurrency: 3})

	// Three operations occupy the three slots and block on the gate.
	for i := 0; i < 3; i++ {
		select {
		case <-runner.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("Expected 3 operations to start, saw %d", i)
		}
	}

	if !h.Cancel() {
		t.Fatal("Expected Cancel to succeed on a running batch")
	}
	close(runner.gate)
	waitDone(t, h, 5*time.Second)

	report := h.Status()
	if report.State != StateCancelled {
		t.Errorf("Expected state %s, got %s", StateCancelled, report.State)
	}
	if report.Succeeded != 3 {
		t.Errorf("Expected the 3 in-flight operations to confirm, got %d", report.Succeeded)
	}
	if report.Cancelled != 7 {
		t.Errorf("Expected 7 cancelled operations, got %d", report.Cancelled)
	}
	if runner.runCount() != 3 {
		t.Errorf("Expected runner to see only the 3 started operations, got %d", runner.runCount())
	}

	cancelledEvents := sink.withToState("cancelled")
	if len(cancelledEvents) != 7 {
		t.Fatalf("Expected 7 cancellation events, got %d", len(cancelledEvents))
	}
	for _, ev := range cancelledEvents {
		if ev.FromState != "pending" {
			t.Errorf("Expected cancellation from pending, got %s", ev.FromState)
		}
		if ev.Detail != "batch cancelled" {
			t.Errorf("Expected detail 'batch cancelled', got %q", ev.Detail)
		}
	}
}

func TestOrchestrator_StatusWhileRunning(t *testing.T) {
	runner := &fakeRunner{
		started: make(chan string, 4),
		gate:    make(chan struct{}),
	}
	o := newTestOrchestrator(t, runner, nil)

	ops := makeOps(4)
	h := o.Run(context.Background(), "batch-1", ops, Config{MaxConcurrency: 2})

	for i := 0; i < 2; i++ {
		select {
		case <-runner.started:
		case <-time.After(2 * time.Second):
			t.Fatal("Expected 2 operations to start")
		}
	}

	report := h.Status()
	if report.State != StateRunning {
		t.Errorf("Expected state %s, got %s", StateRunning, report.State)
	}
	if report.InFlight != 2 {
		t.Errorf("Expected 2 in flight, got %d", report.InFlight)
	}
	if report.Pending != 2 {
		t.Errorf("Expected 2 pending, got %d", report.Pending)
	}

	close(runner.gate)
	waitDone(t, h, 5*time.Second)

	report = h.Status()
	if report.State != StateCompleted {
		t.Errorf("Expected state %s, got %s", StateCompleted, report.State)
	}
	if report.InFlight != 0 || report.Pending != 0 {
		t.Errorf("Expected an idle batch, got %d in flight / %d pending", report.InFlight, report.Pending)
	}
}

func TestHandle_CancelAfterTerminalIsRefused(t *testing.T) {
	runner := &fakeRunner{}
	o := newTestOrchestrator(t, runner, nil)

	h := o.Run(context.Background(), "batch-1", makeOps(2), Config{MaxConcurrency: 1})
	waitDone(t, h, 5*time.Second)

	if h.Cancel() {
		t.Error("Expected Cancel to be refused after the batch finished")
	}
	if got := h.Status().State; got != StateCompleted {
		t.Errorf("Expected state to remain %s, got %s", StateCompleted, got)
	}
}

func TestBatchStateString(t *testing.T) {
	cases := []struct {
		state State
		want  string
	}{
		{StateCreated, "created"},
		{StateRunning, "running"},
		{StateCompleted, "completed"},
		{StatePartiallyFailed, "partially_failed"},
		{StateCancelled, "cancelled"},
		{State(42), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.state.String(); got != tc.want {
			t.Errorf("State(%d): expected %q, got %q", tc.state, tc.want, got)
		}
	}
}
