package batch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Web3ok/bsc-sub000/internal/events"
	"github.com/Web3ok/bsc-sub000/internal/executor"
	"github.com/Web3ok/bsc-sub000/internal/platform/observability"
	"github.com/Web3ok/bsc-sub000/internal/platform/worker"
)

// OperationRunner drives one operation to a terminal result.
type OperationRunner interface {
	Run(ctx context.Context, op *executor.Operation) *executor.Result
}

// Orchestrator fans batches out over bounded worker pools, one pool per
// batch. Per-operation failures never cross operation boundaries; a worker
// records the result and moves on.
type Orchestrator struct {
	runner  OperationRunner
	sink    executor.TransitionSink
	logger  *observability.Logger
	metrics *observability.Metrics

	inFlight atomic.Int64
}

// OrchestratorConfig holds orchestrator dependencies.
type OrchestratorConfig struct {
	Runner  OperationRunner
	Sink    executor.TransitionSink
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// NewOrchestrator creates a batch orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("batch: operation runner is required")
	}
	return &Orchestrator{
		runner:  cfg.Runner,
		sink:    cfg.Sink,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}, nil
}

// Run launches a batch over its own worker pool and returns its handle
// immediately. The context parents every operation; when it dies,
// not-yet-started operations are swept to Cancelled.
func (o *Orchestrator) Run(ctx context.Context, id string, ops []*executor.Operation, cfg Config) *Handle {
	h := newHandle(id, ops, cfg)

	pool := worker.NewPool(ctx, worker.PoolConfig{
		Workers:       cfg.MaxConcurrency,
		QueueSize:     len(ops),
		InterJobDelay: cfg.InterOpDelay,
	})

	jobs := make([]worker.Job, len(h.ops))
	for i, st := range h.ops {
		st := st
		jobs[i] = worker.Job{
			ID: st.op.ID,
			Run: func(jctx context.Context) error {
				o.runOne(jctx, h, st)
				return nil
			},
		}
	}

	go func() {
		defer pool.Close()
		pool.SubmitAndWait(jobs)
		o.finish(h)
	}()

	return h
}

// runOne drives a single slot: skip cancelled work, bound it with the
// per-operation timeout, record the terminal result.
func (o *Orchestrator) runOne(ctx context.Context, h *Handle, st *opStatus) {
	if !h.markStarted(st) {
		h.markCancelled(st)
		o.emitCancelled(h, st, executor.StatePending, "batch cancelled")
		return
	}

	if o.metrics != nil {
		o.metrics.SetOperationsInFlight(ctx, o.inFlight.Add(1))
		defer func() {
			o.metrics.SetOperationsInFlight(context.Background(), o.inFlight.Add(-1))
		}()
	}

	opCtx := ctx
	if h.cfg.PerOpTimeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, h.cfg.PerOpTimeout)
		defer cancel()
	}

	res := o.runner.Run(opCtx, st.op)
	h.markDone(st, res)
}

// emitCancelled reports an operation's transition to Cancelled. The from
// state and detail tell consumers whether the operation ever ran.
func (o *Orchestrator) emitCancelled(h *Handle, st *opStatus, from executor.State, detail string) {
	if o.metrics != nil {
		o.metrics.RecordOperationTransition(context.Background(),
			from.String(), executor.StateCancelled.String())
		o.metrics.RecordOperationDone(context.Background(),
			executor.StateCancelled.String(), 0)
	}
	if o.sink != nil {
		o.sink.Dispatch(events.TransitionEvent{
			OperationID: st.op.ID,
			BatchID:     h.id,
			FromState:   from.String(),
			ToState:     executor.StateCancelled.String(),
			Timestamp:   time.Now().UTC(),
			Detail:      detail,
		})
	}
}

// finish derives the batch terminal state once every slot has settled.
func (o *Orchestrator) finish(h *Handle) {
	state, swept := h.finalize()
	for _, sw := range swept {
		// An operation swept past Pending was cut off mid-flight by the
		// batch context, not cancelled by a caller; its transaction may
		// still confirm, so consumers must not treat it as withdrawn.
		detail := "batch cancelled"
		switch {
		case sw.from != executor.StatePending:
			detail = "shutdown with operation in flight, outcome unresolved"
		case state != StateCancelled:
			detail = "engine shutdown"
		}
		o.emitCancelled(h, sw.st, sw.from, detail)
	}

	if o.metrics != nil {
		o.metrics.RecordBatchFinished(context.Background(), state.String(), time.Since(h.started))
	}
	if o.logger != nil {
		rep := h.Status()
		o.logger.Info("batch finished",
			"batch_id", h.id,
			"state", state.String(),
			"succeeded", rep.Succeeded,
			"failed", rep.Failed,
			"cancelled", rep.Cancelled,
			"duration", time.Since(h.started).String(),
		)
	}
}
