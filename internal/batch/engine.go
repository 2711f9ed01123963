package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/Web3ok/bsc-sub000/internal/executor"
	"github.com/Web3ok/bsc-sub000/internal/platform/config"
	"github.com/Web3ok/bsc-sub000/internal/platform/observability"
)

// ErrBatchNotFound marks a lookup for an unknown batch id.
var ErrBatchNotFound = errors.New("batch: not found")

// Validation bounds for submitted batches.
const (
	minConcurrency = 1
	maxConcurrency = 10
	maxBatchSize   = 100
	maxSlippageBps = 5000
)

// Engine is the outward-facing batch surface: submit, status, cancel. The
// transport layer in front of it is out of scope here.
type Engine struct {
	orch     *Orchestrator
	defaults config.BatchConfig
	logger   *observability.Logger
	metrics  *observability.Metrics

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.RWMutex
	batches map[string]*Handle
}

// EngineConfig holds engine dependencies and batch defaults.
type EngineConfig struct {
	Runner   OperationRunner
	Sink     executor.TransitionSink
	Defaults config.BatchConfig
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

// NewEngine creates the batch engine. Batches run under ctx; cancelling it
// sweeps operations that have not started yet.
func NewEngine(ctx context.Context, cfg EngineConfig) (*Engine, error) {
	orch, err := NewOrchestrator(OrchestratorConfig{
		Runner:  cfg.Runner,
		Sink:    cfg.Sink,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}

	baseCtx, cancel := context.WithCancel(ctx)
	return &Engine{
		orch:     orch,
		defaults: cfg.Defaults,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		baseCtx:  baseCtx,
		cancel:   cancel,
		batches:  make(map[string]*Handle),
	}, nil
}

// SubmitBatch validates and launches a batch, returning its id. A validation
// failure rejects the whole batch before any operation enters the queue.
func (e *Engine) SubmitBatch(ctx context.Context, ops []*executor.Operation, cfg Config) (string, error) {
	if err := e.baseCtx.Err(); err != nil {
		return "", fmt.Errorf("batch: engine shut down: %w", err)
	}

	cfg = e.applyDefaults(cfg)
	if err := validateConfig(cfg); err != nil {
		return "", err
	}
	if err := validateOperations(ops); err != nil {
		return "", err
	}

	id := uuid.NewString()
	for i, op := range ops {
		op.BatchID = id
		if op.ID == "" {
			op.ID = fmt.Sprintf("%s/op-%d", id, i+1)
		}
	}

	if e.metrics != nil {
		e.metrics.RecordBatchSubmitted(ctx, len(ops))
	}

	h := e.orch.Run(e.baseCtx, id, ops, cfg)

	e.mu.Lock()
	e.batches[id] = h
	e.mu.Unlock()

	if e.logger != nil {
		e.logger.LogInfo(ctx, "batch submitted",
			"batch_id", id,
			"operations", len(ops),
			"max_concurrency", cfg.MaxConcurrency,
			"inter_op_delay", cfg.InterOpDelay.String(),
		)
	}
	return id, nil
}

// GetBatchStatus returns a progress snapshot for the batch.
func (e *Engine) GetBatchStatus(batchID string) (Report, error) {
	h, err := e.handle(batchID)
	if err != nil {
		return Report{}, err
	}
	return h.Status(), nil
}

// CancelBatch requests cooperative cancellation. Cancelling an already
// terminal batch is a no-op.
func (e *Engine) CancelBatch(batchID string) error {
	h, err := e.handle(batchID)
	if err != nil {
		return err
	}
	if h.Cancel() && e.logger != nil {
		e.logger.Info("batch cancellation requested", "batch_id", batchID)
	}
	return nil
}

// Shutdown stops accepting batches and waits for running ones to settle or
// for ctx to expire.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.cancel()

	e.mu.RLock()
	handles := make([]*Handle, 0, len(e.batches))
	for _, h := range e.batches {
		handles = append(handles, h)
	}
	e.mu.RUnlock()

	for _, h := range handles {
		select {
		case <-h.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (e *Engine) handle(batchID string) (*Handle, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.batches[batchID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	return h, nil
}

// applyDefaults fills zero config fields from the engine defaults.
func (e *Engine) applyDefaults(cfg Config) Config {
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = e.defaults.MaxConcurrency
	}
	if cfg.InterOpDelay == 0 {
		cfg.InterOpDelay = e.defaults.InterOpDelay
	}
	if cfg.PerOpTimeout == 0 {
		cfg.PerOpTimeout = e.defaults.PerOpTimeout
	}
	return cfg
}

func validateConfig(cfg Config) error {
	if cfg.MaxConcurrency < minConcurrency || cfg.MaxConcurrency > maxConcurrency {
		return fmt.Errorf("batch: max concurrency %d outside [%d, %d]",
			cfg.MaxConcurrency, minConcurrency, maxConcurrency)
	}
	if cfg.InterOpDelay < 0 {
		return fmt.Errorf("batch: inter-op delay must not be negative")
	}
	if cfg.PerOpTimeout < 0 {
		return fmt.Errorf("batch: per-op timeout must not be negative")
	}
	return nil
}

func validateOperations(ops []*executor.Operation) error {
	if len(ops) == 0 {
		return fmt.Errorf("batch: at least one operation is required")
	}
	if len(ops) > maxBatchSize {
		return fmt.Errorf("batch: %d operations exceed the limit of %d", len(ops), maxBatchSize)
	}

	for i, op := range ops {
		if op == nil {
			return fmt.Errorf("batch: operation %d is nil", i)
		}
		if op.SourceAccount == (common.Address{}) {
			return fmt.Errorf("batch: operation %d: source account is required", i)
		}
		if op.AmountIn == nil || op.AmountIn.Sign() <= 0 {
			return fmt.Errorf("batch: operation %d: amount in must be positive", i)
		}
		if op.TokenIn == op.TokenOut {
			return fmt.Errorf("batch: operation %d: token in and token out must differ", i)
		}
		if op.MaxSlippageBps < 0 || op.MaxSlippageBps.Int64() > maxSlippageBps {
			return fmt.Errorf("batch: operation %d: max slippage %d bps outside [0, %d]",
				i, op.MaxSlippageBps.Int64(), maxSlippageBps)
		}
	}
	return nil
}
