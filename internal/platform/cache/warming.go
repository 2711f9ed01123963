package cache

import (
	"context"
	"sync"
	"time"

	"github.com/Web3ok/bsc-sub000/internal/platform/observability"
)

// WarmupProvider pre-populates one slice of the cache before the engine
// starts taking batches. Warmup must be idempotent; a restart runs it again
// against an already-populated store.
type WarmupProvider interface {
	Name() string
	Warmup(ctx context.Context) error
}

// WarmupConfig bounds a warmup round.
type WarmupConfig struct {
	// Timeout caps the whole round across every provider
	Timeout time.Duration

	// ContinueOnError keeps a sequential round going past a failed provider
	ContinueOnError bool

	// Parallel runs providers concurrently instead of in registration order
	Parallel bool
}

// DefaultWarmupConfig returns the bounds used at engine startup.
func DefaultWarmupConfig() WarmupConfig {
	return WarmupConfig{
		Timeout:         30 * time.Second,
		ContinueOnError: true,
		Parallel:        true,
	}
}

// WarmupResult is the outcome of one provider's run.
type WarmupResult struct {
	Provider string
	Duration time.Duration
	Err      error
}

// WarmupResults aggregates a warmup round.
type WarmupResults struct {
	Results   []WarmupResult
	TotalTime time.Duration
	Errors    int
}

// HasErrors reports whether any provider failed.
func (wr *WarmupResults) HasErrors() bool {
	return wr.Errors > 0
}

// Warmer runs registered providers ahead of traffic. Failures are reported,
// not fatal: a cold cache costs latency on the first batch, nothing more.
type Warmer struct {
	providers []WarmupProvider
	logger    *observability.Logger
	config    WarmupConfig
}

// NewWarmer creates a warmer with no providers registered.
func NewWarmer(logger *observability.Logger, config WarmupConfig) *Warmer {
	return &Warmer{logger: logger, config: config}
}

// RegisterProvider adds a provider to the round. Not safe to call once
// Warmup has started.
func (w *Warmer) RegisterProvider(provider WarmupProvider) {
	w.providers = append(w.providers, provider)
}

// Warmup runs every registered provider under the configured timeout and
// returns the per-provider outcomes.
func (w *Warmer) Warmup(ctx context.Context) *WarmupResults {
	start := time.Now()
	out := &WarmupResults{}

	if len(w.providers) == 0 {
		out.TotalTime = time.Since(start)
		return out
	}

	runCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	if w.config.Parallel {
		out.Results = w.runParallel(runCtx)
	} else {
		out.Results = w.runSequential(runCtx)
	}

	for _, r := range out.Results {
		if r.Err != nil {
			out.Errors++
		}
	}
	out.TotalTime = time.Since(start)

	if w.logger != nil {
		if out.Errors > 0 {
			w.logger.LogWarn(ctx, "cache warmup finished with failures",
				"providers", len(w.providers),
				"failed", out.Errors,
				"took", out.TotalTime,
			)
		} else {
			w.logger.LogInfo(ctx, "cache warmup finished",
				"providers", len(w.providers),
				"took", out.TotalTime,
			)
		}
	}

	return out
}

// runParallel runs every provider concurrently, collecting outcomes by
// registration index. ContinueOnError does not apply here; independent
// providers cannot abort each other.
func (w *Warmer) runParallel(ctx context.Context) []WarmupResult {
	results := make([]WarmupResult, len(w.providers))

	var wg sync.WaitGroup
	for i, p := range w.providers {
		wg.Add(1)
		go func(i int, p WarmupProvider) {
			defer wg.Done()
			results[i] = w.runOne(ctx, p)
		}(i, p)
	}
	wg.Wait()

	return results
}

// runSequential runs providers in registration order, stopping at the first
// failure unless configured to continue.
func (w *Warmer) runSequential(ctx context.Context) []WarmupResult {
	results := make([]WarmupResult, 0, len(w.providers))
	for _, p := range w.providers {
		r := w.runOne(ctx, p)
		results = append(results, r)
		if r.Err != nil && !w.config.ContinueOnError {
			break
		}
	}
	return results
}

func (w *Warmer) runOne(ctx context.Context, p WarmupProvider) WarmupResult {
	start := time.Now()
	err := p.Warmup(ctx)
	r := WarmupResult{Provider: p.Name(), Duration: time.Since(start), Err: err}

	if w.logger == nil {
		return r
	}
	if err != nil {
		w.logger.LogWarn(ctx, "warmup provider failed",
			"provider", r.Provider,
			"took", r.Duration,
			"error", err,
		)
	} else {
		w.logger.LogDebug(ctx, "warmup provider finished",
			"provider", r.Provider,
			"took", r.Duration,
		)
	}
	return r
}
