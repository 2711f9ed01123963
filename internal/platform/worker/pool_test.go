package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// concurrencyGauge tracks the peak number of jobs running at once.
type concurrencyGauge struct {
	mu   sync.Mutex
	cur  int
	peak int
}

func (g *concurrencyGauge) enter() {
	g.mu.Lock()
	g.cur++
	if g.cur > g.peak {
		g.peak = g.cur
	}
	g.mu.Unlock()
}

func (g *concurrencyGauge) leave() {
	g.mu.Lock()
	g.cur--
	g.mu.Unlock()
}

func (g *concurrencyGauge) max() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

func opJobs(n int, run func(ctx context.Context) error) []Job {
	jobs := make([]Job, n)
	for i := range jobs {
		jobs[i] = Job{ID: fmt.Sprintf("op-%d", i), Run: run}
	}
	return jobs
}

func TestPool_RunsEveryJob(t *testing.T) {
	pool := NewPool(context.Background(), PoolConfig{Workers: 4, QueueSize: 8})
	defer pool.Close()

	var executed atomic.Int32
	results := pool.SubmitAndWait(opJobs(8, func(ctx context.Context) error {
		executed.Add(1)
		return nil
	}))

	if len(results) != 8 {
		t.Fatalf("Expected 8 results, got %d", len(results))
	}
	if got := executed.Load(); got != 8 {
		t.Errorf("Expected 8 executions, got %d", got)
	}

	seen := make(map[string]bool, len(results))
	for _, res := range results {
		if res.Err != nil {
			t.Errorf("Job %s: unexpected error %v", res.JobID, res.Err)
		}
		seen[res.JobID] = true
	}
	for i := 0; i < 8; i++ {
		if id := fmt.Sprintf("op-%d", i); !seen[id] {
			t.Errorf("Missing result for %s", id)
		}
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	pool := NewPool(context.Background(), PoolConfig{Workers: 2, QueueSize: 6})
	defer pool.Close()

	gauge := &concurrencyGauge{}
	pool.SubmitAndWait(opJobs(6, func(ctx context.Context) error {
		gauge.enter()
		defer gauge.leave()
		time.Sleep(20 * time.Millisecond)
		return nil
	}))

	if got := gauge.max(); got > 2 {
		t.Errorf("Expected at most 2 concurrent jobs, got %d", got)
	}
}

func TestPool_ZeroWorkersRunsSequentially(t *testing.T) {
	pool := NewPool(context.Background(), PoolConfig{Workers: 0, QueueSize: 4})
	defer pool.Close()

	gauge := &concurrencyGauge{}
	results := pool.SubmitAndWait(opJobs(4, func(ctx context.Context) error {
		gauge.enter()
		defer gauge.leave()
		time.Sleep(5 * time.Millisecond)
		return nil
	}))

	if len(results) != 4 {
		t.Fatalf("Expected 4 results, got %d", len(results))
	}
	if got := gauge.max(); got != 1 {
		t.Errorf("Expected sequential execution with the default single worker, got concurrency %d", got)
	}
}

func TestPool_ReportsJobErrors(t *testing.T) {
	pool := NewPool(context.Background(), PoolConfig{Workers: 2, QueueSize: 4})
	defer pool.Close()

	errNoFunds := errors.New("insufficient funds for gas")
	jobs := []Job{
		{ID: "op-ok", Run: func(ctx context.Context) error { return nil }},
		{ID: "op-broke", Run: func(ctx context.Context) error { return errNoFunds }},
	}

	results := pool.SubmitAndWait(jobs)
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}

	byID := make(map[string]error, len(results))
	for _, res := range results {
		byID[res.JobID] = res.Err
	}
	if byID["op-ok"] != nil {
		t.Errorf("Expected op-ok to succeed, got %v", byID["op-ok"])
	}
	if !errors.Is(byID["op-broke"], errNoFunds) {
		t.Errorf("Expected op-broke to carry its error, got %v", byID["op-broke"])
	}
}

func TestPool_InterJobDelaySpacesWork(t *testing.T) {
	pool := NewPool(context.Background(), PoolConfig{
		Workers:       1,
		QueueSize:     3,
		InterJobDelay: 30 * time.Millisecond,
	})
	defer pool.Close()

	start := time.Now()
	pool.SubmitAndWait(opJobs(3, func(ctx context.Context) error { return nil }))
	elapsed := time.Since(start)

	// Two inter-job gaps separate three jobs on one worker.
	if elapsed < 60*time.Millisecond {
		t.Errorf("Expected at least 60ms with inter-job delays, took %v", elapsed)
	}
}

func TestPool_SubmitAfterClose(t *testing.T) {
	pool := NewPool(context.Background(), PoolConfig{Workers: 1, QueueSize: 1})
	pool.Close()

	err := pool.Submit(Job{ID: "op-late", Run: func(ctx context.Context) error { return nil }})
	if err == nil {
		t.Error("Expected Submit to fail after Close")
	}
}

func TestPool_CancelAbandonsQueuedJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(ctx, PoolConfig{Workers: 1, QueueSize: 3})
	defer pool.Close()

	var executed atomic.Int32
	jobs := opJobs(3, func(jctx context.Context) error {
		executed.Add(1)
		select {
		case <-time.After(50 * time.Millisecond):
		case <-jctx.Done():
		}
		return nil
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	results := pool.SubmitAndWait(jobs)
	if len(results) >= 3 {
		t.Errorf("Expected cancellation to cut the batch short, got %d results", len(results))
	}
	if got := executed.Load(); got >= 3 {
		t.Errorf("Expected queued jobs to be abandoned, %d executed", got)
	}
}

func TestPool_SubmitBlocksOnFullQueue(t *testing.T) {
	pool := NewPool(context.Background(), PoolConfig{Workers: 1, QueueSize: 0})
	defer pool.Close()

	release := make(chan struct{})
	if err := pool.Submit(Job{ID: "op-hold", Run: func(ctx context.Context) error {
		<-release
		return nil
	}}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// The single worker is held, so the unbuffered queue has no reader yet.
	blocked := make(chan time.Duration, 1)
	go func() {
		start := time.Now()
		_ = pool.Submit(Job{ID: "op-queued", Run: func(ctx context.Context) error { return nil }})
		blocked <- time.Since(start)
	}()

	time.Sleep(30 * time.Millisecond)
	close(release)

	select {
	case waited := <-blocked:
		if waited < 20*time.Millisecond {
			t.Errorf("Expected the second Submit to block, returned after %v", waited)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Submit never returned after the worker was released")
	}
}

func TestPool_CloseTwice(t *testing.T) {
	pool := NewPool(context.Background(), PoolConfig{Workers: 2, QueueSize: 2})

	pool.SubmitAndWait(opJobs(2, func(ctx context.Context) error { return nil }))

	// Must not panic
	pool.Close()
	pool.Close()
}
