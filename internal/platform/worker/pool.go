// Package worker provides the bounded worker pool that batch execution
// fans out on.
package worker

import (
	"context"
	"sync"
	"time"
)

// Job is one unit of work.
type Job struct {
	// ID labels the job in its Result.
	ID string
	// Run does the work. It receives the pool's context, which dies when
	// the pool closes.
	Run func(ctx context.Context) error
}

// Result pairs a finished job with its error.
type Result struct {
	JobID string
	Err   error
}

// PoolConfig sizes the pool.
type PoolConfig struct {
	// Workers is the number of concurrent worker goroutines (minimum 1)
	Workers int
	// QueueSize is the pending job buffer (0 for unbuffered)
	QueueSize int
	// InterJobDelay pauses a worker between finishing one job and pulling
	// the next. Used to space out transaction broadcasts from the same
	// worker slot.
	InterJobDelay time.Duration
}

// Pool runs jobs over a fixed set of worker goroutines pulling from a
// shared queue.
type Pool struct {
	cfg     PoolConfig
	queue   chan Job
	results chan Result
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

// NewPool starts the workers immediately; they idle until jobs arrive.
func NewPool(ctx context.Context, cfg PoolConfig) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}

	poolCtx, cancel := context.WithCancel(ctx)

	p := &Pool{
		cfg:   cfg,
		queue: make(chan Job, cfg.QueueSize),
		// Room for every queued and in-flight job, so workers never jam
		// on delivery when nobody is reading yet.
		results: make(chan Result, cfg.QueueSize+cfg.Workers),
		ctx:     poolCtx,
		cancel:  cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.work()
	}

	return p
}

func (p *Pool) work() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.queue:
			// Both cases can be ready at once; never start work on a
			// dead pool.
			if p.ctx.Err() != nil {
				return
			}
			err := job.Run(p.ctx)

			select {
			case p.results <- Result{JobID: job.ID, Err: err}:
			case <-p.ctx.Done():
				return
			}

			if p.cfg.InterJobDelay > 0 {
				select {
				case <-time.After(p.cfg.InterJobDelay):
				case <-p.ctx.Done():
					return
				}
			}
		}
	}
}

// Submit queues a job, waiting for queue space if necessary. It fails once
// the pool's context is done.
func (p *Pool) Submit(job Job) error {
	if err := p.ctx.Err(); err != nil {
		return err
	}

	select {
	case p.queue <- job:
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// SubmitAndWait submits every job and blocks until all of them finish or
// the pool's context dies. Results arrive in completion order, so a partial
// slice after cancellation holds whatever finished in time.
func (p *Pool) SubmitAndWait(jobs []Job) []Result {
	submitted := 0
	for _, job := range jobs {
		if err := p.Submit(job); err != nil {
			break
		}
		submitted++
	}

	results := make([]Result, 0, submitted)
	for i := 0; i < submitted; i++ {
		select {
		case <-p.ctx.Done():
			return results
		case res := <-p.results:
			results = append(results, res)
		}
	}

	return results
}

// Close stops the pool. Workers finish their current job; queued jobs that
// were never picked up are abandoned. Safe to call more than once.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.cancel()
		p.wg.Wait()
		close(p.results)
	})
}
