package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Web3ok/bsc-sub000/internal/platform/observability"
)

const (
	defaultBufferSize = 256
	// maxChunk matches the SNS batch API limit
	maxChunk = 10

	publishTimeout = 10 * time.Second
)

// Dispatcher fans transition events out to a publisher asynchronously.
// Dispatch never blocks the caller: when the buffer is full the event is
// dropped and counted, because execution must not stall on the event stream.
type Dispatcher struct {
	publisher Publisher
	queue     chan TransitionEvent
	logger    *observability.Logger
	metrics   *observability.Metrics

	closed   atomic.Bool
	dropped  atomic.Int64
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// DispatcherConfig holds dispatcher configuration
type DispatcherConfig struct {
	Publisher  Publisher
	BufferSize int
	Logger     *observability.Logger
	Metrics    *observability.Metrics
}

// NewDispatcher creates and starts the event dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Publisher == nil {
		cfg.Publisher = NewNoopPublisher()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}

	d := &Dispatcher{
		publisher: cfg.Publisher,
		queue:     make(chan TransitionEvent, cfg.BufferSize),
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		stopCh:    make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

// Dispatch queues an event for delivery. Full buffer drops the event.
func (d *Dispatcher) Dispatch(event TransitionEvent) {
	if d.closed.Load() {
		d.drop(event)
		return
	}

	select {
	case d.queue <- event:
	default:
		d.drop(event)
	}
}

// Dropped returns the number of events lost to backpressure or shutdown.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Stop refuses new events and drains the buffer. Returns ctx.Err() when the
// drain does not finish in time.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.closed.Store(true)
	d.stopOnce.Do(func() { close(d.stopCh) })

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.queue:
			d.deliver(d.collect(event))
		case <-d.stopCh:
			d.drain()
			return
		}
	}
}

// collect drains whatever queued up behind the first event, capped at the
// chunk size, so bursts go out as one batch call.
func (d *Dispatcher) collect(first TransitionEvent) []TransitionEvent {
	batch := []TransitionEvent{first}
	for len(batch) < maxChunk {
		select {
		case event := <-d.queue:
			batch = append(batch, event)
		default:
			return batch
		}
	}
	return batch
}

// drain flushes everything left in the buffer during shutdown.
func (d *Dispatcher) drain() {
	for {
		select {
		case event := <-d.queue:
			d.deliver(d.collect(event))
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(batch []TransitionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	var err error
	if len(batch) == 1 {
		err = d.publisher.Publish(ctx, batch[0])
	} else {
		err = d.publisher.PublishBatch(ctx, batch)
	}

	if err != nil && d.logger != nil {
		// Delivery failures are not retried here; the publisher already
		// carries retry and circuit breaking
		d.logger.LogWarn(ctx, "transition event delivery failed",
			"batch_size", len(batch),
			"error", err,
		)
	}
}

func (d *Dispatcher) drop(event TransitionEvent) {
	d.dropped.Add(1)
	if d.metrics != nil {
		d.metrics.RecordEventPublished(context.Background(), "dispatcher", "dropped")
	}
	if d.logger != nil {
		d.logger.Warn("dropped transition event",
			"operation_id", event.OperationID,
			"to_state", event.ToState,
		)
	}
}
