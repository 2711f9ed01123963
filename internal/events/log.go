package events

import (
	"context"

	"github.com/Web3ok/bsc-sub000/internal/platform/observability"
)

// LogPublisher writes transition events to the structured log. Use it when
// SNS is not configured (local development, testing).
type LogPublisher struct {
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewLogPublisher creates a publisher that only logs transitions.
func NewLogPublisher(logger *observability.Logger, metrics *observability.Metrics) *LogPublisher {
	return &LogPublisher{logger: logger, metrics: metrics}
}

// Publish logs the transition instead of publishing it.
func (p *LogPublisher) Publish(ctx context.Context, event TransitionEvent) error {
	if p.logger != nil {
		p.logger.LogInfo(ctx, "operation transition",
			"operation_id", event.OperationID,
			"batch_id", event.BatchID,
			"from_state", event.FromState,
			"to_state", event.ToState,
			"detail", event.Detail,
		)
	}
	if p.metrics != nil {
		p.metrics.RecordEventPublished(ctx, "log", "success")
	}
	return nil
}

// PublishBatch logs each queued transition.
func (p *LogPublisher) PublishBatch(ctx context.Context, batch []TransitionEvent) error {
	for _, event := range batch {
		if err := p.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// NoopPublisher discards every event. Use it to disable the stream entirely.
type NoopPublisher struct{}

// NewNoopPublisher creates a publisher that discards events.
func NewNoopPublisher() *NoopPublisher {
	return &NoopPublisher{}
}

func (p *NoopPublisher) Publish(_ context.Context, _ TransitionEvent) error { return nil }

func (p *NoopPublisher) PublishBatch(_ context.Context, _ []TransitionEvent) error { return nil }
