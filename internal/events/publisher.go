package events

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/Web3ok/bsc-sub000/internal/platform/aws"
	"github.com/Web3ok/bsc-sub000/internal/platform/observability"
)

// Publisher delivers transition events to an external sink.
type Publisher interface {
	Publish(ctx context.Context, event TransitionEvent) error
	PublishBatch(ctx context.Context, events []TransitionEvent) error
}

// SNSPublisher publishes transition events to an SNS topic.
type SNSPublisher struct {
	snsClient *aws.SNSClient
	topicARN  string
	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    observability.Tracer
}

// SNSPublisherConfig holds SNS publisher configuration
type SNSPublisherConfig struct {
	SNSClient *aws.SNSClient
	TopicARN  string
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Tracer    observability.Tracer
}

// NewSNSPublisher creates the SNS transition event publisher.
func NewSNSPublisher(cfg SNSPublisherConfig) (*SNSPublisher, error) {
	if cfg.SNSClient == nil {
		return nil, fmt.Errorf("SNS client is required")
	}
	if cfg.TopicARN == "" {
		return nil, fmt.Errorf("SNS topic ARN is required")
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}

	return &SNSPublisher{
		snsClient: cfg.SNSClient,
		topicARN:  cfg.TopicARN,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
	}, nil
}

// Publish sends one transition event to SNS. Message attributes let
// subscribers filter on batch and target state without parsing the body.
func (p *SNSPublisher) Publish(ctx context.Context, event TransitionEvent) error {
	ctx, span := p.tracer.StartSpan(
		ctx,
		"events.publish",
		observability.WithAttributes(
			attribute.String("operation_id", event.OperationID),
			attribute.String("batch_id", event.BatchID),
			attribute.String("to_state", event.ToState),
		),
	)
	defer span.End()

	err := p.snsClient.Publish(ctx, p.topicARN, event, attributesFor(event))
	if err != nil {
		span.NoticeError(err)
		if p.logger != nil {
			p.logger.LogError(ctx, "failed to publish transition event", err,
				"operation_id", event.OperationID,
				"batch_id", event.BatchID,
				"to_state", event.ToState,
			)
		}
		return fmt.Errorf("SNS publish failed: %w", err)
	}

	if p.logger != nil {
		p.logger.LogDebug(ctx, "published transition event",
			"operation_id", event.OperationID,
			"from_state", event.FromState,
			"to_state", event.ToState,
		)
	}

	return nil
}

// PublishBatch sends queued transition events in one batch call.
func (p *SNSPublisher) PublishBatch(ctx context.Context, batch []TransitionEvent) error {
	if len(batch) == 0 {
		return nil
	}

	ctx, span := p.tracer.StartSpan(
		ctx,
		"events.publish_batch",
		observability.WithAttributes(
			attribute.Int("batch_size", len(batch)),
		),
	)
	defer span.End()

	messages := make([]interface{}, len(batch))
	for i, event := range batch {
		messages[i] = event
	}

	err := p.snsClient.PublishBatch(ctx, p.topicARN, messages, sharedAttributes(batch))
	if err != nil {
		span.NoticeError(err)
		if p.logger != nil {
			p.logger.LogError(ctx, "failed to publish transition event batch", err,
				"batch_size", len(batch),
			)
		}
		return fmt.Errorf("SNS batch publish failed: %w", err)
	}

	return nil
}

// CircuitBreakerState returns the SNS circuit breaker state.
func (p *SNSPublisher) CircuitBreakerState() string {
	return p.snsClient.CircuitBreakerState().String()
}

// ResetCircuitBreaker manually closes the SNS circuit breaker.
func (p *SNSPublisher) ResetCircuitBreaker() {
	p.snsClient.ResetCircuitBreaker()
	if p.logger != nil {
		p.logger.Info("reset SNS circuit breaker")
	}
}

func attributesFor(event TransitionEvent) map[string]string {
	return map[string]string{
		"batchId": event.BatchID,
		"toState": event.ToState,
	}
}

// sharedAttributes keeps only the attributes uniform across the whole batch.
func sharedAttributes(batch []TransitionEvent) map[string]string {
	attrs := map[string]string{}

	batchID := batch[0].BatchID
	for _, e := range batch[1:] {
		if e.BatchID != batchID {
			batchID = ""
			break
		}
	}
	if batchID != "" {
		attrs["batchId"] = batchID
	}

	return attrs
}
