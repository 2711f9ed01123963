package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/Web3ok/bsc-sub000/internal/platform/observability"
	"github.com/Web3ok/bsc-sub000/internal/platform/resilience"
)

const (
	breakerFailureThreshold = 5
	breakerSuccessThreshold = 2
	breakerOpenTimeout      = 30 * time.Second
)

// SNSClient publishes to SNS behind a circuit breaker and bounded retries.
// A broken topic must shed load fast instead of stalling the dispatcher.
type SNSClient struct {
	api     *sns.Client
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	logger  *observability.Logger
	metrics *observability.Metrics
}

// SNSClientConfig holds SNS client configuration. RetryConfig and
// CircuitBreaker are optional; defaults apply when nil.
type SNSClientConfig struct {
	AWSConfig      aws.Config
	Logger         *observability.Logger
	Metrics        *observability.Metrics
	RetryConfig    *resilience.RetryConfig
	CircuitBreaker *resilience.CircuitBreaker
}

// NewSNSClient creates the hardened SNS client.
func NewSNSClient(cfg SNSClientConfig) *SNSClient {
	retryCfg := resilience.DefaultRetryConfig()
	if cfg.RetryConfig != nil {
		retryCfg = *cfg.RetryConfig
	}

	breaker := cfg.CircuitBreaker
	if breaker == nil {
		breaker = newSNSBreaker(cfg.Logger, cfg.Metrics)
	}

	return &SNSClient{
		api:     sns.NewFromConfig(cfg.AWSConfig),
		breaker: breaker,
		retry:   retryCfg,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

func newSNSBreaker(logger *observability.Logger, metrics *observability.Metrics) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: breakerFailureThreshold,
		SuccessThreshold: breakerSuccessThreshold,
		Timeout:          breakerOpenTimeout,
		OnStateChange: func(from, to resilience.State) {
			if logger != nil {
				logger.Info("SNS circuit breaker state changed",
					"from", from.String(),
					"to", to.String(),
				)
			}
			if metrics != nil {
				metrics.SetCircuitBreakerState(context.Background(), "sns", int64(to))
			}
		},
	})
}

// Publish encodes message as JSON and delivers it to the topic. The breaker
// wraps the retry loop so a run of failures opens it once, not per attempt.
func (s *SNSClient) Publish(ctx context.Context, topicARN string, message interface{}, attributes map[string]string) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("sns: encode message: %w", err)
	}

	start := time.Now()
	err = s.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, s.retry, func(ctx context.Context) error {
			return s.publishOnce(ctx, topicARN, string(payload), attributes)
		})
	})

	status := "success"
	if err != nil {
		status = "error"
		if s.logger != nil {
			s.logger.LogError(ctx, "SNS publish failed", err,
				"topic_arn", topicARN,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
	}
	if s.metrics != nil {
		s.metrics.RecordEventPublished(ctx, "sns", status)
	}

	return err
}

// PublishBatch delivers messages in order, one SNS publish per message with
// a batch_index attribute. SNS standard topics have no native batch publish,
// and the downstream queue consumers expect one event per record anyway.
func (s *SNSClient) PublishBatch(ctx context.Context, topicARN string, messages []interface{}, attributes map[string]string) error {
	for i, msg := range messages {
		attrs := make(map[string]string, len(attributes)+1)
		for k, v := range attributes {
			attrs[k] = v
		}
		attrs["batch_index"] = strconv.Itoa(i)

		if err := s.Publish(ctx, topicARN, msg, attrs); err != nil {
			return fmt.Errorf("sns: batch publish index %d: %w", i, err)
		}
	}
	return nil
}

// CircuitBreakerState returns the breaker's current state.
func (s *SNSClient) CircuitBreakerState() resilience.State {
	return s.breaker.State()
}

// ResetCircuitBreaker force-closes the breaker.
func (s *SNSClient) ResetCircuitBreaker() {
	s.breaker.Reset()
}

func (s *SNSClient) publishOnce(ctx context.Context, topicARN, payload string, attributes map[string]string) error {
	input := &sns.PublishInput{
		TopicArn:          aws.String(topicARN),
		Message:           aws.String(payload),
		MessageAttributes: toMessageAttributes(attributes),
	}

	if _, err := s.api.Publish(ctx, input); err != nil {
		return fmt.Errorf("sns: publish: %w", err)
	}
	return nil
}

func toMessageAttributes(attributes map[string]string) map[string]types.MessageAttributeValue {
	if len(attributes) == 0 {
		return nil
	}

	out := make(map[string]types.MessageAttributeValue, len(attributes))
	for k, v := range attributes {
		out[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}
	return out
}
