// Command lambda-webhook forwards terminal operation transitions to an HTTP
// endpoint. It drains the SQS queue subscribed to the transition topic,
// filters out intermediate states, and reports per-record failures so the
// queue redrives only the deliveries that did not land.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	awsevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/Web3ok/bsc-sub000/internal/events"
	"github.com/Web3ok/bsc-sub000/internal/platform/resilience"
)

const (
	requestTimeout = 5 * time.Second
	userAgent      = "batch-engine-webhook/1.0"
)

var (
	logger     = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	httpClient = &http.Client{Timeout: requestTimeout}

	retryCfg = resilience.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		Jitter:      0.1,
	}
)

// terminalStates holds the wire names of states that end an operation. Only
// these are worth a webhook; intermediate transitions stay on the event
// stream for consumers that want the full history.
var terminalStates = map[string]bool{
	"confirmed": true,
	"reverted":  true,
	"timed_out": true,
	"failed":    true,
	"cancelled": true,
}

func main() {
	lambda.Start(handle)
}

func handle(ctx context.Context, event awsevents.SQSEvent) (awsevents.SQSEventResponse, error) {
	var failures []awsevents.SQSBatchItemFailure
	delivered, skipped := 0, 0

	for _, record := range event.Records {
		sent, err := forward(ctx, record)
		switch {
		case err != nil:
			logger.Error("webhook delivery failed",
				"message_id", record.MessageId, "error", err)
			failures = append(failures, awsevents.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
		case sent:
			delivered++
		default:
			skipped++
		}
	}

	logger.Info("webhook batch processed",
		"records", len(event.Records),
		"delivered", delivered,
		"skipped", skipped,
		"failed", len(failures))

	return awsevents.SQSEventResponse{BatchItemFailures: failures}, nil
}

// forward delivers one queue record. It reports false with no error for
// records that need no webhook: intermediate transitions and runs with no
// endpoint configured.
func forward(ctx context.Context, record awsevents.SQSMessage) (bool, error) {
	ev, payload, err := events.DecodeEnvelope(record.Body)
	if err != nil {
		return false, err
	}

	if !terminalStates[ev.ToState] {
		return false, nil
	}

	url := endpointURL(record)
	if url == "" {
		logger.Warn("no webhook endpoint configured, dropping transition",
			"operation_id", ev.OperationID, "to_state", ev.ToState)
		return false, nil
	}

	err = resilience.RetryIf(ctx, retryCfg, retryableDelivery, func(ctx context.Context) error {
		return post(ctx, url, payload)
	})
	if err != nil {
		return false, err
	}

	logger.Info("webhook delivered",
		"operation_id", ev.OperationID,
		"batch_id", ev.BatchID,
		"to_state", ev.ToState,
		"endpoint", redactURL(url))

	return true, nil
}

// endpointURL resolves the delivery target: the WEBHOOK_URL environment
// variable, or the webhookURL message attribute when a publisher set one.
func endpointURL(record awsevents.SQSMessage) string {
	if url := os.Getenv("WEBHOOK_URL"); url != "" {
		return url
	}

	if attr, ok := record.MessageAttributes["webhookURL"]; ok && attr.StringValue != nil {
		return *attr.StringValue
	}

	return ""
}

// post makes one delivery attempt.
func post(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// A little response body makes endpoint misconfigurations much easier
	// to read in the logs.
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &statusError{code: resp.StatusCode, body: string(bytes.TrimSpace(detail))}
}

// statusError is a non-2xx webhook response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("webhook endpoint returned status %d", e.code)
	}
	return fmt.Sprintf("webhook endpoint returned status %d: %s", e.code, e.body)
}

// retryableDelivery treats server-side failures and network errors as worth
// another attempt. Client errors mean the request itself is wrong and will
// not get better with repetition.
func retryableDelivery(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	return true
}

// redactURL trims the middle out of long endpoint URLs, which tend to carry
// tokens in their paths.
func redactURL(url string) string {
	if len(url) <= 30 {
		return url
	}
	return url[:15] + "..." + url[len(url)-10:]
}
