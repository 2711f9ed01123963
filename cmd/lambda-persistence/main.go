// Command lambda-persistence writes every operation transition to DynamoDB,
// building a queryable audit trail per operation. It consumes the SQS queue
// subscribed to the transition topic and reports per-record failures so the
// queue redrives only the writes that did not land.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	awsevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/Web3ok/bsc-sub000/internal/events"
)

// transitionTTL keeps the audit trail a week. DynamoDB expires older items
// on its own, so the table never needs manual cleanup.
const transitionTTL = 7 * 24 * time.Hour

var (
	logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	store  *dynamodb.Client
	table  string
)

func init() {
	cfg, err := config.LoadDefaultConfig(context.Background())
	if err != nil {
		panic(fmt.Sprintf("load aws config: %v", err))
	}
	store = dynamodb.NewFromConfig(cfg)

	table = os.Getenv("TABLE_NAME")
	if table == "" {
		table = "operation-transitions"
	}

	logger.Info("persistence sink ready", "table", table)
}

func main() {
	lambda.Start(handle)
}

func handle(ctx context.Context, event awsevents.SQSEvent) (awsevents.SQSEventResponse, error) {
	var failures []awsevents.SQSBatchItemFailure

	for _, record := range event.Records {
		if err := persist(ctx, record); err != nil {
			logger.Error("transition not persisted",
				"message_id", record.MessageId, "error", err)
			failures = append(failures, awsevents.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
		}
	}

	logger.Info("persistence batch processed",
		"records", len(event.Records), "failed", len(failures))

	return awsevents.SQSEventResponse{BatchItemFailures: failures}, nil
}

// persist decodes one queue record and writes its transition to DynamoDB.
func persist(ctx context.Context, record awsevents.SQSMessage) error {
	ev, _, err := events.DecodeEnvelope(record.Body)
	if err != nil {
		return err
	}

	// DynamoDB rejects empty key attributes, so a transition without its
	// identifiers is malformed rather than retryable.
	if ev.OperationID == "" || ev.ToState == "" {
		return fmt.Errorf("transition missing identifiers: operation %q, state %q",
			ev.OperationID, ev.ToState)
	}

	item, err := attributevalue.MarshalMap(newTransitionItem(ev))
	if err != nil {
		return fmt.Errorf("marshal transition item: %w", err)
	}

	if _, err := store.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put transition item: %w", err)
	}

	logger.Info("transition persisted",
		"operation_id", ev.OperationID,
		"batch_id", ev.BatchID,
		"from_state", ev.FromState,
		"to_state", ev.ToState)

	return nil
}

// transitionItem is the DynamoDB shape of one state transition. Items share
// the operation ID as partition key with a time-ordered sort key, so a
// single query returns an operation's full history in emission order.
type transitionItem struct {
	OperationID string `dynamodbav:"operationId"`
	SortKey     string `dynamodbav:"sk"`
	BatchID     string `dynamodbav:"batchId"`
	FromState   string `dynamodbav:"fromState"`
	ToState     string `dynamodbav:"toState"`
	Timestamp   string `dynamodbav:"timestamp"`
	Detail      string `dynamodbav:"detail,omitempty"`
	Expiry      int64  `dynamodbav:"ttl"`
}

func newTransitionItem(ev events.TransitionEvent) transitionItem {
	ts := ev.Timestamp.UTC().Format(time.RFC3339Nano)
	return transitionItem{
		OperationID: ev.OperationID,
		SortKey:     ts + "#" + ev.ToState,
		BatchID:     ev.BatchID,
		FromState:   ev.FromState,
		ToState:     ev.ToState,
		Timestamp:   ts,
		Detail:      ev.Detail,
		Expiry:      time.Now().Add(transitionTTL).Unix(),
	}
}
