package queuex

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"

	"clever-events/shared/events"
)

// maxReceiveBatch is the SQS limit on messages per ReceiveMessage call.
const maxReceiveBatch = 10

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQSQueue addresses queues by URL.
type SQSQueue struct {
	client sqsAPI
}

func NewSQSQueue(awsCfg aws.Config) *SQSQueue {
	return &SQSQueue{client: sqs.NewFromConfig(awsCfg)}
}

func (q *SQSQueue) Receive(ctx context.Context, queue string, maxMessages int, waitSeconds int) ([]events.RawMessage, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(queue),
		MaxNumberOfMessages:   int32(clamp(maxMessages, 1, maxReceiveBatch)),
		WaitTimeSeconds:       int32(clamp(waitSeconds, 0, 20)),
		AttributeNames:        []types.QueueAttributeName{types.QueueAttributeNameAll},
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, err
	}
	msgs := make([]events.RawMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, events.RawMessage{
			ID:               aws.ToString(m.MessageId),
			ReceiptHandle:    aws.ToString(m.ReceiptHandle),
			Body:             aws.ToString(m.Body),
			SystemAttributes: m.Attributes,
			Attributes:       fromSQSAttributes(m.MessageAttributes),
		})
	}
	return msgs, nil
}

func (q *SQSQueue) DeleteBatch(ctx context.Context, queue string, entries []events.DeleteEntry) ([]events.DeleteFailure, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	if len(entries) > events.MaxDeleteBatch {
		return nil, fmt.Errorf("%w: at most %d entries per delete batch", events.ErrTransport, events.MaxDeleteBatch)
	}
	reqs := make([]types.DeleteMessageBatchRequestEntry, 0, len(entries))
	for _, e := range entries {
		reqs = append(reqs, types.DeleteMessageBatchRequestEntry{
			Id:            aws.String(e.ID),
			ReceiptHandle: aws.String(e.ReceiptHandle),
		})
	}
	out, err := q.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(queue),
		Entries:  reqs,
	})
	if err != nil {
		return nil, err
	}
	failures := make([]events.DeleteFailure, 0, len(out.Failed))
	for _, f := range out.Failed {
		failures = append(failures, events.DeleteFailure{
			ID:      aws.ToString(f.Id),
			Code:    aws.ToString(f.Code),
			Message: aws.ToString(f.Message),
		})
	}
	return failures, nil
}

// Delete removes one message. A stale or malformed receipt handle is not an
// error; it reports false.
func (q *SQSQueue) Delete(ctx context.Context, queue string, receiptHandle string) (bool, error) {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queue),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err == nil {
		return true, nil
	}
	if isInvalidReceipt(err) {
		return false, nil
	}
	return false, fmt.Errorf("%w: %s", events.ErrTransport, err.Error())
}

func (q *SQSQueue) Send(ctx context.Context, queue string, body string, attrs events.Attributes) (string, error) {
	out, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(queue),
		MessageBody:       aws.String(body),
		MessageAttributes: toSQSAttributes(attrs),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.MessageId), nil
}

// Ping checks that the queue exists and is reachable.
func (q *SQSQueue) Ping(ctx context.Context, queue string) error {
	_, err := q.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(queue),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameApproximateNumberOfMessages},
	})
	return err
}

func isInvalidReceipt(err error) bool {
	var invalid *types.ReceiptHandleIsInvalid
	if errors.As(err, &invalid) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ReceiptHandleIsInvalid", "InvalidReceiptHandle":
			return true
		}
	}
	return false
}

func toSQSAttributes(attrs events.Attributes) map[string]types.MessageAttributeValue {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]types.MessageAttributeValue, len(attrs))
	for k, v := range attrs {
		dataType := v.DataType
		if dataType == "" {
			dataType = events.DataTypeString
		}
		out[k] = types.MessageAttributeValue{
			DataType:    aws.String(dataType),
			StringValue: aws.String(v.StringValue),
		}
	}
	return out
}

func fromSQSAttributes(attrs map[string]types.MessageAttributeValue) events.Attributes {
	if len(attrs) == 0 {
		return nil
	}
	out := make(events.Attributes, len(attrs))
	for k, v := range attrs {
		out[k] = events.AttributeValue{
			DataType:    aws.ToString(v.DataType),
			StringValue: aws.ToString(v.StringValue),
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
