package lambdapipe

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// DeadLetterForwarder copies dead-lettered messages to a dedicated queue.
type DeadLetterForwarder struct {
	client   SQSClient
	queueURL string
	logger   Logger
}

// NewDeadLetterForwarder returns a forwarder that sends to queueURL.
func NewDeadLetterForwarder(client SQSClient, queueURL string, logger Logger) *DeadLetterForwarder {
	if logger == nil {
		logger = defaultLogger
	}
	return &DeadLetterForwarder{client: client, queueURL: queueURL, logger: logger}
}

// Forward sends msgs to the dead-letter queue and returns the ones SQS accepted. Only
// those should be removed from the source queue.
func (f *DeadLetterForwarder) Forward(ctx context.Context, msgs []events.SQSMessage) ([]events.SQSMessage, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	var (
		sent []events.SQSMessage
		errs []error
	)
	for _, part := range chunk(msgs, maxBatchEntries) {
		ok, err := f.sendBatch(ctx, part)
		sent = append(sent, ok...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return sent, errors.Join(errs...)
}

func (f *DeadLetterForwarder) sendBatch(ctx context.Context, msgs []events.SQSMessage) ([]events.SQSMessage, error) {
	entries := make([]sqstypes.SendMessageBatchRequestEntry, 0, len(msgs))
	for i, m := range msgs {
		entries = append(entries, sqstypes.SendMessageBatchRequestEntry{
			Id:                aws.String(entryID(i)),
			MessageBody:       aws.String(m.Body),
			MessageAttributes: toMessageAttributes(m.MessageAttributes),
		})
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ackTimeout)
	defer cancel()

	out, err := f.client.SendMessageBatch(callCtx, &sqs.SendMessageBatchInput{
		QueueUrl: aws.String(f.queueURL),
		Entries:  entries,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDeadLetterFailed, f.queueURL, err)
	}

	rejected := make([]bool, len(msgs))
	for _, failed := range out.Failed {
		id := aws.ToString(failed.Id)
		if i, ok := entryIndex(id, len(msgs)); ok {
			rejected[i] = true
		}
		f.logger.Warn(fmt.Sprintf("failed to dead-letter message %s to %s: %s %s",
			describeEntry(id, msgs), f.queueURL, aws.ToString(failed.Code), aws.ToString(failed.Message)))
	}

	sent := make([]events.SQSMessage, 0, len(msgs))
	for i, m := range msgs {
		if !rejected[i] {
			sent = append(sent, m)
		}
	}
	if len(out.Failed) > 0 {
		return sent, fmt.Errorf("%w: %s: %d entries failed", ErrDeadLetterFailed, f.queueURL, len(out.Failed))
	}
	return sent, nil
}

func toMessageAttributes(in map[string]events.SQSMessageAttribute) map[string]sqstypes.MessageAttributeValue {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]sqstypes.MessageAttributeValue, len(in))
	for k, v := range in {
		out[k] = sqstypes.MessageAttributeValue{
			DataType:    aws.String(v.DataType),
			StringValue: v.StringValue,
			BinaryValue: v.BinaryValue,
		}
	}
	return out
}
