package lambdapipe

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const (
	// maxBatchEntries is the SQS limit on entries per DeleteMessageBatch/SendMessageBatch call.
	maxBatchEntries = 10
	// ackTimeout bounds one batch call. It is applied to a context detached from the
	// invocation so a late cancellation cannot drop an acknowledgment.
	ackTimeout = 5 * time.Second
)

// SQSClient defines the SQS operations the pipelines need.
// *sqs.Client satisfies it; tests substitute a mock.
type SQSClient interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
}

// Acknowledger removes processed messages from their source queues.
type Acknowledger struct {
	client   SQSClient
	endpoint string
	timeout  time.Duration
	logger   Logger
}

// AckOption configures an Acknowledger.
type AckOption func(*Acknowledger)

// WithEndpoint sets the queue endpoint root, e.g. "http://localhost:4566/". By default it
// is derived from the region in each record's source ARN.
func WithEndpoint(root string) AckOption {
	return func(a *Acknowledger) { a.endpoint = root }
}

// WithAckTimeout bounds each DeleteMessageBatch call. Default: 5s.
func WithAckTimeout(d time.Duration) AckOption {
	return func(a *Acknowledger) { a.timeout = d }
}

// WithAckLogger sets where failed entries are reported.
func WithAckLogger(l Logger) AckOption {
	return func(a *Acknowledger) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAcknowledger returns an Acknowledger that issues calls through client.
func NewAcknowledger(client SQSClient, opts ...AckOption) *Acknowledger {
	a := &Acknowledger{
		client:  client,
		timeout: ackTimeout,
		logger:  defaultLogger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// BuildQueueURL derives a queue URL from a source ARN of the form
// arn:<partition>:sqs:<region>:<account>:<queue>. The account and queue name are the
// last two segments. An empty endpointRoot selects the public regional endpoint.
func BuildQueueURL(endpointRoot, arn string) (string, error) {
	parts := strings.Split(arn, ":")
	if len(parts) < 6 {
		return "", fmt.Errorf("%w: %q", ErrInvalidSourceARN, arn)
	}
	account, queue := parts[len(parts)-2], parts[len(parts)-1]
	if account == "" || queue == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidSourceARN, arn)
	}

	if endpointRoot == "" {
		region := parts[3]
		if region == "" {
			return "", fmt.Errorf("%w: no region in %q", ErrInvalidSourceARN, arn)
		}
		domain := "amazonaws.com"
		if strings.HasPrefix(parts[1], "aws-cn") {
			domain = "amazonaws.com.cn"
		}
		endpointRoot = fmt.Sprintf("https://sqs.%s.%s/", region, domain)
	}
	if !strings.HasSuffix(endpointRoot, "/") {
		endpointRoot += "/"
	}
	return endpointRoot + account + "/" + queue, nil
}

// groupByQueue partitions messages by source ARN, keeping first-seen order.
func groupByQueue(msgs []events.SQSMessage) (arns []string, groups map[string][]events.SQSMessage) {
	groups = make(map[string][]events.SQSMessage)
	for _, m := range msgs {
		if _, ok := groups[m.EventSourceARN]; !ok {
			arns = append(arns, m.EventSourceARN)
		}
		groups[m.EventSourceARN] = append(groups[m.EventSourceARN], m)
	}
	return arns, groups
}

func chunk[T any](s []T, size int) [][]T {
	var out [][]T
	for len(s) > size {
		out = append(out, s[:size])
		s = s[size:]
	}
	if len(s) > 0 {
		out = append(out, s)
	}
	return out
}

// entryID names the i-th entry of a batch request. SQS rejects a request whose entry ids
// repeat, and a batch may carry the same message id twice.
func entryID(i int) string { return strconv.Itoa(i) }

// entryIndex maps an entry id from a batch response back to its position in msgs.
func entryIndex(id string, n int) (int, bool) {
	i, err := strconv.Atoi(id)
	if err != nil || i < 0 || i >= n {
		return 0, false
	}
	return i, true
}

// describeEntry names a batch entry by the message it carried.
func describeEntry(id string, msgs []events.SQSMessage) string {
	if i, ok := entryIndex(id, len(msgs)); ok && msgs[i].MessageId != "" {
		return msgs[i].MessageId
	}
	return "entry " + id
}

// Acknowledge deletes msgs from their source queues. With no messages it returns
// immediately. Messages are grouped by source queue and each group is removed with
// DeleteMessageBatch calls of at most ten entries, so a typical batch from one queue costs
// exactly one call.
func (a *Acknowledger) Acknowledge(ctx context.Context, msgs []events.SQSMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	var errs []error
	arns, groups := groupByQueue(msgs)
	for _, arn := range arns {
		queueURL, err := BuildQueueURL(a.endpoint, arn)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %w", ErrAckFailed, err))
			continue
		}
		for _, part := range chunk(groups[arn], maxBatchEntries) {
			if err := a.deleteBatch(ctx, queueURL, part); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (a *Acknowledger) deleteBatch(ctx context.Context, queueURL string, msgs []events.SQSMessage) error {
	entries := make([]sqstypes.DeleteMessageBatchRequestEntry, 0, len(msgs))
	for i, m := range msgs {
		entries = append(entries, sqstypes.DeleteMessageBatchRequestEntry{
			Id:            aws.String(entryID(i)),
			ReceiptHandle: aws.String(m.ReceiptHandle),
		})
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
	defer cancel()

	out, err := a.client.DeleteMessageBatch(callCtx, &sqs.DeleteMessageBatchInput{
		QueueUrl: aws.String(queueURL),
		Entries:  entries,
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrAckFailed, queueURL, err)
	}
	return a.reportFailed(queueURL, msgs, out.Failed)
}

func (a *Acknowledger) reportFailed(queueURL string, msgs []events.SQSMessage, failed []sqstypes.BatchResultErrorEntry) error {
	if len(failed) == 0 {
		return nil
	}
	ids := make([]string, 0, len(failed))
	for _, f := range failed {
		id := describeEntry(aws.ToString(f.Id), msgs)
		ids = append(ids, id)
		a.logger.Warn(fmt.Sprintf("failed to delete message %s from %s: %s %s",
			id, queueURL, aws.ToString(f.Code), aws.ToString(f.Message)))
	}
	return fmt.Errorf("%w: %s: %d entries failed: %s", ErrAckFailed, queueURL, len(failed), strings.Join(ids, ","))
}
