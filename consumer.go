package lambdapipe

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// --- SQS Consumer Configuration ---
const (
	// maxMessages defines the maximum number of messages to retrieve in one SQS API call.
	maxMessages = 10
	// waitTimeSeconds enables SQS Long Polling, reducing cost and empty responses.
	waitTimeSeconds = 10
	// processingTimeout sets a deadline for processing a single received batch.
	// This should be less than the container's graceful shutdown period (e.g., terminationGracePeriodSeconds in K8s).
	processingTimeout = 30 * time.Second
	// receiveRetryDelay is the pause after a failed ReceiveMessage call.
	receiveRetryDelay = 2 * time.Second
)

// BatchProcessor is anything that handles an SQS event, such as an *SQSHandler.
type BatchProcessor interface {
	Handle(ctx context.Context, event events.SQSEvent) error
}

// Consumer long-polls a queue and feeds each received batch into a BatchProcessor, so the
// same entry point can run outside the Lambda runtime.
type Consumer struct {
	client    SQSClient
	queueURL  string
	queueARN  string
	region    string
	processor BatchProcessor
	logger    Logger
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithRegion sets the region reported on converted messages when the queue URL does not
// name one, as with local endpoints. Default: us-east-1.
func WithRegion(region string) ConsumerOption {
	return func(c *Consumer) { c.region = region }
}

// WithConsumerLogger sets the consumer's log sink.
func WithConsumerLogger(l Logger) ConsumerOption {
	return func(c *Consumer) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewConsumer creates a new SQS message consumer.
func NewConsumer(client SQSClient, queueURL string, processor BatchProcessor, opts ...ConsumerOption) (*Consumer, error) {
	c := &Consumer{
		client:    client,
		queueURL:  queueURL,
		region:    "us-east-1",
		processor: processor,
		logger:    defaultLogger,
	}
	for _, opt := range opts {
		opt(c)
	}

	arn, region, err := QueueARNFromURL(queueURL, c.region)
	if err != nil {
		return nil, err
	}
	c.queueARN, c.region = arn, region
	return c, nil
}

// QueueARNFromURL derives the queue ARN from a queue URL of the form
// <scheme>://<host>/<account>/<queue>. The region is read from hosts shaped like
// sqs.<region>.amazonaws.com; otherwise fallbackRegion is used.
func QueueARNFromURL(queueURL, fallbackRegion string) (arn, region string, err error) {
	u, err := url.Parse(queueURL)
	if err != nil {
		return "", "", fmt.Errorf("parse queue url: %w", err)
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segs) < 2 || segs[len(segs)-2] == "" || segs[len(segs)-1] == "" {
		return "", "", fmt.Errorf("queue url %q has no account and queue name", queueURL)
	}
	account, queue := segs[len(segs)-2], segs[len(segs)-1]

	region = fallbackRegion
	partition := "aws"
	hostParts := strings.Split(u.Hostname(), ".")
	if len(hostParts) >= 4 && hostParts[0] == "sqs" && hostParts[2] == "amazonaws" {
		region = hostParts[1]
		if strings.HasSuffix(u.Hostname(), ".cn") {
			partition = "aws-cn"
		}
	}
	return fmt.Sprintf("arn:%s:sqs:%s:%s:%s", partition, region, account, queue), region, nil
}

// Start begins the consumer's polling loop. It blocks until the context is canceled, then
// waits for in-flight batches to finish.
func (c *Consumer) Start(ctx context.Context) {
	c.logger.Log(fmt.Sprintf("🚀 SQS consumer started. Polling queue: %s", c.queueURL))
	var wg sync.WaitGroup

	for {
		// Before polling, check if a shutdown has been initiated.
		if ctx.Err() != nil {
			c.logger.Log("Shutdown initiated, no longer polling for new messages.")
			break
		}

		output, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:              aws.String(c.queueURL),
			MaxNumberOfMessages:   maxMessages,
			WaitTimeSeconds:       waitTimeSeconds,
			MessageAttributeNames: []string{"All"},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				c.logger.Log("Context canceled by shutdown signal. Stopping poller.")
				break
			}
			c.logger.Error(fmt.Sprintf("Failed to receive messages: %v. Retrying...", err))
			select {
			case <-time.After(receiveRetryDelay):
			case <-ctx.Done():
			}
			continue
		}

		event := c.toEvent(output.Messages)
		if len(event.Records) == 0 {
			continue
		}

		wg.Add(1)
		go func(event events.SQSEvent) {
			defer wg.Done()
			// Derived from context.Background() so shutdown does not abort in-flight work.
			batchCtx, cancel := context.WithTimeout(context.Background(), processingTimeout)
			defer cancel()
			if err := c.processor.Handle(batchCtx, event); err != nil {
				c.logger.Error(fmt.Sprintf("❌ batch of %d messages failed: %v", len(event.Records), err))
			}
		}(event)
	}

	c.logger.Log("Waiting for in-flight batches to be processed...")
	wg.Wait()
	c.logger.Log("✅ Graceful shutdown complete.")
}

// toEvent converts received messages into the event shape the Lambda SQS trigger delivers.
// Messages without a body are dropped.
func (c *Consumer) toEvent(msgs []sqstypes.Message) events.SQSEvent {
	event := events.SQSEvent{Records: make([]events.SQSMessage, 0, len(msgs))}
	for _, m := range msgs {
		if m.Body == nil {
			c.logger.Error(fmt.Sprintf("Received message %s with empty body.", aws.ToString(m.MessageId)))
			continue
		}
		event.Records = append(event.Records, events.SQSMessage{
			MessageId:         aws.ToString(m.MessageId),
			ReceiptHandle:     aws.ToString(m.ReceiptHandle),
			Body:              aws.ToString(m.Body),
			Md5OfBody:         aws.ToString(m.MD5OfBody),
			Attributes:        m.Attributes,
			MessageAttributes: fromMessageAttributes(m.MessageAttributes),
			EventSourceARN:    c.queueARN,
			EventSource:       "aws:sqs",
			AWSRegion:         c.region,
		})
	}
	return event
}

func fromMessageAttributes(in map[string]sqstypes.MessageAttributeValue) map[string]events.SQSMessageAttribute {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]events.SQSMessageAttribute, len(in))
	for k, v := range in {
		out[k] = events.SQSMessageAttribute{
			DataType:    aws.ToString(v.DataType),
			StringValue: v.StringValue,
			BinaryValue: v.BinaryValue,
		}
	}
	return out
}
