package lambdapipe

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/hatsunemiku3939/lambdapipe/policy"
	"github.com/hatsunemiku3939/lambdapipe/types"
)

// MessageDecoder turns one message into the handler's payload type.
type MessageDecoder[T any] func(msg events.SQSMessage) (T, error)

// Deduplicator decides which records of a batch are processed.
//
// Filter splits msgs into records to process and duplicates. A duplicate is removed from
// its queue once the record it repeats has been removed, or right away when that record
// is not part of this batch. Records in neither list stay on the queue untouched.
type Deduplicator interface {
	Filter(ctx context.Context, msgs []events.SQSMessage) (keep, duplicates []events.SQSMessage)
}

// Settler is implemented by deduplicators that keep state across invocations. Settle is
// called once the batch has been acknowledged, with the kept records and the subset of
// them that was removed from their queues.
type Settler interface {
	Settle(ctx context.Context, kept, removed []events.SQSMessage)
}

// DedupeFunc adapts a function to the Deduplicator interface.
type DedupeFunc func(ctx context.Context, msgs []events.SQSMessage) (keep, duplicates []events.SQSMessage)

func (f DedupeFunc) Filter(ctx context.Context, msgs []events.SQSMessage) (keep, duplicates []events.SQSMessage) {
	return f(ctx, msgs)
}

// ExceptionHandler picks the action for a message whose unit of work failed. It takes
// precedence over the failure policy. Returning an invalid action defers to the policy.
type ExceptionHandler func(ctx context.Context, msg events.SQSMessage, cause error) types.Action

// MessageAcknowledger removes messages from their source queues.
type MessageAcknowledger interface {
	Acknowledge(ctx context.Context, msgs []events.SQSMessage) error
}

// DecodeMessageJSON parses the message body as JSON into T.
func DecodeMessageJSON[T any](msg events.SQSMessage) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(msg.Body), &v); err != nil {
		return v, fmt.Errorf("%w: message %s: %v", ErrMalformedInput, msg.MessageId, err)
	}
	return v, nil
}

// DecodeMessageBody passes the message body through unchanged.
func DecodeMessageBody(msg events.SQSMessage) (string, error) {
	return msg.Body, nil
}

func keepAll(_ context.Context, msgs []events.SQSMessage) (keep, duplicates []events.SQSMessage) {
	return msgs, nil
}

type sqsConfig struct {
	ackOpts          []AckOption
	ack              MessageAcknowledger
	deadLetterURL    string
	dedupe           Deduplicator
	exceptionHandler ExceptionHandler
	failurePolicy    policy.Policy
	logger           Logger
	loggingPolicy    LoggingPolicy
	// typed per entry point; checked against T at construction.
	decoder any
}

func defaultSQSConfig() sqsConfig {
	return sqsConfig{
		dedupe:        DedupeFunc(keepAll),
		failurePolicy: policy.ImmediateDeletePolicy{},
		logger:        defaultLogger,
		loggingPolicy: LogAll(true),
	}
}

// SQSOption configures a batch pipeline at construction time.
type SQSOption func(*sqsConfig)

// WithAcknowledger replaces the SQS-backed acknowledger.
func WithAcknowledger(a MessageAcknowledger) SQSOption {
	return func(c *sqsConfig) { c.ack = a }
}

// WithAckOptions configures the default acknowledger.
func WithAckOptions(opts ...AckOption) SQSOption {
	return func(c *sqsConfig) { c.ackOpts = append(c.ackOpts, opts...) }
}

// WithDeadLetterQueue forwards DEAD_LETTER messages to queueURL and then removes them
// from the source queue. Without it they are left for the platform to redeliver.
func WithDeadLetterQueue(queueURL string) SQSOption {
	return func(c *sqsConfig) { c.deadLetterURL = queueURL }
}

// WithDeduplicator filters each batch before processing. Default: keep every record.
func WithDeduplicator(d Deduplicator) SQSOption {
	return func(c *sqsConfig) {
		if d != nil {
			c.dedupe = d
		}
	}
}

// WithExceptionHandler sets the handler consulted when a message fails.
func WithExceptionHandler(h ExceptionHandler) SQSOption {
	return func(c *sqsConfig) { c.exceptionHandler = h }
}

// WithFailurePolicy sets the policy used for failed messages when no exception handler
// decides. Default: policy.ImmediateDeletePolicy.
func WithFailurePolicy(p policy.Policy) SQSOption {
	return func(c *sqsConfig) {
		if p != nil {
			c.failurePolicy = p
		}
	}
}

// WithSQSLogger sets the error log sink.
func WithSQSLogger(l Logger) SQSOption {
	return func(c *sqsConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithSQSLoggingPolicy sets which failures are logged. Message failures are evaluated with
// their classified status, or 500. Default: log all.
func WithSQSLoggingPolicy(p LoggingPolicy) SQSOption {
	return func(c *sqsConfig) { c.loggingPolicy = p }
}

// WithDecoder replaces DecodeMessageJSON.
func WithDecoder[T any](d MessageDecoder[T]) SQSOption {
	return func(c *sqsConfig) { c.decoder = d }
}
