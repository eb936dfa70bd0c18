package lambdapipe

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/mock"
)

// --- Mock SQSClient ---

type MockSQSClient struct {
	mock.Mock
}

func (m *MockSQSClient) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.ReceiveMessageOutput), args.Error(1)
}

func (m *MockSQSClient) DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.DeleteMessageBatchOutput), args.Error(1)
}

func (m *MockSQSClient) SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*sqs.SendMessageBatchOutput), args.Error(1)
}

// --- Test Helper Functions ---

const (
	testQueueARN = "arn:aws:sqs:us-east-1:123456789012:orders"
	testQueueURL = "https://sqs.us-east-1.amazonaws.com/123456789012/orders"
)

// recordLogger keeps every line it is given.
type recordLogger struct {
	mu    sync.Mutex
	lines []logLine
}

type logLine struct {
	level string
	msg   string
}

func (l *recordLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, logLine{level: level, msg: msg})
}

func (l *recordLogger) Log(msg string)   { l.add("log", msg) }
func (l *recordLogger) Warn(msg string)  { l.add("warn", msg) }
func (l *recordLogger) Error(msg string) { l.add("error", msg) }

func (l *recordLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, line := range l.lines {
		if line.level == level {
			n++
		}
	}
	return n
}

func sqsMessage(id, body string) events.SQSMessage {
	return events.SQSMessage{
		MessageId:      id,
		ReceiptHandle:  "rh-" + id,
		Body:           body,
		EventSourceARN: testQueueARN,
	}
}

func sqsEvent(msgs ...events.SQSMessage) events.SQSEvent {
	return events.SQSEvent{Records: msgs}
}

// deleteIDs returns the message ids a DeleteMessageBatch call covers, read back from the
// "rh-<id>" receipt handles sqsMessage builds. It returns nil when the entry ids are not
// the positional ids "0", "1", ...
func deleteIDs(in *sqs.DeleteMessageBatchInput) []string {
	ids := make([]string, 0, len(in.Entries))
	for i, e := range in.Entries {
		if aws.ToString(e.Id) != strconv.Itoa(i) {
			return nil
		}
		ids = append(ids, strings.TrimPrefix(aws.ToString(e.ReceiptHandle), "rh-"))
	}
	return ids
}

// deleteBatchFor matches a DeleteMessageBatch call on queueURL covering exactly ids.
func deleteBatchFor(queueURL string, ids ...string) interface{} {
	return mock.MatchedBy(func(in *sqs.DeleteMessageBatchInput) bool {
		return aws.ToString(in.QueueUrl) == queueURL && fmt.Sprint(deleteIDs(in)) == fmt.Sprint(ids)
	})
}
