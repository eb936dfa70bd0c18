package lambdapipe

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/hatsunemiku3939/lambdapipe/policy"
	"github.com/hatsunemiku3939/lambdapipe/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type order struct {
	ID   string `json:"id"`
	Fail bool   `json:"fail"`
}

func orderHandler(_ context.Context, o order) (types.Action, error) {
	if o.Fail {
		return "", errors.New("cannot process " + o.ID)
	}
	return types.Delete, nil
}

func threeOrders() events.SQSEvent {
	return sqsEvent(
		sqsMessage("m-1", `{"id":"1"}`),
		sqsMessage("m-2", `{"id":"2","fail":true}`),
		sqsMessage("m-3", `{"id":"3"}`),
	)
}

func actions(outcomes []types.Outcome) []types.Action {
	out := make([]types.Action, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, o.Action)
	}
	return out
}

func TestSQSHandler_FailureDefaultsToDelete(t *testing.T) {
	mockClient := new(MockSQSClient)
	logger := &recordLogger{}
	h := NewSQSHandler(mockClient, orderHandler, WithSQSLogger(logger))

	mockClient.On("DeleteMessageBatch", mock.Anything, deleteBatchFor(testQueueURL, "m-1", "m-2", "m-3")).
		Return(&sqs.DeleteMessageBatchOutput{}, nil).Once()

	outcomes, err := h.Process(context.Background(), threeOrders())

	require.NoError(t, err)
	assert.Equal(t, []types.Action{types.Delete, types.Delete, types.Delete}, actions(outcomes))
	assert.Error(t, outcomes[1].Err)
	assert.Equal(t, 1, logger.count("log"), "the failure is logged")
	mockClient.AssertExpectations(t)
	mockClient.AssertNumberOfCalls(t, "DeleteMessageBatch", 1)
}

func TestSQSHandler_ExceptionHandlerDeadLetters(t *testing.T) {
	mockClient := new(MockSQSClient)
	var causes []error
	h := NewSQSHandler(mockClient, orderHandler,
		WithSQSLogger(&recordLogger{}),
		WithExceptionHandler(func(_ context.Context, msg events.SQSMessage, cause error) types.Action {
			causes = append(causes, cause)
			return types.DeadLetter
		}),
	)

	mockClient.On("DeleteMessageBatch", mock.Anything, deleteBatchFor(testQueueURL, "m-1", "m-3")).
		Return(&sqs.DeleteMessageBatchOutput{}, nil).Once()

	outcomes, err := h.Process(context.Background(), threeOrders())

	require.NoError(t, err)
	assert.Equal(t, []types.Action{types.Delete, types.DeadLetter, types.Delete}, actions(outcomes))
	require.Len(t, causes, 1)
	assert.EqualError(t, causes[0], "cannot process 2")
	mockClient.AssertExpectations(t)
	mockClient.AssertNumberOfCalls(t, "DeleteMessageBatch", 1)
}

func TestSQSHandler_NoAcknowledgment(t *testing.T) {
	tests := []struct {
		name  string
		event events.SQSEvent
	}{
		{name: "empty batch", event: sqsEvent()},
		{name: "all dead-lettered", event: sqsEvent(sqsMessage("m-1", `{"id":"1"}`), sqsMessage("m-2", `{"id":"2"}`))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockClient := new(MockSQSClient)
			h := NewSQSHandler(mockClient, func(context.Context, order) (types.Action, error) {
				return types.DeadLetter, nil
			}, WithSQSLogger(&recordLogger{}))

			outcomes, err := h.Process(context.Background(), tt.event)

			require.NoError(t, err)
			assert.Len(t, outcomes, len(tt.event.Records))
			mockClient.AssertNotCalled(t, "DeleteMessageBatch", mock.Anything, mock.Anything)
		})

		t.Run(tt.name+" with a custom acknowledger", func(t *testing.T) {
			ack := &countingAck{}
			h := NewSQSHandler(nil, func(context.Context, order) (types.Action, error) {
				return types.DeadLetter, nil
			}, WithAcknowledger(ack), WithSQSLogger(&recordLogger{}))

			_, err := h.Process(context.Background(), tt.event)

			require.NoError(t, err)
			assert.Zero(t, ack.calls)
		})
	}
}

type countingAck struct{ calls int }

func (a *countingAck) Acknowledge(context.Context, []events.SQSMessage) error {
	a.calls++
	return nil
}

func TestSQSHandler_FailureKinds(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		handler  SQSHandlerFunc[order]
		wantKind policy.FailureKind
		wantIs   error
	}{
		{
			name:     "malformed body",
			body:     `{"id":`,
			handler:  orderHandler,
			wantKind: policy.FailDecode,
			wantIs:   ErrMalformedInput,
		},
		{
			name:     "handler error",
			body:     `{"id":"1","fail":true}`,
			handler:  orderHandler,
			wantKind: policy.FailHandlerError,
		},
		{
			name: "handler panic",
			body: `{"id":"1"}`,
			handler: func(context.Context, order) (types.Action, error) {
				panic("nil pointer somewhere")
			},
			wantKind: policy.FailHandlerPanic,
			wantIs:   ErrHandlerPanic,
		},
		{
			name: "unknown action",
			body: `{"id":"1"}`,
			handler: func(context.Context, order) (types.Action, error) {
				return types.Action("ARCHIVE"), nil
			},
			wantKind: policy.FailUnknownAction,
			wantIs:   ErrUnknownAction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotKind policy.FailureKind
			spy := policyFunc(func(_ context.Context, kind policy.FailureKind, inner error, cur policy.Result) policy.Result {
				gotKind = kind
				cur.Action = types.DeadLetter
				cur.Error = inner
				return cur
			})

			h := NewSQSHandler(new(MockSQSClient), tt.handler, WithFailurePolicy(spy), WithSQSLogger(&recordLogger{}))
			outcomes, err := h.Process(context.Background(), sqsEvent(sqsMessage("m-1", tt.body)))

			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, gotKind)
			assert.Equal(t, types.DeadLetter, outcomes[0].Action)
			if tt.wantIs != nil {
				assert.ErrorIs(t, outcomes[0].Err, tt.wantIs)
			}
		})
	}
}

type policyFunc func(ctx context.Context, kind policy.FailureKind, inner error, current policy.Result) policy.Result

func (f policyFunc) Decide(ctx context.Context, kind policy.FailureKind, inner error, current policy.Result) policy.Result {
	return f(ctx, kind, inner, current)
}

func TestSQSHandler_FailBatchPolicy(t *testing.T) {
	mockClient := new(MockSQSClient)
	h := NewSQSHandler(mockClient, orderHandler, WithFailurePolicy(policy.FailBatchPolicy{}), WithSQSLogger(&recordLogger{}))

	mockClient.On("DeleteMessageBatch", mock.Anything, deleteBatchFor(testQueueURL, "m-1", "m-3")).
		Return(&sqs.DeleteMessageBatchOutput{}, nil).Once()

	err := h.Handle(context.Background(), threeOrders())

	require.ErrorIs(t, err, ErrBatchFailed)
	assert.Contains(t, err.Error(), "m-2")
	mockClient.AssertExpectations(t)
}

func TestSQSHandler_RedrivePolicyKeepsFailuresOnQueue(t *testing.T) {
	mockClient := new(MockSQSClient)
	h := NewSQSHandler(mockClient, orderHandler, WithFailurePolicy(policy.SQSRedrivePolicy{}), WithSQSLogger(&recordLogger{}))

	mockClient.On("DeleteMessageBatch", mock.Anything, deleteBatchFor(testQueueURL, "m-1", "m-3")).
		Return(&sqs.DeleteMessageBatchOutput{}, nil).Once()

	outcomes, err := h.Process(context.Background(), threeOrders())

	require.NoError(t, err)
	assert.Equal(t, []types.Action{types.Delete, types.DeadLetter, types.Delete}, actions(outcomes))
	mockClient.AssertExpectations(t)
}

func TestSQSHandler_ExceptionHandlerPrecedence(t *testing.T) {
	tests := []struct {
		name       string
		exception  ExceptionHandler
		wantAction types.Action
	}{
		{
			name:       "exception handler wins over policy",
			exception:  func(context.Context, events.SQSMessage, error) types.Action { return types.Delete },
			wantAction: types.Delete,
		},
		{
			name:       "invalid action defers to policy",
			exception:  func(context.Context, events.SQSMessage, error) types.Action { return "" },
			wantAction: types.DeadLetter,
		},
		{
			name:       "panicking exception handler defers to policy",
			exception:  func(context.Context, events.SQSMessage, error) types.Action { panic("bad hook") },
			wantAction: types.DeadLetter,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewSQSHandler(new(MockSQSClient), orderHandler,
				WithFailurePolicy(policy.SQSRedrivePolicy{}),
				WithExceptionHandler(tt.exception),
				WithAcknowledger(nopAck{}),
				WithSQSLogger(&recordLogger{}),
			)

			outcomes, err := h.Process(context.Background(), sqsEvent(sqsMessage("m-2", `{"id":"2","fail":true}`)))

			require.NoError(t, err)
			assert.Equal(t, tt.wantAction, outcomes[0].Action)
		})
	}
}

type nopAck struct{}

func (nopAck) Acknowledge(context.Context, []events.SQSMessage) error { return nil }

func TestSQSHandler_DeadLetterQueue(t *testing.T) {
	mockClient := new(MockSQSClient)
	h := NewSQSHandler(mockClient, orderHandler,
		WithFailurePolicy(policy.SQSRedrivePolicy{}),
		WithDeadLetterQueue(testDLQURL),
		WithSQSLogger(&recordLogger{}),
	)

	mockClient.On("SendMessageBatch", mock.Anything, mock.MatchedBy(func(in *sqs.SendMessageBatchInput) bool {
		return aws.ToString(in.QueueUrl) == testDLQURL && len(in.Entries) == 1 && aws.ToString(in.Entries[0].MessageBody) == `{"id":"2","fail":true}`
	})).Return(&sqs.SendMessageBatchOutput{}, nil).Once()

	// Forwarded messages are removed from the source queue in the same call.
	mockClient.On("DeleteMessageBatch", mock.Anything, deleteBatchFor(testQueueURL, "m-1", "m-3", "m-2")).
		Return(&sqs.DeleteMessageBatchOutput{}, nil).Once()

	outcomes, err := h.Process(context.Background(), threeOrders())

	require.NoError(t, err)
	assert.Equal(t, []types.Action{types.Delete, types.DeadLetter, types.Delete}, actions(outcomes))
	mockClient.AssertExpectations(t)
}

func TestSQSHandler_DeadLetterQueueFailureKeepsMessage(t *testing.T) {
	mockClient := new(MockSQSClient)
	h := NewSQSHandler(mockClient, orderHandler,
		WithFailurePolicy(policy.SQSRedrivePolicy{}),
		WithDeadLetterQueue(testDLQURL),
		WithSQSLogger(&recordLogger{}),
	)

	mockClient.On("SendMessageBatch", mock.Anything, mock.Anything).Return(&sqs.SendMessageBatchOutput{
		Failed: []sqstypes.BatchResultErrorEntry{{Id: aws.String("0"), Code: aws.String("InternalError")}},
	}, nil).Once()
	mockClient.On("DeleteMessageBatch", mock.Anything, deleteBatchFor(testQueueURL, "m-1", "m-3")).
		Return(&sqs.DeleteMessageBatchOutput{}, nil).Once()

	err := h.Handle(context.Background(), threeOrders())

	assert.ErrorIs(t, err, ErrDeadLetterFailed)
	mockClient.AssertExpectations(t)
}

func TestSQSHandler_AckFailureIsReturned(t *testing.T) {
	mockClient := new(MockSQSClient)
	logger := &recordLogger{}
	h := NewSQSHandler(mockClient, orderHandler, WithSQSLogger(logger))

	mockClient.On("DeleteMessageBatch", mock.Anything, mock.Anything).Return(nil, errors.New("throttled")).Once()

	err := h.Handle(context.Background(), sqsEvent(sqsMessage("m-1", `{"id":"1"}`)))

	assert.ErrorIs(t, err, ErrAckFailed)
	assert.Equal(t, 1, logger.count("error"))
}

func TestSQSHandler_Deduplicator(t *testing.T) {
	firstOnly := DedupeFunc(func(_ context.Context, msgs []events.SQSMessage) ([]events.SQSMessage, []events.SQSMessage) {
		return msgs[:1], msgs[1:]
	})

	t.Run("duplicate is removed with its original", func(t *testing.T) {
		mockClient := new(MockSQSClient)
		seen := 0
		h := NewSQSHandler(mockClient, func(context.Context, order) (types.Action, error) {
			seen++
			return types.Delete, nil
		}, WithSQSLogger(&recordLogger{}), WithDeduplicator(firstOnly))

		mockClient.On("DeleteMessageBatch", mock.Anything, deleteBatchFor(testQueueURL, "m-1", "m-1")).
			Return(&sqs.DeleteMessageBatchOutput{}, nil).Once()

		outcomes, err := h.Process(context.Background(), sqsEvent(sqsMessage("m-1", `{"id":"1"}`), sqsMessage("m-1", `{"id":"1"}`)))

		require.NoError(t, err)
		assert.Len(t, outcomes, 1)
		assert.Equal(t, 1, seen)
		mockClient.AssertExpectations(t)
	})

	t.Run("duplicate stays while its original stays", func(t *testing.T) {
		ack := &countingAck{}
		h := NewSQSHandler(nil, func(context.Context, order) (types.Action, error) {
			return types.DeadLetter, nil
		}, WithAcknowledger(ack), WithSQSLogger(&recordLogger{}), WithDeduplicator(firstOnly))

		_, err := h.Process(context.Background(), sqsEvent(sqsMessage("m-1", `{"id":"1"}`), sqsMessage("m-1", `{"id":"1"}`)))

		require.NoError(t, err)
		assert.Zero(t, ack.calls)
	})

	t.Run("settler sees what was removed", func(t *testing.T) {
		mockClient := new(MockSQSClient)
		settler := &recordingSettler{}
		h := NewSQSHandler(mockClient, orderHandler, WithSQSLogger(&recordLogger{}), WithDeduplicator(settler))

		mockClient.On("DeleteMessageBatch", mock.Anything, deleteBatchFor(testQueueURL, "m-1", "m-2", "m-3")).
			Return(&sqs.DeleteMessageBatchOutput{}, nil).Once()

		_, err := h.Process(context.Background(), threeOrders())

		require.NoError(t, err)
		assert.Len(t, settler.kept, 3)
		assert.Len(t, settler.removed, 3)
	})

	t.Run("settler sees nothing removed when acknowledgment fails", func(t *testing.T) {
		mockClient := new(MockSQSClient)
		settler := &recordingSettler{}
		h := NewSQSHandler(mockClient, orderHandler, WithSQSLogger(&recordLogger{}), WithDeduplicator(settler))

		mockClient.On("DeleteMessageBatch", mock.Anything, mock.Anything).Return(nil, errors.New("throttled")).Once()

		err := h.Handle(context.Background(), threeOrders())

		require.ErrorIs(t, err, ErrAckFailed)
		assert.Len(t, settler.kept, 3)
		assert.Empty(t, settler.removed)
	})
}

type recordingSettler struct {
	kept, removed []events.SQSMessage
}

func (s *recordingSettler) Filter(_ context.Context, msgs []events.SQSMessage) ([]events.SQSMessage, []events.SQSMessage) {
	return msgs, nil
}

func (s *recordingSettler) Settle(_ context.Context, kept, removed []events.SQSMessage) {
	s.kept, s.removed = kept, removed
}

func TestSQSHandler_EscalatedErrorFailsBatch(t *testing.T) {
	ack := &countingAck{}
	h := NewSQSHandler(nil, func(_ context.Context, o order) (types.Action, error) {
		if o.Fail {
			return "", fmt.Errorf("%w: order %s", policy.ErrEscalated, o.ID)
		}
		return types.Delete, nil
	}, WithAcknowledger(ack), WithSQSLogger(&recordLogger{}))

	outcomes, err := h.Process(context.Background(), threeOrders())

	require.ErrorIs(t, err, ErrBatchFailed)
	assert.Equal(t, []types.Action{types.Delete, types.DeadLetter, types.Delete}, actions(outcomes))
	assert.Equal(t, 1, ack.calls)
}

func TestSQSHandler_LoggingPolicy(t *testing.T) {
	logger := &recordLogger{}
	h := NewSQSHandler(nil, func(_ context.Context, o order) (types.Action, error) {
		if o.Fail {
			return "", NotFound("order " + o.ID)
		}
		return "", errors.New("db down")
	}, WithAcknowledger(nopAck{}), WithSQSLogger(logger), WithSQSLoggingPolicy(LogStatus(500)))

	_, err := h.Process(context.Background(), sqsEvent(
		sqsMessage("m-1", `{"id":"1","fail":true}`),
		sqsMessage("m-2", `{"id":"2"}`),
	))

	require.NoError(t, err)
	assert.Equal(t, 1, logger.count("log"), "only the unclassified failure maps to 500")
}

func TestNewSQSHandler_Panics(t *testing.T) {
	assert.Panics(t, func() { NewSQSHandler[order](new(MockSQSClient), nil) })
	assert.Panics(t, func() { NewSQSHandler(nil, orderHandler) }, "needs a client or an acknowledger")
	assert.Panics(t, func() {
		NewSQSHandler(new(MockSQSClient), orderHandler, WithDecoder[string](DecodeMessageBody))
	}, "decoder type must match")
}
