package router

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/hatsunemiku3939/lambdapipe"
	"github.com/hatsunemiku3939/lambdapipe/policy"
	"github.com/hatsunemiku3939/lambdapipe/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAck struct{ calls [][]string }

func (a *recordingAck) Acknowledge(_ context.Context, msgs []events.SQSMessage) error {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.MessageId)
	}
	a.calls = append(a.calls, ids)
	return nil
}

func TestRouter_InBatchPipeline(t *testing.T) {
	message := func(id, payload string) events.SQSMessage {
		return events.SQSMessage{MessageId: id, Body: string(createTestMessage(testMessageType, testMessageVersion, payload))}
	}
	failing := `{"userId": "fail", "username": "x"}`
	event := events.SQSEvent{Records: []events.SQSMessage{
		message("m-1", validPayload),
		message("m-2", failing),
	}}
	handler := func(_ context.Context, msg, _ []byte) HandlerResult {
		var p struct {
			UserID string `json:"userId"`
		}
		_ = json.Unmarshal(msg, &p)
		if p.UserID == "fail" {
			return HandlerResult{Error: assert.AnError}
		}
		return HandlerResult{Action: types.Delete}
	}

	t.Run("fail-batch policy fails the batch after deleting the rest", func(t *testing.T) {
		r := newTestRouter(t, WithFailurePolicy(policy.FailBatchPolicy{}))
		r.Register(testMessageType, testMessageVersion, handler)
		ack := &recordingAck{}
		h := lambdapipe.NewSQSHandler[json.RawMessage](nil, r.Handle,
			lambdapipe.WithDecoder[json.RawMessage](DecodeRaw),
			lambdapipe.WithAcknowledger(ack),
			lambdapipe.WithSQSLogger(nopLogger{}),
		)

		outcomes, err := h.Process(context.Background(), event)

		require.ErrorIs(t, err, lambdapipe.ErrBatchFailed)
		assert.ErrorIs(t, err, policy.ErrEscalated)
		require.Len(t, outcomes, 2)
		assert.Equal(t, types.Delete, outcomes[0].Action)
		assert.Equal(t, types.DeadLetter, outcomes[1].Action)
		assert.Equal(t, [][]string{{"m-1"}}, ack.calls)
	})

	t.Run("default policy deletes without failing the batch", func(t *testing.T) {
		r := newTestRouter(t)
		r.Register(testMessageType, testMessageVersion, handler)
		ack := &recordingAck{}
		h := lambdapipe.NewSQSHandler[json.RawMessage](nil, r.Handle,
			lambdapipe.WithDecoder[json.RawMessage](DecodeRaw),
			lambdapipe.WithAcknowledger(ack),
			lambdapipe.WithSQSLogger(nopLogger{}),
		)

		_, err := h.Process(context.Background(), event)

		require.NoError(t, err)
		assert.Equal(t, [][]string{{"m-1", "m-2"}}, ack.calls)
	})
}
