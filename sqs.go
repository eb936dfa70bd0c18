package lambdapipe

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/hatsunemiku3939/lambdapipe/policy"
	"github.com/hatsunemiku3939/lambdapipe/types"
)

// SQSHandlerFunc is the business function behind a batch entry point. It returns the action
// to take for one message.
type SQSHandlerFunc[T any] func(ctx context.Context, payload T) (types.Action, error)

// SQSHandler adapts an SQSHandlerFunc to the SQS event source contract.
// It is safe for concurrent use.
type SQSHandler[T any] struct {
	handler    SQSHandlerFunc[T]
	decode     MessageDecoder[T]
	ack        MessageAcknowledger
	deadLetter *DeadLetterForwarder
	cfg        sqsConfig
}

// settled is the per-message result collected before acknowledgment.
type settled struct {
	outcome  types.Outcome
	escalate bool
}

// NewSQSHandler builds a batch entry point that acknowledges through client.
// It panics if handler is nil or if a typed option does not match T.
func NewSQSHandler[T any](client SQSClient, handler SQSHandlerFunc[T], opts ...SQSOption) *SQSHandler[T] {
	if handler == nil {
		panic("lambdapipe: nil sqs handler")
	}
	cfg := defaultSQSConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &SQSHandler[T]{
		handler: handler,
		decode:  DecodeMessageJSON[T],
		ack:     cfg.ack,
		cfg:     cfg,
	}
	if h.ack == nil {
		if client == nil {
			panic("lambdapipe: sqs handler needs a client or an acknowledger")
		}
		ackOpts := append([]AckOption{WithAckLogger(cfg.logger)}, cfg.ackOpts...)
		h.ack = NewAcknowledger(client, ackOpts...)
	}
	if cfg.deadLetterURL != "" {
		if client == nil {
			panic("lambdapipe: dead-letter queue needs a client")
		}
		h.deadLetter = NewDeadLetterForwarder(client, cfg.deadLetterURL, cfg.logger)
	}
	if cfg.decoder != nil {
		d, ok := cfg.decoder.(MessageDecoder[T])
		if !ok {
			panic(fmt.Sprintf("lambdapipe: decoder type %T does not match payload type", cfg.decoder))
		}
		h.decode = d
	}
	return h
}

// Handle processes one batch. Per-message failures never fail the batch unless the
// failure policy escalates them; the returned error reports acknowledgment,
// dead-letter forwarding or escalated failures.
func (h *SQSHandler[T]) Handle(ctx context.Context, event events.SQSEvent) error {
	_, err := h.Process(ctx, event)
	return err
}

// Start hands the entry point to the Lambda runtime. It does not return.
func (h *SQSHandler[T]) Start() {
	lambda.Start(h.Handle)
}

// Process runs every message of the batch concurrently, waits for all of them to settle,
// then acknowledges the DELETE set. Outcomes are returned in record order, after
// deduplication.
func (h *SQSHandler[T]) Process(ctx context.Context, event events.SQSEvent) ([]types.Outcome, error) {
	logger := loggerWith(h.cfg.logger, "request_id", requestID(ctx))
	records, duplicates := h.cfg.dedupe.Filter(ctx, event.Records)

	results := make([]settled, len(records))
	var wg sync.WaitGroup
	for i, rec := range records {
		wg.Add(1)
		go func(i int, rec events.SQSMessage) {
			defer wg.Done()
			results[i] = h.processMessage(ctx, logger, rec)
		}(i, rec)
	}
	wg.Wait()

	outcomes := make([]types.Outcome, len(results))
	var (
		toDelete    []events.SQSMessage
		deadLetters []events.SQSMessage
		escalated   []error
	)
	for i, r := range results {
		outcomes[i] = r.outcome
		switch r.outcome.Action {
		case types.Delete:
			toDelete = append(toDelete, r.outcome.Message)
		case types.DeadLetter:
			deadLetters = append(deadLetters, r.outcome.Message)
		}
		if r.escalate {
			escalated = append(escalated, fmt.Errorf("message %s: %w", r.outcome.Message.MessageId, r.outcome.Err))
		}
	}

	var errs []error
	if h.deadLetter != nil && len(deadLetters) > 0 {
		forwarded, err := h.deadLetter.Forward(ctx, deadLetters)
		if err != nil {
			errs = append(errs, err)
		}
		toDelete = append(toDelete, forwarded...)
	}
	removed := toDelete
	toDelete = append(toDelete, duplicatesToRemove(records, removed, duplicates)...)

	if len(toDelete) > 0 {
		if err := h.ack.Acknowledge(ctx, toDelete); err != nil {
			logger.Error(err.Error())
			errs = append(errs, err)
			removed = nil
		}
	}
	if s, ok := h.cfg.dedupe.(Settler); ok {
		s.Settle(ctx, records, removed)
	}

	if len(escalated) > 0 {
		errs = append(errs, fmt.Errorf("%w: %d of %d messages: %w", ErrBatchFailed, len(escalated), len(records), errors.Join(escalated...)))
	}
	return outcomes, errors.Join(errs...)
}

// duplicatesToRemove picks the duplicates whose original was removed, or is not part of
// the batch at all.
func duplicatesToRemove(records, removed, duplicates []events.SQSMessage) []events.SQSMessage {
	if len(duplicates) == 0 {
		return nil
	}
	kept := make(map[string]bool, len(records))
	for _, m := range records {
		kept[m.MessageId] = false
	}
	for _, m := range removed {
		kept[m.MessageId] = true
	}
	var out []events.SQSMessage
	for _, d := range duplicates {
		if gone, ok := kept[d.MessageId]; !ok || gone {
			out = append(out, d)
		}
	}
	return out
}

func (h *SQSHandler[T]) processMessage(ctx context.Context, logger Logger, msg events.SQSMessage) settled {
	action, kind, err := h.invoke(ctx, msg)
	if kind == policy.FailNone {
		return settled{outcome: types.Outcome{Message: msg, Action: action}}
	}

	logError(logger, h.cfg.loggingPolicy, err)

	if h.cfg.exceptionHandler != nil {
		if a := h.callExceptionHandler(ctx, msg, err); a.Valid() {
			return settled{outcome: types.Outcome{Message: msg, Action: a, Err: err}}
		}
	}

	// A failure already escalated by an inner policy keeps the message and fails the batch.
	if errors.Is(err, policy.ErrEscalated) {
		return settled{outcome: types.Outcome{Message: msg, Action: types.DeadLetter, Err: err}, escalate: true}
	}

	res := h.cfg.failurePolicy.Decide(ctx, kind, err, policy.Result{Action: types.Delete})
	if !res.Action.Valid() {
		res.Action = types.Delete
	}
	if res.Error == nil {
		res.Error = err
	}
	return settled{
		outcome:  types.Outcome{Message: msg, Action: res.Action, Err: res.Error},
		escalate: res.Escalate,
	}
}

// invoke decodes msg and runs the handler. Decoding strictly precedes the handler call.
func (h *SQSHandler[T]) invoke(ctx context.Context, msg events.SQSMessage) (action types.Action, kind policy.FailureKind, err error) {
	defer func() {
		if r := recover(); r != nil {
			action, kind = "", policy.FailHandlerPanic
			err = &PanicError{Value: r, StackTrace: string(debug.Stack())}
		}
	}()

	payload, err := h.decode(msg)
	if err != nil {
		return "", policy.FailDecode, err
	}

	action, err = h.handler(ctx, payload)
	if err != nil {
		return "", policy.FailHandlerError, err
	}
	if !action.Valid() {
		return "", policy.FailUnknownAction, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return action, policy.FailNone, nil
}

func (h *SQSHandler[T]) callExceptionHandler(ctx context.Context, msg events.SQSMessage, cause error) (a types.Action) {
	defer func() {
		if r := recover(); r != nil {
			a = ""
		}
	}()
	return h.cfg.exceptionHandler(ctx, msg, cause)
}
