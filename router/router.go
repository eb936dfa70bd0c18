// Package router dispatches enveloped queue messages to handlers registered per message
// type and version. A Router plugs into the batch pipeline through Handle:
//
//	r, _ := router.NewRouter(router.EnvelopeSchema)
//	r.Register("user.created", "1.0", onUserCreated)
//	h := lambdapipe.NewSQSHandler(client, r.Handle, lambdapipe.WithDecoder(router.DecodeRaw))
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/hatsunemiku3939/lambdapipe"
	"github.com/hatsunemiku3939/lambdapipe/pkg/jsonschema"
	"github.com/hatsunemiku3939/lambdapipe/policy"
	"github.com/hatsunemiku3939/lambdapipe/types"
	"github.com/xeipuuv/gojsonschema"
)

// ErrNoAction is returned by Handle when a failed message was left without an action.
var ErrNoAction = errors.New("router: no action decided")

// Router routes incoming messages to the correct handler based on message type and version.
// It is safe for concurrent use.
type Router struct {
	mu             sync.RWMutex
	handlers       map[HandlerKey]MessageHandler
	schemas        map[HandlerKey]*gojsonschema.Schema
	envelopeSchema *gojsonschema.Schema

	middlewares   []Middleware
	failurePolicy policy.Policy
	routingPolicy RoutingPolicy
	logger        lambdapipe.Logger
}

// NewRouter creates and initializes a new Router with a given envelope schema.
func NewRouter(envelopeSchema string, opts ...RouterOption) (*Router, error) {
	// Compile the schema upon creation to fail fast.
	compiled, err := jsonschema.NewSchema(jsonschema.NewStringLoader(envelopeSchema))
	if err != nil {
		return nil, fmt.Errorf("invalid envelope schema: %w", err)
	}

	r := &Router{
		handlers:       make(map[HandlerKey]MessageHandler),
		schemas:        make(map[HandlerKey]*gojsonschema.Schema),
		envelopeSchema: compiled,
		failurePolicy:  policy.ImmediateDeletePolicy{},
		routingPolicy:  ExactMatchPolicy{},
		logger:         lambdapipe.DefaultLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// makeKey creates a consistent key for maps from message type and version.
func makeKey(messageType, messageVersion string) HandlerKey {
	return HandlerKey(fmt.Sprintf("%s:%s", messageType, messageVersion))
}

// Register adds a new message handler for a specific message type and version.
func (r *Router) Register(messageType, messageVersion string, handler MessageHandler) {
	key := makeKey(messageType, messageVersion)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[key] = handler
}

// RegisterSchema adds a JSON schema for validating a specific message type and version.
func (r *Router) RegisterSchema(messageType, messageVersion string, schema string) error {
	compiled, err := jsonschema.NewSchema(jsonschema.NewStringLoader(schema))
	if err != nil {
		return fmt.Errorf("invalid schema for %s:%s: %w", messageType, messageVersion, err)
	}

	key := makeKey(messageType, messageVersion)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[key] = compiled
	return nil
}

// Use appends middlewares. The first one registered is the outermost.
func (r *Router) Use(mw ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middlewares = append(r.middlewares, mw...)
}

// DecodeRaw passes the message body to the router untouched, leaving envelope
// validation to Route.
func DecodeRaw(msg events.SQSMessage) (json.RawMessage, error) {
	return json.RawMessage(msg.Body), nil
}

// Handle routes one message body and reports the decided action. A failure that ends with
// no action is returned as an error so the batch pipeline's own policy applies. An
// escalated failure is returned wrapping policy.ErrEscalated so the batch fails.
func (r *Router) Handle(ctx context.Context, raw json.RawMessage) (types.Action, error) {
	rr := r.Route(ctx, raw)
	hr := rr.HandlerResult
	if hr.Error != nil {
		r.logger.Warn(fmt.Sprintf("routing %s:%s (message %q): %v", rr.MessageType, rr.MessageVersion, rr.MessageID, hr.Error))
	}
	if hr.Escalate {
		cause := hr.Error
		if cause == nil {
			cause = ErrNoAction
		}
		return "", fmt.Errorf("%w: %s:%s: %w", policy.ErrEscalated, rr.MessageType, rr.MessageVersion, cause)
	}
	if hr.Action.Valid() {
		return hr.Action, nil
	}
	if hr.Error != nil {
		return "", hr.Error
	}
	return "", ErrNoAction
}

// Route validates and dispatches a raw message to the appropriate registered handler.
func (r *Router) Route(ctx context.Context, rawMessage []byte) (rr RoutedResult) {
	r.mu.RLock()
	mws := slices.Clone(r.middlewares)
	r.mu.RUnlock()

	next := HandlerFunc(r.core)
	for i := len(mws) - 1; i >= 0; i-- {
		next = mws[i](next)
	}

	state := &RouteState{Raw: rawMessage}
	defer func() {
		if p := recover(); p != nil {
			perr := &lambdapipe.PanicError{Value: p, StackTrace: string(debug.Stack())}
			rr = r.fail(ctx, policy.FailHandlerPanic, perr, resultFor(state))
		}
	}()

	rr, err := next(ctx, state)
	if err != nil {
		return r.fail(ctx, policy.FailMiddlewareError, err, rr)
	}
	return rr
}

// core is the innermost HandlerFunc. Every failure point goes through the failure policy.
func (r *Router) core(ctx context.Context, state *RouteState) (RoutedResult, error) {
	// 1. Validate the message against the envelope schema.
	// This ensures the message has the basic structure required for routing.
	result, err := r.envelopeSchema.Validate(gojsonschema.NewBytesLoader(state.Raw))
	if verr := jsonschema.FormatErrors(result, err); verr != nil {
		return r.fail(ctx, policy.FailEnvelopeSchema, fmt.Errorf("invalid envelope: %w", verr), resultFor(state)), nil
	}

	// 2. Unmarshal the envelope to access routing info and payload.
	var envelope MessageEnvelope
	if err := json.Unmarshal(state.Raw, &envelope); err != nil {
		return r.fail(ctx, policy.FailEnvelopeParse, fmt.Errorf("invalid envelope: failed to parse: %w", err), resultFor(state)), nil
	}
	state.Envelope = &envelope

	// 3. Let the routing policy pick a handler among the registered ones.
	r.mu.RLock()
	available := make([]HandlerKey, 0, len(r.handlers))
	for k := range r.handlers {
		available = append(available, k)
	}
	r.mu.RUnlock()
	slices.Sort(available)

	key := r.routingPolicy.Decide(ctx, &envelope, available)
	r.mu.RLock()
	handler, handlerExists := r.handlers[key]
	schema := r.schemas[key]
	r.mu.RUnlock()

	state.HandlerKey, state.Handler, state.Schema = key, handler, schema
	if key == "" || !handlerExists {
		err := fmt.Errorf("no handler registered for %s", makeKey(envelope.MessageType, envelope.MessageVersion))
		return r.fail(ctx, policy.FailNoHandler, err, resultFor(state)), nil
	}

	// 4. If a schema is registered for the selected handler, validate the payload.
	if schema != nil {
		result, err := schema.Validate(gojsonschema.NewBytesLoader(envelope.Message))
		if verr := jsonschema.FormatErrors(result, err); verr != nil {
			return r.fail(ctx, policy.FailPayloadSchema, fmt.Errorf("invalid message payload: %w", verr), resultFor(state)), nil
		}
	}

	// 5. Execute the handler with the validated message payload.
	metaJSON, _ := json.Marshal(envelope.Metadata)
	hr := handler(ctx, envelope.Message, metaJSON)

	rr := resultFor(state)
	rr.HandlerResult = hr
	if hr.Error != nil {
		return r.fail(ctx, policy.FailHandlerError, hr.Error, rr), nil
	}
	if !hr.Action.Valid() {
		rr.HandlerResult.Action = types.Delete
	}
	return rr, nil
}

// fail runs the failure policy over the current result.
func (r *Router) fail(ctx context.Context, kind policy.FailureKind, inner error, rr RoutedResult) RoutedResult {
	res := r.failurePolicy.Decide(ctx, kind, inner, policy.Result{
		Action: rr.HandlerResult.Action,
		Error:  rr.HandlerResult.Error,
	})
	rr.HandlerResult = HandlerResult{Action: res.Action, Error: res.Error, Escalate: res.Escalate}
	return rr
}

// resultFor builds the routing part of a result from whatever the state has resolved so far.
func resultFor(state *RouteState) RoutedResult {
	if state.Envelope == nil {
		return RoutedResult{MessageType: "unknown", MessageVersion: "unknown"}
	}
	env := state.Envelope
	return RoutedResult{
		MessageType:    env.MessageType,
		MessageVersion: env.MessageVersion,
		MessageID:      env.Metadata.MessageID,
		Timestamp:      env.Metadata.Timestamp,
	}
}

// --- Schemas ---

// EnvelopeSchema is the default envelope schema.
var EnvelopeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "schemaVersion": { "type": "string" },
    "messageType": { "type": "string" },
    "messageVersion": { "type": "string" },
    "message": { "type": "object" },
    "metadata": { "type": "object" }
  },
  "required": ["schemaVersion", "messageType", "messageVersion", "message", "metadata"]
}`
