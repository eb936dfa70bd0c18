package policy

import (
	"context"

	"github.com/hatsunemiku3939/lambdapipe/types"
)

// FailureKind enumerates where in the per-message unit of work a failure occurred.
type FailureKind int

const (
	// FailNone indicates no failure occurred.
	FailNone FailureKind = iota
	// FailDecode indicates the message body could not be decoded.
	FailDecode
	// FailHandlerError indicates the user handler returned a non-nil error.
	FailHandlerError
	// FailHandlerPanic indicates a panic occurred inside the decoder or the user handler.
	FailHandlerPanic
	// FailUnknownAction indicates the handler returned an action the pipeline does not know.
	FailUnknownAction
	// FailEnvelopeSchema indicates the outer envelope JSON failed schema validation.
	FailEnvelopeSchema
	// FailEnvelopeParse indicates the outer envelope JSON could not be parsed.
	FailEnvelopeParse
	// FailPayloadSchema indicates the inner message payload failed its registered schema validation.
	FailPayloadSchema
	// FailNoHandler indicates no handler was registered or selected for the message.
	FailNoHandler
	// FailMiddlewareError indicates an error was returned by the middleware-wrapped core pipeline.
	FailMiddlewareError
)

func (k FailureKind) String() string {
	switch k {
	case FailNone:
		return "none"
	case FailDecode:
		return "decode"
	case FailHandlerError:
		return "handler_error"
	case FailHandlerPanic:
		return "handler_panic"
	case FailUnknownAction:
		return "unknown_action"
	case FailEnvelopeSchema:
		return "envelope_schema"
	case FailEnvelopeParse:
		return "envelope_parse"
	case FailPayloadSchema:
		return "payload_schema"
	case FailNoHandler:
		return "no_handler"
	case FailMiddlewareError:
		return "middleware_error"
	default:
		return "unknown"
	}
}

// Result is the action to take for a failed message and the error to attach to it.
type Result struct {
	Action types.Action
	Error  error
	// Escalate asks the pipeline to fail the whole batch once every message has settled.
	Escalate bool
}

// Policy decides the final Result given a failure classification and current decision.
type Policy interface {
	Decide(ctx context.Context, kind FailureKind, inner error, current Result) Result
}
