package policy

import (
	"context"

	"github.com/hatsunemiku3939/lambdapipe/types"
)

// ImmediateDeletePolicy deletes a message whose unit of work failed. A poison message then
// cannot block the queue, but it is dropped unless an exception handler intervenes first.
//
// Handler and middleware errors keep an action the handler already chose; every other
// failure is structural and always deletes.
type ImmediateDeletePolicy struct{}

// Decide implements ImmediateDeletePolicy behavior.
func (p ImmediateDeletePolicy) Decide(_ context.Context, kind FailureKind, inner error, current Result) Result {
	switch kind {
	case FailNone:
		return current
	case FailHandlerError, FailMiddlewareError:
		if !current.Action.Valid() {
			current.Action = types.Delete
		}
	default:
		current.Action = types.Delete
	}
	if inner != nil && current.Error == nil {
		current.Error = inner
	}
	return current
}
