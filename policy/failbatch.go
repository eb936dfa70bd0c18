package policy

import (
	"context"
	"errors"

	"github.com/hatsunemiku3939/lambdapipe/types"
)

// ErrEscalated marks the error of a message whose failure was escalated by a policy that
// ran before the batch pipeline's own, such as a router's. The pipeline keeps the message
// and fails the batch.
var ErrEscalated = errors.New("failure escalated")

// FailBatchPolicy keeps failed messages on the queue and makes the batch return an error
// after the successful messages have been acknowledged.
type FailBatchPolicy struct{}

// Decide implements FailBatchPolicy behavior.
func (p FailBatchPolicy) Decide(_ context.Context, kind FailureKind, inner error, current Result) Result {
	if kind == FailNone {
		return current
	}
	current.Action = types.DeadLetter
	current.Escalate = true
	if inner != nil && current.Error == nil {
		current.Error = inner
	}
	return current
}

// ByName returns the policy registered under name: "delete", "redrive" or "fail".
func ByName(name string) (Policy, bool) {
	switch name {
	case "delete", "":
		return ImmediateDeletePolicy{}, true
	case "redrive", "dead_letter":
		return SQSRedrivePolicy{}, true
	case "fail":
		return FailBatchPolicy{}, true
	default:
		return nil, false
	}
}
