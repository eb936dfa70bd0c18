package policy

import (
	"context"

	"github.com/hatsunemiku3939/lambdapipe/types"
)

// SQSRedrivePolicy dead-letters failed messages. Unless a dead-letter queue is configured on
// the pipeline they stay on the source queue, so the queue's redrive policy handles
// retries and the move to its DLQ.
type SQSRedrivePolicy struct{}

// Decide implements the Policy interface for SQS redrive delegation.
func (p SQSRedrivePolicy) Decide(_ context.Context, kind FailureKind, inner error, current Result) Result {
	if kind == FailNone {
		return current
	}
	current.Action = types.DeadLetter
	if inner != nil && current.Error == nil {
		current.Error = inner
	}
	return current
}
