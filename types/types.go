package types

import (
	"fmt"

	"github.com/aws/aws-lambda-go/events"
)

// Action tells the batch pipeline what to do with a message once its unit of work is done.
type Action string

const (
	// Delete removes the message from its source queue.
	Delete Action = "DELETE"
	// DeadLetter keeps the message out of the acknowledgment call. It is either forwarded to a
	// configured dead-letter queue or left for the platform's own redrive.
	DeadLetter Action = "DEAD_LETTER"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	return a == Delete || a == DeadLetter
}

func (a Action) String() string { return string(a) }

// ParseAction converts a textual action, as found in configuration, into an Action.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", fmt.Errorf("unknown action %q", s)
	}
	return a, nil
}

// Outcome is the per-message decision produced by the batch pipeline.
type Outcome struct {
	Message events.SQSMessage
	Action  Action
	// Err holds the failure that produced this outcome, nil on success.
	Err error
}
