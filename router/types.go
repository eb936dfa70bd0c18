package router

import (
	"context"
	"encoding/json"

	"github.com/hatsunemiku3939/lambdapipe/types"
	"github.com/xeipuuv/gojsonschema"
)

// MessageEnvelope is the outer layer of a routed message. It carries the routing
// information and the actual message payload.
type MessageEnvelope struct {
	SchemaVersion  string          `json:"schemaVersion"`
	MessageType    string          `json:"messageType"`
	MessageVersion string          `json:"messageVersion"`
	Message        json.RawMessage `json:"message"`
	Metadata       MessageMetadata `json:"metadata"`
}

// MessageMetadata holds common metadata found in every message.
type MessageMetadata struct {
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
	MessageID string `json:"messageId"`
}

// HandlerResult is what a MessageHandler decided for one message.
type HandlerResult struct {
	// Action is DELETE once the message is done with, or DEAD_LETTER to leave it for
	// redelivery. A nil Error with no Action means the message was processed.
	Action types.Action
	// Error contains any error that occurred during processing. nil for success.
	Error error
	// Escalate is set by the failure policy when the whole batch should fail.
	Escalate bool
}

// RoutedResult contains the complete result after a message has been routed and handled.
type RoutedResult struct {
	MessageType    string
	MessageVersion string
	HandlerResult  HandlerResult
	MessageID      string
	Timestamp      string
}

// MessageHandler processes a specific message type and version.
// It receives the message payload and metadata as raw JSON bytes.
type MessageHandler func(ctx context.Context, messageJSON []byte, metadataJSON []byte) HandlerResult

// HandlerKey identifies a registered handler as "messageType:messageVersion".
type HandlerKey string

// RoutingPolicy selects the handler for an envelope among the registered keys. An empty
// key means no handler applies.
type RoutingPolicy interface {
	Decide(ctx context.Context, envelope *MessageEnvelope, available []HandlerKey) HandlerKey
}

// RouteState carries per-message routing context through the middleware and core routing pipeline.
type RouteState struct {
	Raw        []byte
	Envelope   *MessageEnvelope
	HandlerKey HandlerKey
	Handler    MessageHandler
	Schema     *gojsonschema.Schema
}

// HandlerFunc is the function signature wrapped by middlewares.
type HandlerFunc func(ctx context.Context, state *RouteState) (RoutedResult, error)

// Middleware composes cross-cutting concerns around the routing core, forming a chain of HandlerFunc.
// Typical use cases: logging, tracing, auth, and failure policy adjustments.
type Middleware func(next HandlerFunc) HandlerFunc
