package lambdapipe

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
)

// Input is what a request handler receives.
type Input[Req any] struct {
	Payload Req
	Event   events.APIGatewayProxyRequest
}

// HTTPHandlerFunc is the business function behind a request entry point.
type HTTPHandlerFunc[Req any] func(ctx context.Context, in Input[Req]) (Result, error)

// Validator checks, and may replace, a decoded payload.
type Validator[Req any] func(ctx context.Context, payload Req) (Req, error)

// HTTPHandler adapts an HTTPHandlerFunc to the API Gateway proxy contract.
// It is safe for concurrent use.
type HTTPHandler[Req any] struct {
	handler   HTTPHandlerFunc[Req]
	validator Validator[Req]
	decode    InputDecoder[Req]
	cfg       httpConfig
}

// NewHTTPHandler builds a request entry point. Options are resolved here, once.
// It panics if handler is nil or if a typed option does not match Req.
func NewHTTPHandler[Req any](handler HTTPHandlerFunc[Req], opts ...HTTPOption) *HTTPHandler[Req] {
	if handler == nil {
		panic("lambdapipe: nil http handler")
	}
	cfg := defaultHTTPConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &HTTPHandler[Req]{
		handler: handler,
		decode:  DecodeJSON[Req],
		cfg:     cfg,
	}
	if cfg.validator != nil {
		v, ok := cfg.validator.(Validator[Req])
		if !ok {
			panic(fmt.Sprintf("lambdapipe: validator type %T does not match payload type", cfg.validator))
		}
		h.validator = v
	}
	if cfg.decoder != nil {
		d, ok := cfg.decoder.(InputDecoder[Req])
		if !ok {
			panic(fmt.Sprintf("lambdapipe: decoder type %T does not match payload type", cfg.decoder))
		}
		h.decode = d
	}
	return h
}

// Handle runs one request through decode, validate, invoke and normalize. It always
// returns a well-formed response and a nil error.
func (h *HTTPHandler[Req]) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	resp, err := h.run(ctx, event)
	if err == nil {
		return resp, nil
	}
	logger := loggerWith(h.cfg.logger, "request_id", requestID(ctx))
	logError(logger, h.cfg.loggingPolicy, err)
	return h.cfg.mapErrorSafe(err), nil
}

// Start hands the entry point to the Lambda runtime. It does not return.
func (h *HTTPHandler[Req]) Start() {
	lambda.Start(h.Handle)
}

func (h *HTTPHandler[Req]) run(ctx context.Context, event events.APIGatewayProxyRequest) (resp events.APIGatewayProxyResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, StackTrace: string(debug.Stack())}
		}
	}()

	payload, err := h.decode(event)
	if err != nil {
		return resp, err
	}

	if h.validator != nil {
		payload, err = h.validator(ctx, payload)
		if err != nil {
			return resp, err
		}
	}

	res, err := h.handler(ctx, Input[Req]{Payload: payload, Event: event})
	if err != nil {
		return resp, err
	}

	return normalize(res, h.cfg.defaultStatus, h.cfg.defaultHeaders, h.cfg.encode)
}

// mapErrorSafe falls back to MapError if a custom mapper panics.
func (c httpConfig) mapErrorSafe(err error) (resp events.APIGatewayProxyResponse) {
	defer func() {
		if r := recover(); r != nil {
			resp = MapError(err, c.defaultHeaders)
		}
	}()
	return c.mapError(err, c.defaultHeaders)
}

// requestID returns the Lambda request id, or a fresh one outside the Lambda runtime.
func requestID(ctx context.Context) string {
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		return lc.AwsRequestID
	}
	return uuid.NewString()
}
