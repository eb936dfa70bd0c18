package lambdapipe

import (
	"context"
	"runtime/debug"

	"github.com/aws/aws-lambda-go/events"
)

// RawHTTPFunc is an API Gateway proxy function in the shape the Lambda runtime calls.
type RawHTTPFunc func(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error)

// Recover wraps an existing proxy function that does its own decoding and response
// building. A returned error or a panic is logged through the logging policy and mapped by
// the configured ErrorMapper; successful responses pass through untouched.
func Recover(fn RawHTTPFunc, opts ...HTTPOption) RawHTTPFunc {
	if fn == nil {
		panic("lambdapipe: nil http function")
	}
	cfg := defaultHTTPConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		resp, err := callRaw(ctx, fn, event)
		if err == nil {
			return resp, nil
		}
		logError(loggerWith(cfg.logger, "request_id", requestID(ctx)), cfg.loggingPolicy, err)
		return cfg.mapErrorSafe(err), nil
	}
}

func callRaw(ctx context.Context, fn RawHTTPFunc, event events.APIGatewayProxyRequest) (resp events.APIGatewayProxyResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, StackTrace: string(debug.Stack())}
		}
	}()
	return fn(ctx, event)
}
