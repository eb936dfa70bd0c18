package lambdapipe

import (
	"maps"

	"github.com/aws/aws-lambda-go/events"
)

type resultKind int

const (
	resultVoid resultKind = iota
	resultRaw
	resultResponse
)

// Response is a full or partial response returned by a handler. A zero StatusCode is
// replaced by the configured default status and a nil Body produces no body.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       any
}

// Result is what a request handler returns. Build one with Raw or Respond; the zero
// Result means the handler produced nothing.
type Result struct {
	kind     resultKind
	value    any
	response Response
}

// Raw wraps a plain payload. It is sent with the default status and headers.
func Raw(v any) Result {
	return Result{kind: resultRaw, value: v}
}

// Respond wraps an explicit response.
func Respond(r Response) Result {
	return Result{kind: resultResponse, response: r}
}

// NoContent is the result of a handler with nothing to return.
func NoContent() Result { return Result{} }

// IsResponse reports whether the result carries an explicit response.
func (r Result) IsResponse() bool { return r.kind == resultResponse }

// normalize maps a handler result onto the uniform response shape.
func normalize(res Result, defaultStatus int, defaultHeaders map[string]string, encode OutputEncoder) (events.APIGatewayProxyResponse, error) {
	switch res.kind {
	case resultResponse:
		out := events.APIGatewayProxyResponse{
			StatusCode: res.response.StatusCode,
			Headers:    maps.Clone(res.response.Headers),
		}
		if out.StatusCode == 0 {
			out.StatusCode = defaultStatus
		}
		if res.response.Body != nil {
			body, err := encode(res.response.Body)
			if err != nil {
				return events.APIGatewayProxyResponse{}, err
			}
			out.Body = body
		}
		return out, nil

	case resultRaw:
		body, err := encode(res.value)
		if err != nil {
			return events.APIGatewayProxyResponse{}, err
		}
		return events.APIGatewayProxyResponse{
			StatusCode: defaultStatus,
			Headers:    maps.Clone(defaultHeaders),
			Body:       body,
		}, nil

	default:
		return events.APIGatewayProxyResponse{
			StatusCode: defaultStatus,
			Headers:    maps.Clone(defaultHeaders),
		}, nil
	}
}
