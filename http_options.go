package lambdapipe

import (
	"encoding/json"
	"maps"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
)

// ErrorMapper maps a failure onto the uniform response.
type ErrorMapper func(err error, defaultHeaders map[string]string) events.APIGatewayProxyResponse

// DefaultLoggingPolicy logs errors from 400 Bad Request through 598 Network Read Timeout.
var DefaultLoggingPolicy LoggingPolicy = LogRange{Low: http.StatusBadRequest, High: 598}

const internalFaultMessage = "Internal Server Error"

type errorBody struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// MapError is the default ErrorMapper. A classified error keeps its status, message, data
// and headers. Anything else becomes a 500 with a generic message; the cause and any stack
// trace never reach the body.
func MapError(err error, defaultHeaders map[string]string) events.APIGatewayProxyResponse {
	headers := maps.Clone(defaultHeaders)

	he, ok := AsHTTPError(err)
	if !ok {
		body, _ := json.Marshal(errorBody{Message: internalFaultMessage})
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Headers:    headers,
			Body:       string(body),
		}
	}

	if len(he.Headers) > 0 {
		if headers == nil {
			headers = make(map[string]string, len(he.Headers))
		}
		maps.Copy(headers, he.Headers)
	}

	eb := errorBody{Message: he.Message}
	if he.HasData() {
		eb.Data = he.Data
	}
	body, mErr := json.Marshal(eb)
	if mErr != nil {
		body, _ = json.Marshal(errorBody{Message: he.Message})
	}
	return events.APIGatewayProxyResponse{
		StatusCode: he.Status,
		Headers:    headers,
		Body:       string(body),
	}
}

// httpConfig is resolved once when an entry point is built.
type httpConfig struct {
	defaultStatus  int
	defaultHeaders map[string]string
	mapError       ErrorMapper
	loggingPolicy  LoggingPolicy
	logger         Logger
	encode         OutputEncoder
	// typed per entry point; checked against Req at construction.
	validator any
	decoder   any
}

func defaultHTTPConfig() httpConfig {
	return httpConfig{
		defaultStatus: http.StatusOK,
		mapError:      MapError,
		loggingPolicy: DefaultLoggingPolicy,
		logger:        defaultLogger,
		encode:        EncodeOutput,
	}
}

// HTTPOption configures a request pipeline at construction time.
type HTTPOption func(*httpConfig)

// WithDefaultStatus sets the status used when the handler does not choose one. Default: 200.
func WithDefaultStatus(status int) HTTPOption {
	return func(c *httpConfig) { c.defaultStatus = status }
}

// WithDefaultHeaders sets headers added to plain payload responses and error responses.
func WithDefaultHeaders(headers map[string]string) HTTPOption {
	return func(c *httpConfig) { c.defaultHeaders = maps.Clone(headers) }
}

// WithErrorMapper replaces MapError.
func WithErrorMapper(m ErrorMapper) HTTPOption {
	return func(c *httpConfig) {
		if m != nil {
			c.mapError = m
		}
	}
}

// WithLoggingPolicy sets which error statuses are logged. Default: DefaultLoggingPolicy.
func WithLoggingPolicy(p LoggingPolicy) HTTPOption {
	return func(c *httpConfig) { c.loggingPolicy = p }
}

// WithLogger sets the error log sink.
func WithLogger(l Logger) HTTPOption {
	return func(c *httpConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithOutputEncoder replaces EncodeOutput.
func WithOutputEncoder(e OutputEncoder) HTTPOption {
	return func(c *httpConfig) {
		if e != nil {
			c.encode = e
		}
	}
}

// WithValidator runs v over the decoded payload before the handler. v may return a
// replacement payload or reject it with a classified error.
func WithValidator[Req any](v Validator[Req]) HTTPOption {
	return func(c *httpConfig) { c.validator = v }
}

// WithInputDecoder replaces DecodeJSON.
func WithInputDecoder[Req any](d InputDecoder[Req]) HTTPOption {
	return func(c *httpConfig) { c.decoder = d }
}
