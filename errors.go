package lambdapipe

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrMalformedInput   = errors.New("malformed input")
	ErrUnknownAction    = errors.New("unknown action")
	ErrHandlerPanic     = errors.New("handler panic")
	ErrInvalidSourceARN = errors.New("invalid source arn")
	ErrAckFailed        = errors.New("acknowledgment failed")
	ErrDeadLetterFailed = errors.New("dead-letter forwarding failed")
	ErrBatchFailed      = errors.New("batch failed")
)

// HTTPError is a failure that carries an HTTP status and optional structured data.
// Errors of this type are mapped to their own status by the request pipeline; every
// other error is treated as an internal fault.
type HTTPError struct {
	Status  int
	Message string
	Data    any
	Headers map[string]string
	// Err is the underlying cause, if any. It is never rendered into a response.
	Err error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

func (e *HTTPError) Unwrap() error { return e.Err }

// HasData reports whether the error carries auxiliary data.
func (e *HTTPError) HasData() bool { return e.Data != nil }

// NewHTTPError returns a classified error with the given status and message.
func NewHTTPError(status int, message string) *HTTPError {
	return &HTTPError{Status: status, Message: message}
}

// WithData attaches auxiliary data to the error and returns it.
func (e *HTTPError) WithData(data any) *HTTPError {
	e.Data = data
	return e
}

// WithHeader attaches a response header to the error and returns it.
func (e *HTTPError) WithHeader(key, value string) *HTTPError {
	if e.Headers == nil {
		e.Headers = make(map[string]string)
	}
	e.Headers[key] = value
	return e
}

// BadRequest returns a 400 classified error.
func BadRequest(message string) *HTTPError {
	return NewHTTPError(http.StatusBadRequest, message)
}

// NotFound returns a 404 classified error.
func NotFound(message string) *HTTPError {
	return NewHTTPError(http.StatusNotFound, message)
}

// Unprocessable returns a 422 classified error.
func Unprocessable(message string) *HTTPError {
	return NewHTTPError(http.StatusUnprocessableEntity, message)
}

// Violation describes one failed constraint on one input field.
type Violation struct {
	Property    string   `json:"property"`
	Value       any      `json:"value,omitempty"`
	Constraints []string `json:"constraints"`
}

// NewValidationError returns a 400 classified error whose data is the list of violations.
func NewValidationError(violations []Violation) *HTTPError {
	return BadRequest("Validation Errors").WithData(violations)
}

// IsHTTPError reports whether err is, or wraps, a classified *HTTPError.
func IsHTTPError(err error) bool {
	var he *HTTPError
	return errors.As(err, &he)
}

// AsHTTPError returns the classified error inside err, if any.
func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	if errors.As(err, &he) {
		return he, true
	}
	return nil, false
}

// StatusOf returns the status carried by a classified error, or 500 for anything else.
func StatusOf(err error) int {
	if he, ok := AsHTTPError(err); ok {
		return he.Status
	}
	return http.StatusInternalServerError
}

// PanicError wraps a recovered panic value with the stack trace at the point of panic.
type PanicError struct {
	Value      any
	StackTrace string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.Value)
}

func (e *PanicError) Unwrap() error { return ErrHandlerPanic }

// stackTracer is implemented by errors that captured a stack trace.
type stackTracer interface {
	Stack() string
}

func (e *PanicError) Stack() string { return e.StackTrace }

// stackOf returns the stack trace captured by err, if any.
func stackOf(err error) string {
	var st stackTracer
	if errors.As(err, &st) {
		return st.Stack()
	}
	return ""
}
