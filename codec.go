package lambdapipe

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"reflect"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// InputDecoder turns a raw request event into the handler's payload type.
type InputDecoder[Req any] func(event events.APIGatewayProxyRequest) (Req, error)

// OutputEncoder turns a response payload into the response body.
type OutputEncoder func(v any) (string, error)

// headerValue looks up a header case-insensitively, falling back to multi-value headers.
func headerValue(event events.APIGatewayProxyRequest, name string) string {
	for k, v := range event.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	for k, v := range event.MultiValueHeaders {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// isJSONMediaType accepts application/json and any +json structured syntax suffix.
func isJSONMediaType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// DecodeJSON parses the request body into Req when the Content-Type header names a JSON
// media type. Any other content type, or an absent body, leaves the zero value. A body that
// fails to parse yields a 400 classified error.
func DecodeJSON[Req any](event events.APIGatewayProxyRequest) (Req, error) {
	var payload Req
	if event.Body == "" || !isJSONMediaType(headerValue(event, "Content-Type")) {
		return payload, nil
	}

	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return payload, &HTTPError{Status: 400, Message: "Malformed JSON", Err: fmt.Errorf("%w: %v", ErrMalformedInput, err)}
		}
		body = decoded
	}

	if err := json.Unmarshal(body, &payload); err != nil {
		return payload, &HTTPError{Status: 400, Message: "Malformed JSON", Err: fmt.Errorf("%w: %v", ErrMalformedInput, err)}
	}
	return payload, nil
}

// EncodeOutput renders v as a response body. Strings pass through unchanged, other scalar
// values use their default textual form, and composite values are JSON encoded.
func EncodeOutput(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case json.RawMessage:
		return string(t), nil
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return "null", nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Struct, reflect.Map, reflect.Slice, reflect.Array:
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("encode output: %w", err)
		}
		return string(b), nil
	default:
		return fmt.Sprint(rv.Interface()), nil
	}
}
