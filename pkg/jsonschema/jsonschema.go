// Package jsonschema wraps gojsonschema for envelope, payload and request validation.
package jsonschema

import (
	"context"
	"fmt"
	"strings"

	"github.com/hatsunemiku3939/lambdapipe"
	"github.com/xeipuuv/gojsonschema"
)

type (
	ValidationResult = gojsonschema.Result
	JSONLoader       = gojsonschema.JSONLoader
)

func NewStringLoader(s string) gojsonschema.JSONLoader {
	return gojsonschema.NewStringLoader(s)
}

func NewBytesLoader(b []byte) gojsonschema.JSONLoader {
	return gojsonschema.NewBytesLoader(b)
}

func NewSchema(loader gojsonschema.JSONLoader) (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(loader)
}

func Validate(schemaLoader gojsonschema.JSONLoader, docLoader gojsonschema.JSONLoader) (*gojsonschema.Result, error) {
	return gojsonschema.Validate(schemaLoader, docLoader)
}

// FormatErrors folds a validation result into a single error wrapping
// ErrSchemaValidationSystem or ErrSchemaValidationFailed. A valid result yields nil.
func FormatErrors(result *gojsonschema.Result, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSchemaValidationSystem, err)
	}
	if result.Valid() {
		return nil
	}
	var b strings.Builder
	for _, desc := range result.Errors() {
		fmt.Fprintf(&b, "- %s; ", desc)
	}
	return fmt.Errorf("%w: %s", ErrSchemaValidationFailed, b.String())
}

// Violations groups the errors of an invalid result by field.
func Violations(result *gojsonschema.Result) []lambdapipe.Violation {
	var (
		out   []lambdapipe.Violation
		index = map[string]int{}
	)
	for _, re := range result.Errors() {
		field := re.Field()
		i, ok := index[field]
		if !ok {
			i = len(out)
			index[field] = i
			out = append(out, lambdapipe.Violation{Property: field, Value: re.Value()})
		}
		out[i].Constraints = append(out[i].Constraints, re.Description())
	}
	return out
}

// Validator compiles schema once and returns a request validator that checks the decoded
// payload against it. Invalid payloads fail with a 400 validation error listing every
// violation.
func Validator[Req any](schema string) (lambdapipe.Validator[Req], error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaValidationSystem, err)
	}
	return func(_ context.Context, payload Req) (Req, error) {
		res, err := compiled.Validate(gojsonschema.NewGoLoader(payload))
		if err != nil {
			return payload, fmt.Errorf("%w: %w", ErrSchemaValidationSystem, err)
		}
		if !res.Valid() {
			verr := lambdapipe.NewValidationError(Violations(res))
			verr.Err = ErrSchemaValidationFailed
			return payload, verr
		}
		return payload, nil
	}, nil
}
