// Package validate builds request validators from go-playground/validator struct tags.
package validate

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/hatsunemiku3939/lambdapipe"
)

var (
	once     sync.Once
	instance *validator.Validate
)

// Instance returns the shared validator. Field names in reported violations follow the
// json tag of each field.
func Instance() *validator.Validate {
	once.Do(func() {
		instance = validator.New(validator.WithRequiredStructEnabled())
		instance.RegisterTagNameFunc(jsonName)
	})
	return instance
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return f.Name
	}
	return name
}

// Struct returns a validator for struct payloads. A payload that breaks its tags fails
// with a 400 validation error listing one violation per field.
func Struct[Req any]() lambdapipe.Validator[Req] {
	v := Instance()
	return func(ctx context.Context, payload Req) (Req, error) {
		err := v.StructCtx(ctx, payload)
		if err == nil {
			return payload, nil
		}
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return payload, err
		}
		verr := lambdapipe.NewValidationError(Violations(verrs))
		verr.Err = err
		return payload, verr
	}
}

// Violations groups field errors by namespace, keeping first-seen order.
func Violations(verrs validator.ValidationErrors) []lambdapipe.Violation {
	var (
		out   []lambdapipe.Violation
		index = map[string]int{}
	)
	for _, fe := range verrs {
		prop := property(fe)
		i, ok := index[prop]
		if !ok {
			i = len(out)
			index[prop] = i
			out = append(out, lambdapipe.Violation{Property: prop, Value: fe.Value()})
		}
		c := fe.Tag()
		if fe.Param() != "" {
			c += "=" + fe.Param()
		}
		out[i].Constraints = append(out[i].Constraints, c)
	}
	return out
}

// property drops the root struct name from the namespace: "User.address.city" -> "address.city".
func property(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}
