package handler

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RequestValidator adapts go-playground/validator to echo.Validator
type RequestValidator struct {
	validate *validator.Validate
}

// NewRequestValidator reports field names by their json tag
func NewRequestValidator() *RequestValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return &RequestValidator{validate: v}
}

// Validate checks the struct tags of i
func (rv *RequestValidator) Validate(i interface{}) error {
	return rv.validate.Struct(i)
}

// validationMessage turns the first field error into a user-facing sentence
func validationMessage(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return "invalid request"
	}
	fe := errs[0]
	field := fieldLabel(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return "Valid email is required"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must have at least %s items", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "len":
		return fmt.Sprintf("%s must be exactly %s characters", field, fe.Param())
	case "url":
		return field + " must be a valid URL"
	default:
		return field + " is invalid"
	}
}

// fieldLabel turns "firstName" into "First name"
func fieldLabel(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case i == 0:
			b.WriteString(strings.ToUpper(string(r)))
		case r >= 'A' && r <= 'Z':
			b.WriteByte(' ')
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
