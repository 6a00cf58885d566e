// Package tools exposes the booking engine as a fixed set of named, typed
// commands for the conversational agent.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/md-rashed-zaman/salonsync/services/booking-service/internal/booking"
)

type Tool interface {
	Name() string
	Invoke(ctx context.Context, tenantID string, args json.RawMessage) (any, error)
}

// FieldError names one invalid argument.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// typed decodes and validates arguments into Req before running the command.
type typed[Req any, Resp any] struct {
	name string
	run  func(ctx context.Context, tenantID string, req Req) (Resp, error)
}

func (t typed[Req, Resp]) Name() string { return t.name }

func (t typed[Req, Resp]) Invoke(ctx context.Context, tenantID string, args json.RawMessage) (any, error) {
	var req Req
	if len(bytes.TrimSpace(args)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(args))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			return nil, booking.Errorf(booking.CodeValidation, "invalid arguments for %s: %v", t.name, err)
		}
	}
	if err := Validate(t.name, req); err != nil {
		return nil, err
	}
	return t.run(ctx, tenantID, req)
}

var validate = newValidator()

// Validate checks the validate tags of args and reports failures as
// VALIDATION_ERROR with per-field details.
func Validate(name string, args any) error {
	err := validate.Struct(args)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return translate(name, verrs)
	}
	return fmt.Errorf("validate %s: %w", name, err)
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func translate(tool string, errs validator.ValidationErrors) *booking.Error {
	fields := make([]FieldError, 0, len(errs))
	for _, e := range errs {
		msg := e.Error()
		switch e.Tag() {
		case "required":
			msg = e.Field() + " is required"
		case "min":
			msg = fmt.Sprintf("%s must be at least %s", e.Field(), e.Param())
		case "max":
			msg = fmt.Sprintf("%s must be at most %s", e.Field(), e.Param())
		}
		fields = append(fields, FieldError{Field: e.Field(), Message: msg})
	}
	return booking.Errorf(booking.CodeValidation, "invalid arguments for %s: %s", tool, fields[0].Message).
		WithDetail("fields", fields)
}
