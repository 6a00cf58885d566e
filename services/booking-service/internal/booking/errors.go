package booking

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeInvalidDate     Code = "INVALID_DATE"
	CodePastDate        Code = "PAST_DATE"
	CodeNotWorkingDay   Code = "PROFESSIONAL_NOT_AVAILABLE_THIS_DAY"
	CodeConflict        Code = "APPOINTMENT_CONFLICT"
	CodeSlotUnavailable Code = "SLOT_NOT_AVAILABLE"
	CodeTerminalState   Code = "TERMINAL_STATE"
	CodeNotFound        Code = "NOT_FOUND"
	CodeServiceInactive Code = "SERVICE_INACTIVE"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeInternal        Code = "INTERNAL_ERROR"
)

// Error is a business or validation failure: a machine code, a message for
// the caller and an optional suggestion on how to recover.
type Error struct {
	Code       Code           `json:"error_code"`
	Message    string         `json:"message"`
	Suggestion string         `json:"suggestion,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// HTTPStatus maps the code onto a response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeValidation, CodeInvalidDate, CodePastDate:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeTerminalState, CodeSlotUnavailable:
		return http.StatusConflict
	case CodeNotWorkingDay, CodeServiceInactive:
		return http.StatusUnprocessableEntity
	case CodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Errorf builds a business error for callers outside the engine.
func Errorf(code Code, format string, args ...any) *Error {
	return newError(code, format, args...)
}

func validation(format string, args ...any) *Error {
	return newError(CodeValidation, format, args...)
}

func notFound(what, id string) *Error {
	return newError(CodeNotFound, "%s %q not found", what, id)
}

func RateLimited() *Error {
	return newError(CodeRateLimited, "too many booking attempts").
		WithSuggestion("wait a minute before trying again")
}

// AsError extracts a business error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func IsCode(err error, code Code) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}
