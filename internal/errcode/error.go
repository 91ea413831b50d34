package errcode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kursadbilgin/exception-collector/internal/domain"
)

// Error is a coded failure raised by the orchestrator or validators.
type Error struct {
	Code    Code
	Message string
	Field   string
	Details map[string]any
	Cause   error
}

func New(code Code, message string) *Error {
	if strings.TrimSpace(message) == "" {
		message = code.Message()
	}
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches a cause that is kept for logging but never shown to clients.
func Wrap(code Code, cause error) *Error {
	return &Error{Code: code, Message: code.Message(), Cause: cause}
}

func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// As extracts a coded error from err's chain.
func As(err error) (*Error, bool) {
	var coded *Error
	if errors.As(err, &coded) {
		return coded, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	coded, ok := As(err)
	return ok && coded.Code == code
}

// Classify maps an arbitrary error onto the closest code. Coded errors keep
// their code; the rest fall into buckets so raw error text never reaches a
// client.
func Classify(err error) Code {
	if err == nil {
		return ""
	}
	if coded, ok := As(err); ok {
		return coded.Code
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, domain.ErrValidation):
		return CodeInvalidValue
	case errors.Is(err, domain.ErrForbidden):
		return CodeInsufficientPermissions
	case errors.Is(err, domain.ErrNotFound):
		return CodeExceptionNotFound
	case errors.Is(err, domain.ErrConflict):
		return CodeConcurrentModification
	}

	if strings.Contains(strings.ToLower(err.Error()), "not found") {
		return CodeExceptionNotFound
	}
	return CodeDatabaseError
}

// Sanitize converts any error into a coded error with a client-safe message.
func Sanitize(err error) *Error {
	if err == nil {
		return nil
	}
	if coded, ok := As(err); ok {
		return coded
	}
	return Wrap(Classify(err), err)
}
