package consumer

import (
	"errors"
	"fmt"

	"github.com/kursadbilgin/exception-collector/internal/domain"
	"github.com/kursadbilgin/exception-collector/internal/event"
)

type nonRetryableError struct {
	err error
}

func (e *nonRetryableError) Error() string { return e.err.Error() }

func (e *nonRetryableError) Unwrap() error { return e.err }

// NonRetryable marks err so the record is dead-lettered without retries.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetryableError{err: err}
}

// IsNonRetryable reports whether reprocessing the record can never succeed:
// explicitly marked failures, malformed events and validation errors.
func IsNonRetryable(err error) bool {
	var nr *nonRetryableError
	return errors.As(err, &nr) ||
		errors.Is(err, event.ErrMalformedEvent) ||
		errors.Is(err, domain.ErrValidation)
}

// panicError converts a recovered panic into a non-retryable failure.
func panicError(recovered any) error {
	return NonRetryable(fmt.Errorf("panic while processing record: %v", recovered))
}
