package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/kursadbilgin/exception-collector/internal/domain"
)

// ProviderError is a failed resubmission to an upstream interface.
type ProviderError struct {
	InterfaceType domain.InterfaceType
	StatusCode    int
	Message       string
	Body          string
	Transient     bool
	Cause         error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "resubmit failed")

	if e.InterfaceType != "" {
		parts = append(parts, strings.ToLower(e.InterfaceType.String()))
	}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Details is the error description stored on the completed retry attempt.
func (e *ProviderError) Details() map[string]any {
	if e == nil {
		return nil
	}
	details := map[string]any{
		"transient": e.Transient,
		"message":   e.Message,
	}
	if e.StatusCode > 0 {
		details["statusCode"] = e.StatusCode
	}
	if e.Body != "" {
		details["responseBody"] = e.Body
	}
	if e.Cause != nil {
		details["cause"] = e.Cause.Error()
	}
	return details
}

// IsTransient reports whether a resubmission might succeed if tried again.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}
