package domain

import (
	"fmt"
	"strings"
	"time"
)

// RetryStatus is the state of a single retry attempt.
type RetryStatus string

const (
	RetryPending   RetryStatus = "PENDING"
	RetrySuccess   RetryStatus = "SUCCESS"
	RetryFailed    RetryStatus = "FAILED"
	RetryCancelled RetryStatus = "CANCELLED"
)

func (s RetryStatus) String() string { return string(s) }

func (s RetryStatus) IsValid() bool {
	switch s {
	case RetryPending, RetrySuccess, RetryFailed, RetryCancelled:
		return true
	}
	return false
}

// RetryPriority orders dispatch of retry attempts.
type RetryPriority string

const (
	PriorityLow    RetryPriority = "LOW"
	PriorityNormal RetryPriority = "NORMAL"
	PriorityHigh   RetryPriority = "HIGH"
	PriorityUrgent RetryPriority = "URGENT"
)

func (p RetryPriority) String() string { return string(p) }

func (p RetryPriority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

func ParseRetryPriorityFromString(s string) (RetryPriority, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return PriorityNormal, nil
	}
	p := RetryPriority(strings.ToUpper(trimmed))
	if !p.IsValid() {
		return "", fmt.Errorf("%w: invalid priority %q", ErrValidation, s)
	}
	return p, nil
}

// RetryAttempt records one retry executed against an exception.
type RetryAttempt struct {
	ID                 int64
	ExceptionID        int64
	AttemptNumber      int
	Status             RetryStatus
	Priority           RetryPriority
	Reason             string
	InitiatedBy        string
	InitiatedAt        time.Time
	CompletedAt        *time.Time
	ResultSuccess      *bool
	ResultMessage      *string
	ResultResponseCode *int
	ResultErrorDetails map[string]any
	CancelledBy        *string
	CancelReason       *string
}

func (a *RetryAttempt) IsPending() bool {
	return a != nil && a.Status == RetryPending
}

// RetryOutcome is the completion report for a pending attempt.
type RetryOutcome struct {
	Success      bool
	Message      string
	ResponseCode int
	ErrorDetails map[string]any
	CompletedBy  string
}
