// Package mutation runs operator mutations through the validation pipeline
// and reports every outcome as a Result, never as a Go error.
package mutation

import (
	"time"

	"github.com/kursadbilgin/exception-collector/internal/domain"
	"github.com/kursadbilgin/exception-collector/internal/errcode"
)

// Error is the client-facing form of a coded failure.
type Error struct {
	Code           errcode.Code           `json:"code"`
	Message        string                 `json:"message"`
	Category       errcode.Category       `json:"category"`
	Classification errcode.Classification `json:"classification"`
	Retryable      bool                   `json:"retryable"`
	ClientError    bool                   `json:"clientError"`
	ServerError    bool                   `json:"serverError"`
	Field          string                 `json:"field,omitempty"`
	Details        map[string]any         `json:"details,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// NewError copies the client-safe parts of err. The cause is dropped.
func NewError(err *errcode.Error, at time.Time) Error {
	return Error{
		Code:           err.Code,
		Message:        err.Message,
		Category:       err.Code.Category(),
		Classification: err.Code.Classification(),
		Retryable:      err.Code.Retryable(),
		ClientError:    err.Code.IsClientError(),
		ServerError:    err.Code.IsServerError(),
		Field:          err.Field,
		Details:        err.Details,
		Timestamp:      at,
	}
}

// Result is embedded in every operation result.
type Result struct {
	Success     bool      `json:"success"`
	Errors      []Error   `json:"errors"`
	OperationID string    `json:"operationId"`
	PerformedBy string    `json:"performedBy"`
	Timestamp   time.Time `json:"timestamp"`
}

type RetryExceptionResult struct {
	Result
	TransactionID string             `json:"transactionId"`
	AttemptNumber int                `json:"attemptNumber,omitempty"`
	RetryStatus   domain.RetryStatus `json:"retryStatus,omitempty"`
}

type AcknowledgeExceptionResult struct {
	Result
	TransactionID  string     `json:"transactionId"`
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
}

type ResolveExceptionResult struct {
	Result
	TransactionID    string                   `json:"transactionId"`
	ResolutionMethod *domain.ResolutionMethod `json:"resolutionMethod,omitempty"`
	ResolvedAt       *time.Time               `json:"resolvedAt,omitempty"`
}

// AttemptView is the client form of a retry attempt.
type AttemptView struct {
	AttemptNumber int                  `json:"attemptNumber"`
	Status        domain.RetryStatus   `json:"status"`
	Priority      domain.RetryPriority `json:"priority"`
	InitiatedBy   string               `json:"initiatedBy"`
	InitiatedAt   time.Time            `json:"initiatedAt"`
	CompletedAt   *time.Time           `json:"completedAt,omitempty"`
	CancelledBy   *string              `json:"cancelledBy,omitempty"`
	CancelReason  *string              `json:"cancelReason,omitempty"`
}

func newAttemptView(a *domain.RetryAttempt) *AttemptView {
	if a == nil {
		return nil
	}
	return &AttemptView{
		AttemptNumber: a.AttemptNumber,
		Status:        a.Status,
		Priority:      a.Priority,
		InitiatedBy:   a.InitiatedBy,
		InitiatedAt:   a.InitiatedAt,
		CompletedAt:   a.CompletedAt,
		CancelledBy:   a.CancelledBy,
		CancelReason:  a.CancelReason,
	}
}

type CancelRetryResult struct {
	Result
	TransactionID    string       `json:"transactionId"`
	CancelledAttempt *AttemptView `json:"cancelledAttempt,omitempty"`
}

// BulkRetryItemResult is the outcome for one transaction of a bulk retry.
type BulkRetryItemResult struct {
	TransactionID string  `json:"transactionId"`
	Success       bool    `json:"success"`
	AttemptNumber int     `json:"attemptNumber,omitempty"`
	Errors        []Error `json:"errors"`
}

// BulkRetryResult succeeds when the batch was accepted; items may still fail
// individually.
type BulkRetryResult struct {
	Result
	Items        []BulkRetryItemResult `json:"items"`
	SuccessCount int                   `json:"successCount"`
	FailureCount int                   `json:"failureCount"`
}
