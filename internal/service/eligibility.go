package service

import (
	"github.com/kursadbilgin/exception-collector/internal/domain"
	"github.com/kursadbilgin/exception-collector/internal/errcode"
)

// RetryEligibility checks, in order, whether a new retry attempt may start.
// latest is the most recent attempt, nil if none exists.
func RetryEligibility(e *domain.InterfaceException, latest *domain.RetryAttempt) error {
	if e == nil {
		return errcode.New(errcode.CodeExceptionNotFound, "")
	}
	if !e.Retryable {
		return errcode.New(errcode.CodeNotRetryable, "")
	}
	if e.Status.IsTerminal() {
		return errcode.Newf(errcode.CodeInvalidExceptionState, "exception is %s", e.Status).
			WithDetail("status", e.Status.String())
	}
	if latest.IsPending() {
		return errcode.New(errcode.CodePendingRetryExists, "").
			WithDetail("attemptNumber", latest.AttemptNumber)
	}
	if !e.HasRetryBudget() {
		return errcode.New(errcode.CodeRetryLimitExceeded, "").
			WithDetail("retryCount", e.RetryCount).
			WithDetail("maxRetries", e.MaxRetries)
	}
	return nil
}

// AcknowledgeEligibility checks whether e may move to ACKNOWLEDGED.
func AcknowledgeEligibility(e *domain.InterfaceException) error {
	if e == nil {
		return errcode.New(errcode.CodeExceptionNotFound, "")
	}
	if e.Status == domain.StatusAcknowledged {
		return errcode.New(errcode.CodeAlreadyAcknowledged, "")
	}
	if !e.CanAcknowledge() {
		return errcode.Newf(errcode.CodeAckInvalidState, "exception is %s", e.Status).
			WithDetail("status", e.Status.String())
	}
	return nil
}

// ResolveEligibility checks whether e may move to RESOLVED.
func ResolveEligibility(e *domain.InterfaceException) error {
	if e == nil {
		return errcode.New(errcode.CodeExceptionNotFound, "")
	}
	if e.Status == domain.StatusResolved {
		return errcode.New(errcode.CodeAlreadyResolved, "")
	}
	if !e.CanResolve() {
		return errcode.New(errcode.CodeResolveInvalidState, "").
			WithDetail("status", e.Status.String())
	}
	return nil
}

// CancelEligibility checks whether the latest attempt can be cancelled.
func CancelEligibility(e *domain.InterfaceException, latest *domain.RetryAttempt) error {
	if e == nil {
		return errcode.New(errcode.CodeExceptionNotFound, "")
	}
	if !latest.IsPending() {
		return errcode.New(errcode.CodeNoPendingRetry, "")
	}
	return nil
}

func requireMutator(p domain.Principal) error {
	if !p.CanMutate() {
		return errcode.New(errcode.CodeInsufficientPermissions, "")
	}
	return nil
}

func statusChange(e *domain.InterfaceException, from domain.ExceptionStatus, by, reason string) *domain.StatusChange {
	return &domain.StatusChange{
		ExceptionID: e.ID,
		FromStatus:  from,
		ToStatus:    e.Status,
		ChangedBy:   by,
		Reason:      reason,
	}
}
