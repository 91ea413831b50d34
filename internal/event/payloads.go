package event

import (
	"strings"

	"github.com/kursadbilgin/exception-collector/internal/domain"
)

type OrderRejected struct {
	Envelope Envelope `json:"-"`
	failure
	ExternalOrderID string `json:"externalOrderId"`
	RejectedReason  string `json:"rejectedReason"`
}

func decodeOrderRejected(env Envelope) (Event, error) {
	e := &OrderRejected{Envelope: env}
	if err := unmarshalPayload(env, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *OrderRejected) Meta() Envelope { return e.Envelope }

func (e *OrderRejected) UpsertParams() domain.UpsertParams {
	return e.params(e.Envelope, domain.InterfaceOrder, e.ExternalOrderID, e.RejectedReason)
}

type OrderCancelled struct {
	Envelope Envelope `json:"-"`
	failure
	ExternalOrderID string `json:"externalOrderId"`
	CancelReason    string `json:"cancelReason"`
	CancelledBy     string `json:"cancelledBy"`
}

func decodeOrderCancelled(env Envelope) (Event, error) {
	e := &OrderCancelled{Envelope: env}
	if err := unmarshalPayload(env, e); err != nil {
		return nil, err
	}
	if e.Operation == "" {
		e.Operation = "CANCEL_ORDER"
	}
	return e, nil
}

func (e *OrderCancelled) Meta() Envelope { return e.Envelope }

// UpsertParams records a cancellation as a low-impact business rule exception.
func (e *OrderCancelled) UpsertParams() domain.UpsertParams {
	p := e.params(e.Envelope, domain.InterfaceOrder, e.ExternalOrderID, e.CancelReason)
	p.Category = domain.CategoryBusinessRule
	p.Severity = domain.SeverityFor(domain.InterfaceOrder, e.Operation, p.Category)
	p.Retryable = true
	return p
}

type CollectionRejected struct {
	Envelope Envelope `json:"-"`
	failure
	CollectionID   string `json:"collectionId"`
	RejectedReason string `json:"rejectedReason"`
}

func decodeCollectionRejected(env Envelope) (Event, error) {
	e := &CollectionRejected{Envelope: env}
	if err := unmarshalPayload(env, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *CollectionRejected) Meta() Envelope { return e.Envelope }

func (e *CollectionRejected) UpsertParams() domain.UpsertParams {
	return e.params(e.Envelope, domain.InterfaceCollection, e.CollectionID, e.RejectedReason)
}

type DistributionFailed struct {
	Envelope Envelope `json:"-"`
	failure
	DistributionID string `json:"distributionId"`
	FailureReason  string `json:"failureReason"`
}

func decodeDistributionFailed(env Envelope) (Event, error) {
	e := &DistributionFailed{Envelope: env}
	if err := unmarshalPayload(env, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *DistributionFailed) Meta() Envelope { return e.Envelope }

func (e *DistributionFailed) UpsertParams() domain.UpsertParams {
	return e.params(e.Envelope, domain.InterfaceDistribution, e.DistributionID, e.FailureReason)
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports an inbound request that failed schema or business
// validation before reaching any interface.
type ValidationError struct {
	Envelope Envelope `json:"-"`
	failure
	ExternalID       string       `json:"externalId"`
	ValidationErrors []FieldError `json:"validationErrors"`
}

func decodeValidationError(env Envelope) (Event, error) {
	e := &ValidationError{Envelope: env}
	if err := unmarshalPayload(env, e); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *ValidationError) Meta() Envelope { return e.Envelope }

// UpsertParams never produces a retryable record: resubmitting the same
// invalid request cannot succeed.
func (e *ValidationError) UpsertParams() domain.UpsertParams {
	p := e.params(e.Envelope, domain.InterfaceValidation, e.ExternalID, e.reason())
	p.Category = domain.CategoryValidation
	p.Severity = domain.SeverityFor(domain.InterfaceValidation, e.Operation, p.Category)
	p.Retryable = false
	return p
}

func (e *ValidationError) reason() string {
	parts := make([]string, 0, len(e.ValidationErrors))
	for _, fe := range e.ValidationErrors {
		if fe.Field == "" {
			parts = append(parts, fe.Message)
			continue
		}
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	return domain.TruncateLength(strings.Join(parts, "; "), domain.MaxReasonLength)
}
