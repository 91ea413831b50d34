// Package event decodes the failure events published by the upstream
// interfaces onto the inbound topics.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/exception-collector/internal/domain"
)

// ErrMalformedEvent marks a record that can never be processed as sent.
var ErrMalformedEvent = errors.New("malformed event")

const (
	TopicOrderRejected      = "OrderRejected"
	TopicOrderCancelled     = "OrderCancelled"
	TopicCollectionRejected = "CollectionRejected"
	TopicDistributionFailed = "DistributionFailed"
	TopicValidationError    = "ValidationError"
)

// Topics lists every inbound topic in a stable order.
func Topics() []string {
	return []string{
		TopicOrderRejected,
		TopicOrderCancelled,
		TopicCollectionRejected,
		TopicDistributionFailed,
		TopicValidationError,
	}
}

// Envelope is the wrapper shared by every inbound event.
type Envelope struct {
	EventID       string          `json:"eventId"`
	EventType     string          `json:"eventType"`
	EventVersion  string          `json:"eventVersion"`
	OccurredOn    time.Time       `json:"occurredOn"`
	Source        string          `json:"source"`
	CorrelationID string          `json:"correlationId"`
	Payload       json.RawMessage `json:"payload"`
}

// Event is a decoded inbound failure.
type Event interface {
	Meta() Envelope
	// UpsertParams maps the event onto the exception record it creates or updates.
	UpsertParams() domain.UpsertParams
}

type decoder func(env Envelope) (Event, error)

var decoders = map[string]decoder{
	TopicOrderRejected:      decodeOrderRejected,
	TopicOrderCancelled:     decodeOrderCancelled,
	TopicCollectionRejected: decodeCollectionRejected,
	TopicDistributionFailed: decodeDistributionFailed,
	TopicValidationError:    decodeValidationError,
}

// Decode parses a raw record value from topic into its typed event. Every
// failure wraps ErrMalformedEvent.
func Decode(topic string, value []byte) (Event, error) {
	dec, ok := decoders[topic]
	if !ok {
		return nil, fmt.Errorf("%w: unknown topic %q", ErrMalformedEvent, topic)
	}

	var env Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return nil, fmt.Errorf("%w: invalid envelope: %v", ErrMalformedEvent, err)
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return nil, fmt.Errorf("%w: payload is required", ErrMalformedEvent)
	}
	if env.EventType != "" && env.EventType != topic {
		return nil, fmt.Errorf("%w: event type %q does not match topic %q", ErrMalformedEvent, env.EventType, topic)
	}

	evt, err := dec(env)
	if err != nil {
		return nil, err
	}

	if err := evt.UpsertParams().Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return evt, nil
}

func unmarshalPayload(env Envelope, dst any) error {
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("%w: invalid %s payload: %v", ErrMalformedEvent, env.EventType, err)
	}
	return nil
}

// failure carries the fields every interface reports.
type failure struct {
	TransactionID string `json:"transactionId"`
	Operation     string `json:"operation"`
	CustomerID    string `json:"customerId"`
	LocationCode  string `json:"locationCode"`
}

func (f failure) params(env Envelope, it domain.InterfaceType, externalID, reason string) domain.UpsertParams {
	category := domain.ClassifyReason(reason)
	return domain.UpsertParams{
		TransactionID:   strings.TrimSpace(f.TransactionID),
		InterfaceType:   it,
		Operation:       f.Operation,
		ExternalID:      externalID,
		Reason:          reason,
		Severity:        domain.SeverityFor(it, f.Operation, category),
		Category:        category,
		Retryable:       domain.IsRetryableCategory(category),
		CustomerID:      f.CustomerID,
		LocationCode:    f.LocationCode,
		CorrelationID:   env.CorrelationID,
		OriginalPayload: env.Payload,
		Timestamp:       env.OccurredOn,
	}
}
