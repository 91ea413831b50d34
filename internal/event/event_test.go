package event

import (
	"errors"
	"testing"

	"github.com/kursadbilgin/exception-collector/internal/domain"
)

func TestDecodeOrderRejected(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"eventId": "evt-1",
		"eventType": "OrderRejected",
		"eventVersion": "1.0",
		"occurredOn": "2026-02-01T10:00:00Z",
		"source": "order-service",
		"correlationId": "corr-1",
		"payload": {
			"transactionId": "TXN-1",
			"externalOrderId": "EXT-9",
			"operation": "CREATE_ORDER",
			"rejectedReason": "Product out of stock",
			"customerId": "CUST-1",
			"locationCode": "LOC-1"
		}
	}`)

	evt, err := Decode(TopicOrderRejected, raw)
	if err != nil {
		t.Fatalf("Decode() unexpected error = %v", err)
	}

	p := evt.UpsertParams()
	if p.TransactionID != "TXN-1" || p.ExternalID != "EXT-9" || p.InterfaceType != domain.InterfaceOrder {
		t.Fatalf("UpsertParams() = %+v", p)
	}
	if p.Category != domain.CategoryBusinessRule || !p.Retryable || p.Severity != domain.SeverityMedium {
		t.Fatalf("classification = %s/%s retryable=%v", p.Category, p.Severity, p.Retryable)
	}
	if p.CorrelationID != "corr-1" || p.Timestamp.IsZero() || len(p.OriginalPayload) == 0 {
		t.Fatalf("envelope fields not carried: %+v", p)
	}
	if evt.Meta().EventID != "evt-1" {
		t.Fatalf("Meta().EventID = %q, want evt-1", evt.Meta().EventID)
	}
}

func TestDecodeValidationErrorIsNotRetryable(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"eventType":"ValidationError","payload":{"transactionId":"TXN-V","operation":"CREATE_ORDER",
		"validationErrors":[{"field":"locationCode","message":"is required"}]}}`)

	evt, err := Decode(TopicValidationError, raw)
	if err != nil {
		t.Fatalf("Decode() unexpected error = %v", err)
	}

	p := evt.UpsertParams()
	if p.Retryable || p.Category != domain.CategoryValidation {
		t.Fatalf("UpsertParams() retryable=%v category=%s", p.Retryable, p.Category)
	}
	if p.Reason != "locationCode: is required" {
		t.Fatalf("Reason = %q", p.Reason)
	}
}

func TestDecodeOrderCancelledDefaultsOperation(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"payload":{"transactionId":"TXN-C","externalOrderId":"EXT-1","cancelReason":"customer changed mind"}}`)
	evt, err := Decode(TopicOrderCancelled, raw)
	if err != nil {
		t.Fatalf("Decode() unexpected error = %v", err)
	}

	p := evt.UpsertParams()
	if p.Operation != "CANCEL_ORDER" || p.Severity != domain.SeverityLow {
		t.Fatalf("UpsertParams() operation=%q severity=%s", p.Operation, p.Severity)
	}
}

func TestDecodeMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		topic string
		raw   string
	}{
		{name: "unknown topic", topic: "PaymentFailed", raw: `{"payload":{}}`},
		{name: "not json", topic: TopicOrderRejected, raw: `not-json`},
		{name: "missing payload", topic: TopicOrderRejected, raw: `{"eventId":"x"}`},
		{name: "null payload", topic: TopicOrderRejected, raw: `{"payload":null}`},
		{name: "type mismatch", topic: TopicOrderRejected, raw: `{"eventType":"OrderCancelled","payload":{"transactionId":"T","rejectedReason":"r"}}`},
		{name: "payload wrong shape", topic: TopicDistributionFailed, raw: `{"payload":["a"]}`},
		{name: "missing transaction id", topic: TopicCollectionRejected, raw: `{"payload":{"rejectedReason":"r"}}`},
		{name: "missing reason", topic: TopicDistributionFailed, raw: `{"payload":{"transactionId":"T"}}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Decode(tt.topic, []byte(tt.raw))
			if !errors.Is(err, ErrMalformedEvent) {
				t.Fatalf("Decode() error = %v, want ErrMalformedEvent", err)
			}
		})
	}
}

func TestTopicsHaveDecoders(t *testing.T) {
	t.Parallel()

	for _, topic := range Topics() {
		if _, ok := decoders[topic]; !ok {
			t.Errorf("topic %s has no decoder", topic)
		}
	}
}
