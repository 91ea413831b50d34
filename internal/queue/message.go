package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/exception-collector/internal/domain"
)

// RetryMessage asks a worker to resubmit one pending retry attempt.
type RetryMessage struct {
	TransactionID string               `json:"transactionId"`
	AttemptNumber int                  `json:"attemptNumber"`
	InterfaceType domain.InterfaceType `json:"interfaceType"`
	Priority      domain.RetryPriority `json:"priority"`
	InitiatedBy   string               `json:"initiatedBy,omitempty"`
	CorrelationID string               `json:"correlationId,omitempty"`
}

// MessageID identifies the attempt across redeliveries.
func (m RetryMessage) MessageID() string {
	return fmt.Sprintf("%s#%d", m.TransactionID, m.AttemptNumber)
}

func (m RetryMessage) Validate() error {
	if strings.TrimSpace(m.TransactionID) == "" {
		return fmt.Errorf("transactionId is required")
	}
	if m.AttemptNumber < 1 {
		return fmt.Errorf("attemptNumber must be positive, got %d", m.AttemptNumber)
	}
	if !m.InterfaceType.IsValid() {
		return fmt.Errorf("invalid interface type %q", m.InterfaceType)
	}
	if !m.Priority.IsValid() {
		return fmt.Errorf("invalid priority %q", m.Priority)
	}
	return nil
}
