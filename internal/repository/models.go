package repository

import (
	"encoding/json"
	"time"

	"github.com/kursadbilgin/exception-collector/internal/domain"
)

// InterfaceExceptionModel is the persistence model for the interface_exceptions table.
type InterfaceExceptionModel struct {
	ID                   int64                    `gorm:"primaryKey;autoIncrement"`
	TransactionID        string                   `gorm:"type:varchar(255);not null;uniqueIndex:idx_exceptions_transaction_id"`
	InterfaceType        domain.InterfaceType     `gorm:"type:varchar(32);not null"`
	Operation            string                   `gorm:"type:varchar(100);not null;default:''"`
	ExternalID           string                   `gorm:"type:varchar(255);not null;default:''"`
	ExceptionReason      string                   `gorm:"type:text;not null"`
	Status               domain.ExceptionStatus   `gorm:"type:varchar(20);not null"`
	Severity             domain.Severity          `gorm:"type:varchar(10);not null"`
	SeverityRank         int                      `gorm:"type:smallint;not null;default:0"`
	Category             domain.Category          `gorm:"type:varchar(32);not null"`
	Retryable            bool                     `gorm:"not null"`
	RetryCount           int                      `gorm:"not null"`
	MaxRetries           int                      `gorm:"not null"`
	CustomerID           string                   `gorm:"type:varchar(100);not null;default:''"`
	LocationCode         string                   `gorm:"type:varchar(100);not null;default:''"`
	CorrelationID        string                   `gorm:"type:varchar(255);not null;default:''"`
	OriginalPayload      json.RawMessage          `gorm:"type:jsonb;serializer:json"`
	Timestamp            time.Time                `gorm:"column:event_timestamp;type:timestamptz;not null"`
	ProcessedAt          time.Time                `gorm:"type:timestamptz;not null"`
	AcknowledgedAt       *time.Time               `gorm:"type:timestamptz"`
	AcknowledgedBy       *string                  `gorm:"type:varchar(255)"`
	AcknowledgementNotes *string                  `gorm:"type:text"`
	ResolvedAt           *time.Time               `gorm:"type:timestamptz"`
	ResolvedBy           *string                  `gorm:"type:varchar(255)"`
	ResolutionMethod     *domain.ResolutionMethod `gorm:"type:varchar(32)"`
	ResolutionNotes      *string                  `gorm:"type:text"`
	LastRetryAt          *time.Time               `gorm:"type:timestamptz"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (InterfaceExceptionModel) TableName() string {
	return "interface_exceptions"
}

// RetryAttemptModel is the persistence model for retry_attempts.
type RetryAttemptModel struct {
	ID                 int64                `gorm:"primaryKey;autoIncrement"`
	ExceptionID        int64                `gorm:"not null;uniqueIndex:idx_retry_attempts_exception_number,priority:1"`
	AttemptNumber      int                  `gorm:"not null;uniqueIndex:idx_retry_attempts_exception_number,priority:2"`
	Status             domain.RetryStatus   `gorm:"type:varchar(20);not null"`
	Priority           domain.RetryPriority `gorm:"type:varchar(10);not null"`
	Reason             string               `gorm:"type:text;not null;default:''"`
	InitiatedBy        string               `gorm:"type:varchar(255);not null"`
	InitiatedAt        time.Time            `gorm:"type:timestamptz;not null"`
	CompletedAt        *time.Time           `gorm:"type:timestamptz"`
	ResultSuccess      *bool
	ResultMessage      *string        `gorm:"type:text"`
	ResultResponseCode *int           `gorm:"type:int"`
	ResultErrorDetails map[string]any `gorm:"type:jsonb;serializer:json"`
	CancelledBy        *string        `gorm:"type:varchar(255)"`
	CancelReason       *string        `gorm:"type:text"`
}

func (RetryAttemptModel) TableName() string {
	return "retry_attempts"
}

// StatusChangeModel is the persistence model for exception_status_changes.
type StatusChangeModel struct {
	ID          int64                  `gorm:"primaryKey;autoIncrement"`
	ExceptionID int64                  `gorm:"not null;index:idx_status_changes_exception_id"`
	FromStatus  domain.ExceptionStatus `gorm:"type:varchar(20);not null"`
	ToStatus    domain.ExceptionStatus `gorm:"type:varchar(20);not null"`
	ChangedBy   string                 `gorm:"type:varchar(255);not null"`
	Reason      string                 `gorm:"type:text;not null;default:''"`
	ChangedAt   time.Time              `gorm:"type:timestamptz;not null"`
}

func (StatusChangeModel) TableName() string {
	return "exception_status_changes"
}

func exceptionModelFromUpsert(p domain.UpsertParams, maxRetries int, now time.Time) *InterfaceExceptionModel {
	timestamp := p.Timestamp
	if timestamp.IsZero() {
		timestamp = now
	}

	return &InterfaceExceptionModel{
		TransactionID:   p.TransactionID,
		InterfaceType:   p.InterfaceType,
		Operation:       p.Operation,
		ExternalID:      p.ExternalID,
		ExceptionReason: p.Reason,
		Status:          domain.StatusNew,
		Severity:        p.Severity,
		SeverityRank:    p.Severity.Rank(),
		Category:        p.Category,
		Retryable:       p.Retryable,
		RetryCount:      0,
		MaxRetries:      maxRetries,
		CustomerID:      p.CustomerID,
		LocationCode:    p.LocationCode,
		CorrelationID:   p.CorrelationID,
		OriginalPayload: p.OriginalPayload,
		Timestamp:       timestamp,
		ProcessedAt:     now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func exceptionModelFromDomain(e *domain.InterfaceException) *InterfaceExceptionModel {
	if e == nil {
		return nil
	}

	return &InterfaceExceptionModel{
		ID:                   e.ID,
		TransactionID:        e.TransactionID,
		InterfaceType:        e.InterfaceType,
		Operation:            e.Operation,
		ExternalID:           e.ExternalID,
		ExceptionReason:      e.ExceptionReason,
		Status:               e.Status,
		Severity:             e.Severity,
		SeverityRank:         e.Severity.Rank(),
		Category:             e.Category,
		Retryable:            e.Retryable,
		RetryCount:           e.RetryCount,
		MaxRetries:           e.MaxRetries,
		CustomerID:           e.CustomerID,
		LocationCode:         e.LocationCode,
		CorrelationID:        e.CorrelationID,
		OriginalPayload:      e.OriginalPayload,
		Timestamp:            e.Timestamp,
		ProcessedAt:          e.ProcessedAt,
		AcknowledgedAt:       e.AcknowledgedAt,
		AcknowledgedBy:       e.AcknowledgedBy,
		AcknowledgementNotes: e.AcknowledgementNotes,
		ResolvedAt:           e.ResolvedAt,
		ResolvedBy:           e.ResolvedBy,
		ResolutionMethod:     e.ResolutionMethod,
		ResolutionNotes:      e.ResolutionNotes,
		LastRetryAt:          e.LastRetryAt,
		CreatedAt:            e.CreatedAt,
		UpdatedAt:            e.UpdatedAt,
	}
}

func exceptionModelToDomain(m *InterfaceExceptionModel) *domain.InterfaceException {
	if m == nil {
		return nil
	}

	return &domain.InterfaceException{
		ID:                   m.ID,
		TransactionID:        m.TransactionID,
		InterfaceType:        m.InterfaceType,
		Operation:            m.Operation,
		ExternalID:           m.ExternalID,
		ExceptionReason:      m.ExceptionReason,
		Status:               m.Status,
		Severity:             m.Severity,
		Category:             m.Category,
		Retryable:            m.Retryable,
		RetryCount:           m.RetryCount,
		MaxRetries:           m.MaxRetries,
		CustomerID:           m.CustomerID,
		LocationCode:         m.LocationCode,
		CorrelationID:        m.CorrelationID,
		OriginalPayload:      m.OriginalPayload,
		Timestamp:            m.Timestamp,
		ProcessedAt:          m.ProcessedAt,
		AcknowledgedAt:       m.AcknowledgedAt,
		AcknowledgedBy:       m.AcknowledgedBy,
		AcknowledgementNotes: m.AcknowledgementNotes,
		ResolvedAt:           m.ResolvedAt,
		ResolvedBy:           m.ResolvedBy,
		ResolutionMethod:     m.ResolutionMethod,
		ResolutionNotes:      m.ResolutionNotes,
		LastRetryAt:          m.LastRetryAt,
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.RetryAttempt) *RetryAttemptModel {
	if a == nil {
		return nil
	}

	return &RetryAttemptModel{
		ID:                 a.ID,
		ExceptionID:        a.ExceptionID,
		AttemptNumber:      a.AttemptNumber,
		Status:             a.Status,
		Priority:           a.Priority,
		Reason:             a.Reason,
		InitiatedBy:        a.InitiatedBy,
		InitiatedAt:        a.InitiatedAt,
		CompletedAt:        a.CompletedAt,
		ResultSuccess:      a.ResultSuccess,
		ResultMessage:      a.ResultMessage,
		ResultResponseCode: a.ResultResponseCode,
		ResultErrorDetails: a.ResultErrorDetails,
		CancelledBy:        a.CancelledBy,
		CancelReason:       a.CancelReason,
	}
}

func attemptModelToDomain(m *RetryAttemptModel) *domain.RetryAttempt {
	if m == nil {
		return nil
	}

	return &domain.RetryAttempt{
		ID:                 m.ID,
		ExceptionID:        m.ExceptionID,
		AttemptNumber:      m.AttemptNumber,
		Status:             m.Status,
		Priority:           m.Priority,
		Reason:             m.Reason,
		InitiatedBy:        m.InitiatedBy,
		InitiatedAt:        m.InitiatedAt,
		CompletedAt:        m.CompletedAt,
		ResultSuccess:      m.ResultSuccess,
		ResultMessage:      m.ResultMessage,
		ResultResponseCode: m.ResultResponseCode,
		ResultErrorDetails: m.ResultErrorDetails,
		CancelledBy:        m.CancelledBy,
		CancelReason:       m.CancelReason,
	}
}

func statusChangeModelFromDomain(c *domain.StatusChange) *StatusChangeModel {
	if c == nil {
		return nil
	}

	return &StatusChangeModel{
		ID:          c.ID,
		ExceptionID: c.ExceptionID,
		FromStatus:  c.FromStatus,
		ToStatus:    c.ToStatus,
		ChangedBy:   c.ChangedBy,
		Reason:      c.Reason,
		ChangedAt:   c.ChangedAt,
	}
}

func statusChangeModelToDomain(m *StatusChangeModel) *domain.StatusChange {
	if m == nil {
		return nil
	}

	return &domain.StatusChange{
		ID:          m.ID,
		ExceptionID: m.ExceptionID,
		FromStatus:  m.FromStatus,
		ToStatus:    m.ToStatus,
		ChangedBy:   m.ChangedBy,
		Reason:      m.Reason,
		ChangedAt:   m.ChangedAt,
	}
}
