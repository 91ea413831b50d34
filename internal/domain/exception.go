package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// InterfaceType identifies the upstream system that produced a failure.
type InterfaceType string

const (
	InterfaceOrder        InterfaceType = "ORDER"
	InterfaceCollection   InterfaceType = "COLLECTION"
	InterfaceDistribution InterfaceType = "DISTRIBUTION"
	InterfaceValidation   InterfaceType = "VALIDATION"
)

func (t InterfaceType) String() string { return string(t) }

func (t InterfaceType) IsValid() bool {
	switch t {
	case InterfaceOrder, InterfaceCollection, InterfaceDistribution, InterfaceValidation:
		return true
	}
	return false
}

func ParseInterfaceTypeFromString(s string) (InterfaceType, error) {
	it := InterfaceType(strings.ToUpper(strings.TrimSpace(s)))
	if !it.IsValid() {
		return "", fmt.Errorf("%w: invalid interface type %q", ErrValidation, s)
	}
	return it, nil
}

// InterfaceTypes lists every supported interface in a stable order.
func InterfaceTypes() []InterfaceType {
	return []InterfaceType{InterfaceOrder, InterfaceCollection, InterfaceDistribution, InterfaceValidation}
}

// ExceptionStatus is the lifecycle state of a tracked exception.
type ExceptionStatus string

const (
	StatusNew           ExceptionStatus = "NEW"
	StatusAcknowledged  ExceptionStatus = "ACKNOWLEDGED"
	StatusRetriedFailed ExceptionStatus = "RETRIED_FAILED"
	StatusEscalated     ExceptionStatus = "ESCALATED"
	StatusResolved      ExceptionStatus = "RESOLVED"
	StatusClosed        ExceptionStatus = "CLOSED"
)

func (s ExceptionStatus) String() string { return string(s) }

func (s ExceptionStatus) IsValid() bool {
	switch s {
	case StatusNew, StatusAcknowledged, StatusRetriedFailed, StatusEscalated, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// IsTerminal reports whether no further retry or resolution is possible.
func (s ExceptionStatus) IsTerminal() bool {
	return s == StatusResolved || s == StatusClosed
}

func ParseExceptionStatusFromString(s string) (ExceptionStatus, error) {
	st := ExceptionStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// Severity ranks the business impact of an exception.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) String() string { return string(s) }

func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank orders severities for sorting; unknown values sort first.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

func ParseSeverityFromString(s string) (Severity, error) {
	sv := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if !sv.IsValid() {
		return "", fmt.Errorf("%w: invalid severity %q", ErrValidation, s)
	}
	return sv, nil
}

// Category groups exceptions by failure cause.
type Category string

const (
	CategoryBusinessRule    Category = "BUSINESS_RULE"
	CategoryValidation      Category = "VALIDATION"
	CategorySystemError     Category = "SYSTEM_ERROR"
	CategoryNetworkError    Category = "NETWORK_ERROR"
	CategoryTimeout         Category = "TIMEOUT"
	CategoryAuthentication  Category = "AUTHENTICATION"
	CategoryAuthorization   Category = "AUTHORIZATION"
	CategoryExternalService Category = "EXTERNAL_SERVICE"
)

func (c Category) String() string { return string(c) }

func (c Category) IsValid() bool {
	switch c {
	case CategoryBusinessRule, CategoryValidation, CategorySystemError, CategoryNetworkError,
		CategoryTimeout, CategoryAuthentication, CategoryAuthorization, CategoryExternalService:
		return true
	}
	return false
}

// ResolutionMethod records how an exception was closed out.
type ResolutionMethod string

const (
	ResolutionRetrySuccess     ResolutionMethod = "RETRY_SUCCESS"
	ResolutionManual           ResolutionMethod = "MANUAL_RESOLUTION"
	ResolutionCustomerResolved ResolutionMethod = "CUSTOMER_RESOLVED"
	ResolutionAutomated        ResolutionMethod = "AUTOMATED"
)

func (m ResolutionMethod) String() string { return string(m) }

func (m ResolutionMethod) IsValid() bool {
	switch m {
	case ResolutionRetrySuccess, ResolutionManual, ResolutionCustomerResolved, ResolutionAutomated:
		return true
	}
	return false
}

func ParseResolutionMethodFromString(s string) (ResolutionMethod, error) {
	m := ResolutionMethod(strings.ToUpper(strings.TrimSpace(s)))
	if !m.IsValid() {
		return "", fmt.Errorf("%w: invalid resolution method %q", ErrValidation, s)
	}
	return m, nil
}

const DefaultMaxRetries = 5

// InterfaceException is the canonical record for one failed transaction.
type InterfaceException struct {
	ID                   int64
	TransactionID        string
	InterfaceType        InterfaceType
	Operation            string
	ExternalID           string
	ExceptionReason      string
	Status               ExceptionStatus
	Severity             Severity
	Category             Category
	Retryable            bool
	RetryCount           int
	MaxRetries           int
	CustomerID           string
	LocationCode         string
	CorrelationID        string
	OriginalPayload      json.RawMessage
	Timestamp            time.Time
	ProcessedAt          time.Time
	AcknowledgedAt       *time.Time
	AcknowledgedBy       *string
	AcknowledgementNotes *string
	ResolvedAt           *time.Time
	ResolvedBy           *string
	ResolutionMethod     *ResolutionMethod
	ResolutionNotes      *string
	LastRetryAt          *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// HasRetryBudget reports whether another retry attempt may be started.
func (e *InterfaceException) HasRetryBudget() bool {
	return e.RetryCount < e.MaxRetries
}

// CanAcknowledge reports whether the exception may move to ACKNOWLEDGED.
func (e *InterfaceException) CanAcknowledge() bool {
	switch e.Status {
	case StatusNew, StatusRetriedFailed, StatusEscalated:
		return true
	}
	return false
}

// CanResolve reports whether the exception may move to RESOLVED. Resolution is
// only reachable once the exception has been acknowledged or retried.
func (e *InterfaceException) CanResolve() bool {
	switch e.Status {
	case StatusAcknowledged, StatusRetriedFailed, StatusEscalated:
		return true
	}
	return false
}

// UpsertParams carries the mutable fields written on every inbound event.
type UpsertParams struct {
	TransactionID   string
	InterfaceType   InterfaceType
	Operation       string
	ExternalID      string
	Reason          string
	Severity        Severity
	Category        Category
	Retryable       bool
	CustomerID      string
	LocationCode    string
	CorrelationID   string
	OriginalPayload json.RawMessage
	Timestamp       time.Time
}

func (p UpsertParams) Validate() error {
	if strings.TrimSpace(p.TransactionID) == "" {
		return fmt.Errorf("%w: transactionId is required", ErrValidation)
	}
	if ExceedsLength(p.TransactionID, MaxTransactionIDLength) {
		return fmt.Errorf("%w: transactionId exceeds %d characters", ErrValidation, MaxTransactionIDLength)
	}
	if !p.InterfaceType.IsValid() {
		return fmt.Errorf("%w: invalid interface type %q", ErrValidation, p.InterfaceType)
	}
	if strings.TrimSpace(p.Reason) == "" {
		return fmt.Errorf("%w: exception reason is required", ErrValidation)
	}
	if !p.Severity.IsValid() {
		return fmt.Errorf("%w: invalid severity %q", ErrValidation, p.Severity)
	}
	if !p.Category.IsValid() {
		return fmt.Errorf("%w: invalid category %q", ErrValidation, p.Category)
	}
	return nil
}

// Field length ceilings shared by ingestion and mutations.
const (
	MaxTransactionIDLength = 255
	MaxReasonLength        = 1000
	MaxNotesLength         = 2000
)

// ExceedsLength reports whether s is longer than limit characters.
func ExceedsLength(s string, limit int) bool {
	return utf8.RuneCountInString(s) > limit
}

// TruncateLength cuts s to at most limit characters without splitting one.
func TruncateLength(s string, limit int) string {
	if !ExceedsLength(s, limit) {
		return s
	}
	return string([]rune(s)[:limit])
}

// StatusChange is one append-only audit entry of an exception transition.
type StatusChange struct {
	ID          int64
	ExceptionID int64
	FromStatus  ExceptionStatus
	ToStatus    ExceptionStatus
	ChangedBy   string
	Reason      string
	ChangedAt   time.Time
}
