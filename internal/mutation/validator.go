package mutation

import (
	"strings"
	"time"

	"github.com/kursadbilgin/exception-collector/internal/domain"
	"github.com/kursadbilgin/exception-collector/internal/errcode"
)

type RetryInput struct {
	TransactionID string `json:"transactionId"`
	Priority      string `json:"priority"`
	Reason        string `json:"reason"`
}

type AcknowledgeInput struct {
	TransactionID string `json:"transactionId"`
	Reason        string `json:"reason"`
	Notes         string `json:"notes"`
}

type ResolveInput struct {
	TransactionID    string `json:"transactionId"`
	ResolutionMethod string `json:"resolutionMethod"`
	ResolutionNotes  string `json:"resolutionNotes"`
}

type CancelRetryInput struct {
	TransactionID string `json:"transactionId"`
	Reason        string `json:"reason"`
}

type BulkRetryInput struct {
	TransactionIDs []string `json:"transactionIds"`
	Priority       string   `json:"priority"`
	Reason         string   `json:"reason"`
}

// ValidationResult collects every failure found by a validation stage.
type ValidationResult struct {
	Valid  bool
	Errors []*errcode.Error
}

func valid() ValidationResult {
	return ValidationResult{Valid: true}
}

func (v *ValidationResult) Add(err *errcode.Error) {
	v.Valid = false
	v.Errors = append(v.Errors, err)
}

func (v *ValidationResult) merge(other ValidationResult) {
	for _, err := range other.Errors {
		v.Add(err)
	}
}

// Client converts the collected failures into client errors stamped with at.
func (v ValidationResult) Client(at time.Time) []Error {
	out := make([]Error, 0, len(v.Errors))
	for _, err := range v.Errors {
		out = append(out, NewError(err, at))
	}
	return out
}

type fieldRule struct {
	field    string
	value    string
	required bool
	maxLen   int
}

func checkFields(rules ...fieldRule) ValidationResult {
	result := valid()
	for _, r := range rules {
		value := strings.TrimSpace(r.value)
		if value == "" {
			if r.required {
				result.Add(errcode.Newf(errcode.CodeRequiredField, "%s is required", r.field).WithField(r.field))
			}
			continue
		}
		if r.maxLen > 0 && domain.ExceedsLength(value, r.maxLen) {
			result.Add(errcode.Newf(errcode.CodeFieldTooLong, "%s must be at most %d characters", r.field, r.maxLen).
				WithField(r.field).
				WithDetail("maxLength", r.maxLen))
		}
	}
	return result
}

func transactionIDRule(id string) fieldRule {
	return fieldRule{field: "transactionId", value: id, required: true, maxLen: domain.MaxTransactionIDLength}
}

func ValidateRetryInput(in RetryInput) ValidationResult {
	result := checkFields(
		transactionIDRule(in.TransactionID),
		fieldRule{field: "reason", value: in.Reason, required: true, maxLen: domain.MaxReasonLength},
	)
	result.merge(validatePriority(in.Priority))
	return result
}

func ValidateAcknowledgeInput(in AcknowledgeInput) ValidationResult {
	return checkFields(
		transactionIDRule(in.TransactionID),
		fieldRule{field: "reason", value: in.Reason, required: true, maxLen: domain.MaxReasonLength},
		fieldRule{field: "notes", value: in.Notes, maxLen: domain.MaxNotesLength},
	)
}

func ValidateResolveInput(in ResolveInput) ValidationResult {
	result := checkFields(
		transactionIDRule(in.TransactionID),
		fieldRule{field: "resolutionMethod", value: in.ResolutionMethod, required: true},
		fieldRule{field: "resolutionNotes", value: in.ResolutionNotes, maxLen: domain.MaxNotesLength},
	)
	if method := strings.TrimSpace(in.ResolutionMethod); method != "" {
		if _, err := domain.ParseResolutionMethodFromString(method); err != nil {
			result.Add(errcode.New(errcode.CodeInvalidResolutionMethod, "").
				WithField("resolutionMethod").
				WithDetail("value", method))
		}
	}
	return result
}

func ValidateCancelRetryInput(in CancelRetryInput) ValidationResult {
	return checkFields(
		transactionIDRule(in.TransactionID),
		fieldRule{field: "reason", value: in.Reason, maxLen: domain.MaxReasonLength},
	)
}

// ValidateBulkRetryInput checks the shared fields of a bulk retry. Batch
// size and duplicates are checked by the orchestrator.
func ValidateBulkRetryInput(in BulkRetryInput) ValidationResult {
	result := checkFields(fieldRule{field: "reason", value: in.Reason, required: true, maxLen: domain.MaxReasonLength})
	for i, id := range in.TransactionIDs {
		for _, err := range checkFields(transactionIDRule(id)).Errors {
			result.Add(err.WithDetail("index", i))
		}
	}
	result.merge(validatePriority(in.Priority))
	return result
}

func validatePriority(raw string) ValidationResult {
	result := valid()
	if _, err := domain.ParseRetryPriorityFromString(raw); err != nil {
		result.Add(errcode.Newf(errcode.CodeInvalidValue, "unknown priority %q", strings.TrimSpace(raw)).WithField("priority"))
	}
	return result
}

// existenceCheckable reports whether transactionID is worth looking up. A
// blank or oversized id is left to the field stage.
func existenceCheckable(transactionID string) bool {
	id := strings.TrimSpace(transactionID)
	return id != "" && !domain.ExceedsLength(id, domain.MaxTransactionIDLength)
}
