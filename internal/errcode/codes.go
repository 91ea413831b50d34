// Package errcode defines the closed set of mutation error codes. Category,
// retryability and client/server classification are derived from the code
// prefix so that no code carries hand-maintained metadata.
package errcode

import "strings"

// Code is a mutation error code such as RETRY_PENDING_RETRY_EXISTS.
type Code string

const (
	CodeRequiredField Code = "VALIDATION_REQUIRED_FIELD"
	CodeFieldTooLong  Code = "VALIDATION_FIELD_TOO_LONG"
	CodeInvalidValue  Code = "VALIDATION_INVALID_VALUE"
	CodeDuplicateIDs  Code = "VALIDATION_DUPLICATE_IDS"
	CodeEmptyBatch    Code = "VALIDATION_EMPTY_BATCH"

	CodeExceptionNotFound      Code = "BUSINESS_EXCEPTION_NOT_FOUND"
	CodeInvalidExceptionState  Code = "BUSINESS_INVALID_EXCEPTION_STATE"
	CodeConcurrentModification Code = "BUSINESS_CONCURRENT_MODIFICATION"

	CodeInsufficientPermissions Code = "SECURITY_INSUFFICIENT_PERMISSIONS"
	CodeBulkSizeForbidden       Code = "SECURITY_BULK_SIZE_EXCEEDED"
	CodeRateLimitExceeded       Code = "SECURITY_RATE_LIMIT_EXCEEDED"

	CodeDatabaseError      Code = "SYSTEM_DATABASE_ERROR"
	CodeServiceUnavailable Code = "SYSTEM_SERVICE_UNAVAILABLE"
	CodeTimeout            Code = "SYSTEM_TIMEOUT"
	CodeInternalError      Code = "SYSTEM_INTERNAL_ERROR"

	CodeNotRetryable       Code = "RETRY_NOT_RETRYABLE"
	CodePendingRetryExists Code = "RETRY_PENDING_RETRY_EXISTS"
	CodeRetryLimitExceeded Code = "RETRY_LIMIT_EXCEEDED"
	CodeBulkSizeExceeded   Code = "RETRY_BULK_SIZE_EXCEEDED"

	CodeAlreadyAcknowledged Code = "ACK_ALREADY_ACKNOWLEDGED"
	CodeAckInvalidState     Code = "ACK_INVALID_STATE"

	CodeAlreadyResolved         Code = "RESOLVE_ALREADY_RESOLVED"
	CodeResolveInvalidState     Code = "RESOLVE_INVALID_STATE"
	CodeInvalidResolutionMethod Code = "RESOLVE_INVALID_METHOD"

	CodeNoPendingRetry Code = "CANCEL_NO_PENDING_RETRY"
)

var messages = map[Code]string{
	CodeRequiredField:           "A required field is missing",
	CodeFieldTooLong:            "A field exceeds its maximum length",
	CodeInvalidValue:            "A field has an invalid value",
	CodeDuplicateIDs:            "The request contains duplicate transaction IDs",
	CodeEmptyBatch:              "At least one transaction ID is required",
	CodeExceptionNotFound:       "Exception not found",
	CodeInvalidExceptionState:   "The exception is not in a state that allows this operation",
	CodeConcurrentModification:  "The exception was modified concurrently, reload and try again",
	CodeInsufficientPermissions: "Insufficient permissions for this operation",
	CodeBulkSizeForbidden:       "Bulk operations of this size require the ADMIN role",
	CodeRateLimitExceeded:       "Too many operations, try again later",
	CodeDatabaseError:           "A database error occurred",
	CodeServiceUnavailable:      "A required service is unavailable",
	CodeTimeout:                 "The operation timed out",
	CodeInternalError:           "An internal error occurred",
	CodeNotRetryable:            "The exception is not retryable",
	CodePendingRetryExists:      "A retry is already pending for this exception",
	CodeRetryLimitExceeded:      "The retry limit for this exception has been reached",
	CodeBulkSizeExceeded:        "Bulk retry size exceeds the maximum allowed",
	CodeAlreadyAcknowledged:     "The exception is already acknowledged",
	CodeAckInvalidState:         "The exception cannot be acknowledged in its current state",
	CodeAlreadyResolved:         "The exception is already resolved",
	CodeResolveInvalidState:     "The exception must be acknowledged before it can be resolved",
	CodeInvalidResolutionMethod: "Unknown resolution method",
	CodeNoPendingRetry:          "There is no pending retry to cancel",
}

// Codes returns every defined code.
func Codes() []Code {
	codes := make([]Code, 0, len(messages))
	for code := range messages {
		codes = append(codes, code)
	}
	return codes
}

func (c Code) String() string { return string(c) }

func (c Code) IsValid() bool {
	_, ok := messages[c]
	return ok
}

// Message is the client-safe default message for the code.
func (c Code) Message() string {
	if msg, ok := messages[c]; ok {
		return msg
	}
	return messages[CodeInternalError]
}

// Category is the top-level bucket a code belongs to.
type Category string

const (
	CategoryInputValidation Category = "INPUT_VALIDATION"
	CategoryBusinessRule    Category = "BUSINESS_RULE"
	CategorySecurity        Category = "SECURITY"
	CategorySystem          Category = "SYSTEM"
	CategoryRetry           Category = "RETRY_OPERATION"
	CategoryAcknowledge     Category = "ACKNOWLEDGE_OPERATION"
	CategoryResolve         Category = "RESOLVE_OPERATION"
	CategoryCancel          Category = "CANCEL_OPERATION"
)

// Classification is the coarse kind clients switch on.
type Classification string

const (
	ClassValidation             Classification = "validation"
	ClassBusinessRule           Classification = "business-rule"
	ClassAuthorization          Classification = "authorization"
	ClassNotFound               Classification = "not-found"
	ClassInternal               Classification = "internal"
	ClassConcurrentModification Classification = "concurrent-modification"
)

type prefixRule struct {
	prefix         string
	category       Category
	classification Classification
	retryable      bool
}

var prefixRules = []prefixRule{
	{prefix: "VALIDATION_", category: CategoryInputValidation, classification: ClassValidation},
	{prefix: "BUSINESS_", category: CategoryBusinessRule, classification: ClassBusinessRule},
	{prefix: "SECURITY_", category: CategorySecurity, classification: ClassAuthorization},
	{prefix: "SYSTEM_", category: CategorySystem, classification: ClassInternal, retryable: true},
	{prefix: "RETRY_", category: CategoryRetry, classification: ClassBusinessRule},
	{prefix: "ACK_", category: CategoryAcknowledge, classification: ClassBusinessRule},
	{prefix: "RESOLVE_", category: CategoryResolve, classification: ClassBusinessRule},
	{prefix: "CANCEL_", category: CategoryCancel, classification: ClassBusinessRule},
}

var suffixClassifications = []struct {
	suffix         string
	classification Classification
}{
	{suffix: "_NOT_FOUND", classification: ClassNotFound},
	{suffix: "_CONCURRENT_MODIFICATION", classification: ClassConcurrentModification},
}

func (c Code) rule() prefixRule {
	for _, rule := range prefixRules {
		if strings.HasPrefix(string(c), rule.prefix) {
			return rule
		}
	}
	return prefixRules[3]
}

func (c Code) Category() Category { return c.rule().category }

func (c Code) Classification() Classification {
	for _, s := range suffixClassifications {
		if strings.HasSuffix(string(c), s.suffix) {
			return s.classification
		}
	}
	return c.rule().classification
}

// Retryable reports whether a client may resend the same request unchanged.
func (c Code) Retryable() bool { return c.rule().retryable }

func (c Code) IsServerError() bool { return c.Category() == CategorySystem }

func (c Code) IsClientError() bool { return !c.IsServerError() }
