package domain

import "strings"

// keyword tables are checked in order; first match wins.
var categoryKeywords = []struct {
	category Category
	keywords []string
}{
	{CategoryTimeout, []string{"timeout", "timed out", "deadline"}},
	{CategoryNetworkError, []string{"connection refused", "connection reset", "network", "unreachable", "dns"}},
	{CategoryAuthentication, []string{"unauthenticated", "authentication", "invalid token", "expired token"}},
	{CategoryAuthorization, []string{"unauthorized", "forbidden", "permission", "access denied"}},
	{CategoryExternalService, []string{"service unavailable", "bad gateway", "upstream", "external service"}},
	{CategoryValidation, []string{"invalid", "missing", "required", "malformed", "format"}},
	{CategorySystemError, []string{"internal error", "database", "exception", "null pointer", "out of memory"}},
}

// ClassifyReason derives a category from a free text failure reason. Reasons
// that match nothing are treated as business rule rejections.
func ClassifyReason(reason string) Category {
	normalized := strings.ToLower(reason)
	for _, entry := range categoryKeywords {
		for _, keyword := range entry.keywords {
			if strings.Contains(normalized, keyword) {
				return entry.category
			}
		}
	}
	return CategoryBusinessRule
}

// IsRetryableCategory reports whether an operator retry of this category can
// succeed. Malformed requests and credential failures never will.
func IsRetryableCategory(c Category) bool {
	switch c {
	case CategoryValidation, CategoryAuthentication, CategoryAuthorization:
		return false
	}
	return c.IsValid()
}

// SeverityFor picks a severity from the interface, operation and category.
func SeverityFor(interfaceType InterfaceType, operation string, category Category) Severity {
	switch category {
	case CategorySystemError, CategoryExternalService:
		if interfaceType == InterfaceOrder || interfaceType == InterfaceDistribution {
			return SeverityCritical
		}
		return SeverityHigh
	case CategoryNetworkError, CategoryTimeout:
		return SeverityHigh
	case CategoryAuthentication, CategoryAuthorization:
		return SeverityHigh
	case CategoryValidation:
		return SeverityLow
	}

	op := strings.ToUpper(operation)
	if strings.Contains(op, "CANCEL") {
		return SeverityLow
	}
	if interfaceType == InterfaceDistribution {
		return SeverityHigh
	}
	return SeverityMedium
}
