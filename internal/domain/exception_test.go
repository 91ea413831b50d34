package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestParseExceptionStatusFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    ExceptionStatus
		wantErr bool
	}{
		{name: "valid uppercase", input: "RESOLVED", want: StatusResolved},
		{name: "valid lowercase with spaces", input: " retried_failed ", want: StatusRetriedFailed},
		{name: "invalid", input: "unknown", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseExceptionStatusFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseExceptionStatusFromString() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseExceptionStatusFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseExceptionStatusFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestParseInterfaceTypeFromString(t *testing.T) {
	t.Parallel()

	got, err := ParseInterfaceTypeFromString(" order ")
	if err != nil {
		t.Fatalf("ParseInterfaceTypeFromString() unexpected error = %v", err)
	}
	if got != InterfaceOrder {
		t.Fatalf("ParseInterfaceTypeFromString() = %s, want %s", got, InterfaceOrder)
	}

	_, err = ParseInterfaceTypeFromString("billing")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseInterfaceTypeFromString() error = %v, want ErrValidation", err)
	}
}

func TestParseRetryPriorityDefaultsToNormal(t *testing.T) {
	t.Parallel()

	got, err := ParseRetryPriorityFromString("")
	if err != nil {
		t.Fatalf("ParseRetryPriorityFromString() unexpected error = %v", err)
	}
	if got != PriorityNormal {
		t.Fatalf("ParseRetryPriorityFromString() = %s, want %s", got, PriorityNormal)
	}

	_, err = ParseRetryPriorityFromString("asap")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("ParseRetryPriorityFromString() error = %v, want ErrValidation", err)
	}
}

func TestInterfaceExceptionTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status         ExceptionStatus
		canAcknowledge bool
		canResolve     bool
	}{
		{status: StatusNew, canAcknowledge: true, canResolve: false},
		{status: StatusAcknowledged, canAcknowledge: false, canResolve: true},
		{status: StatusRetriedFailed, canAcknowledge: true, canResolve: true},
		{status: StatusEscalated, canAcknowledge: true, canResolve: true},
		{status: StatusResolved, canAcknowledge: false, canResolve: false},
		{status: StatusClosed, canAcknowledge: false, canResolve: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.status.String(), func(t *testing.T) {
			t.Parallel()

			e := &InterfaceException{Status: tt.status}
			if got := e.CanAcknowledge(); got != tt.canAcknowledge {
				t.Fatalf("CanAcknowledge() = %v, want %v", got, tt.canAcknowledge)
			}
			if got := e.CanResolve(); got != tt.canResolve {
				t.Fatalf("CanResolve() = %v, want %v", got, tt.canResolve)
			}
		})
	}
}

func TestUpsertParamsValidate(t *testing.T) {
	t.Parallel()

	base := UpsertParams{
		TransactionID: "TXN-1",
		InterfaceType: InterfaceOrder,
		Operation:     "CREATE_ORDER",
		Reason:        "product out of stock",
		Severity:      SeverityMedium,
		Category:      CategoryBusinessRule,
	}

	tests := []struct {
		name    string
		mutate  func(*UpsertParams)
		wantErr bool
	}{
		{name: "valid params", mutate: func(p *UpsertParams) {}},
		{name: "missing transaction id", mutate: func(p *UpsertParams) { p.TransactionID = " " }, wantErr: true},
		{
			name:    "transaction id too long",
			mutate:  func(p *UpsertParams) { p.TransactionID = strings.Repeat("x", MaxTransactionIDLength+1) },
			wantErr: true,
		},
		{
			name:   "multibyte transaction id at limit",
			mutate: func(p *UpsertParams) { p.TransactionID = strings.Repeat("é", MaxTransactionIDLength) },
		},
		{name: "invalid interface", mutate: func(p *UpsertParams) { p.InterfaceType = "BILLING" }, wantErr: true},
		{name: "missing reason", mutate: func(p *UpsertParams) { p.Reason = "" }, wantErr: true},
		{name: "invalid severity", mutate: func(p *UpsertParams) { p.Severity = "URGENT" }, wantErr: true},
		{name: "invalid category", mutate: func(p *UpsertParams) { p.Category = "OTHER" }, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			current := base
			tt.mutate(&current)

			err := current.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("Validate() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error = %v", err)
			}
		})
	}
}

func TestLengthCountsCharacters(t *testing.T) {
	t.Parallel()

	wide := strings.Repeat("ğ", 10)
	if ExceedsLength(wide, 10) {
		t.Fatalf("ExceedsLength(%d bytes, 10) = true, want false", len(wide))
	}
	if !ExceedsLength(wide+"x", 10) {
		t.Fatal("ExceedsLength(11 characters, 10) = false, want true")
	}

	got := TruncateLength(wide+"tail", 12)
	if got != wide+"ta" {
		t.Fatalf("TruncateLength() = %q, want %q", got, wide+"ta")
	}
	if got := TruncateLength("short", 12); got != "short" {
		t.Fatalf("TruncateLength() = %q, want short", got)
	}
}

func TestClassifyReason(t *testing.T) {
	t.Parallel()

	tests := []struct {
		reason string
		want   Category
	}{
		{reason: "Upstream call timed out after 30s", want: CategoryTimeout},
		{reason: "connection refused by inventory-service", want: CategoryNetworkError},
		{reason: "Missing required field: locationCode", want: CategoryValidation},
		{reason: "Access denied for location", want: CategoryAuthorization},
		{reason: "Product out of stock", want: CategoryBusinessRule},
	}

	for _, tt := range tests {
		if got := ClassifyReason(tt.reason); got != tt.want {
			t.Errorf("ClassifyReason(%q) = %s, want %s", tt.reason, got, tt.want)
		}
	}
}

func TestIsRetryableCategory(t *testing.T) {
	t.Parallel()

	if IsRetryableCategory(CategoryValidation) {
		t.Fatal("validation failures should not be retryable")
	}
	if !IsRetryableCategory(CategoryTimeout) {
		t.Fatal("timeouts should be retryable")
	}
	if IsRetryableCategory(Category("OTHER")) {
		t.Fatal("unknown categories should not be retryable")
	}
}

func TestParseRoles(t *testing.T) {
	t.Parallel()

	roles := ParseRoles("role_admin, OPERATIONS,unknown")
	if len(roles) != 2 {
		t.Fatalf("ParseRoles() len = %d, want 2", len(roles))
	}

	p := Principal{Username: "ops", Roles: roles}
	if !p.IsAdmin() || !p.CanMutate() {
		t.Fatalf("principal %+v should be admin and able to mutate", p)
	}

	viewer := Principal{Username: "v", Roles: []Role{RoleViewer}}
	if viewer.CanMutate() {
		t.Fatal("viewer should not be able to mutate")
	}
}
