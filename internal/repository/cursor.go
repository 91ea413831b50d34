package repository

import (
	"cmp"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kursadbilgin/exception-collector/internal/domain"
)

type SortField string

const (
	SortTimestamp  SortField = "timestamp"
	SortCreatedAt  SortField = "createdAt"
	SortSeverity   SortField = "severity"
	SortRetryCount SortField = "retryCount"
)

func (f SortField) IsValid() bool {
	switch f {
	case SortTimestamp, SortCreatedAt, SortSeverity, SortRetryCount:
		return true
	}
	return false
}

func (f SortField) column() string {
	switch f {
	case SortCreatedAt:
		return "created_at"
	case SortSeverity:
		return "severity_rank"
	case SortRetryCount:
		return "retry_count"
	}
	return "event_timestamp"
}

type SortDirection string

const (
	SortAsc  SortDirection = "ASC"
	SortDesc SortDirection = "DESC"
)

type Sort struct {
	Field     SortField
	Direction SortDirection
}

// Normalized fills in the default ordering, newest first by timestamp.
func (s Sort) Normalized() Sort {
	if !s.Field.IsValid() {
		s.Field = SortTimestamp
	}
	if s.Direction != SortAsc {
		s.Direction = SortDesc
	}
	return s
}

func ParseSort(field, direction string) (Sort, error) {
	s := Sort{Field: SortField(strings.TrimSpace(field)), Direction: SortDirection(strings.ToUpper(strings.TrimSpace(direction)))}
	if s.Field != "" && !s.Field.IsValid() {
		return Sort{}, fmt.Errorf("%w: invalid sort field %q", domain.ErrValidation, field)
	}
	if s.Direction != "" && s.Direction != SortAsc && s.Direction != SortDesc {
		return Sort{}, fmt.Errorf("%w: invalid sort direction %q", domain.ErrValidation, direction)
	}
	return s.Normalized(), nil
}

// Cursor is the keyset position after which the next page starts.
type Cursor struct {
	ID        int64     `json:"id"`
	SortField SortField `json:"sortField"`
	SortValue string    `json:"sortValue"`
}

// CursorFor builds the cursor pointing at e under the given sort field.
func CursorFor(e *domain.InterfaceException, field SortField) Cursor {
	c := Cursor{ID: e.ID, SortField: field}
	switch field {
	case SortCreatedAt:
		c.SortValue = e.CreatedAt.UTC().Format(time.RFC3339Nano)
	case SortSeverity:
		c.SortValue = strconv.Itoa(e.Severity.Rank())
	case SortRetryCount:
		c.SortValue = strconv.Itoa(e.RetryCount)
	default:
		c.SortField = SortTimestamp
		c.SortValue = e.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return c
}

func (c Cursor) Encode() string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func DecodeCursor(s string) (*Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", domain.ErrValidation)
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", domain.ErrValidation)
	}
	if c.ID <= 0 || !c.SortField.IsValid() {
		return nil, fmt.Errorf("%w: malformed cursor", domain.ErrValidation)
	}
	if _, err := c.value(); err != nil {
		return nil, err
	}
	return &c, nil
}

// value returns the typed sort key carried by the cursor.
func (c Cursor) value() (any, error) {
	switch c.SortField {
	case SortSeverity, SortRetryCount:
		n, err := strconv.Atoi(c.SortValue)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed cursor value", domain.ErrValidation)
		}
		return n, nil
	default:
		t, err := time.Parse(time.RFC3339Nano, c.SortValue)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed cursor value", domain.ErrValidation)
		}
		return t, nil
	}
}

// Compare orders a and b under s, breaking ties by id in the same direction.
// It returns a negative number when a sorts first.
func (s Sort) Compare(a, b *domain.InterfaceException) int {
	s = s.Normalized()
	c := compareKeys(a, b, s.Field)
	if c == 0 {
		c = cmp.Compare(a.ID, b.ID)
	}
	if s.Direction == SortDesc {
		return -c
	}
	return c
}

// IsAfter reports whether e sorts strictly after the cursor position under s.
func (s Sort) IsAfter(e *domain.InterfaceException, c Cursor) bool {
	s = s.Normalized()
	v, err := c.value()
	if err != nil {
		return true
	}

	var k int
	switch key := v.(type) {
	case int:
		if s.Field == SortSeverity {
			k = cmp.Compare(e.Severity.Rank(), key)
		} else {
			k = cmp.Compare(e.RetryCount, key)
		}
	case time.Time:
		if s.Field == SortCreatedAt {
			k = e.CreatedAt.Compare(key)
		} else {
			k = e.Timestamp.Compare(key)
		}
	}
	if k == 0 {
		k = cmp.Compare(e.ID, c.ID)
	}
	if s.Direction == SortDesc {
		return k < 0
	}
	return k > 0
}

func compareKeys(a, b *domain.InterfaceException, field SortField) int {
	switch field {
	case SortCreatedAt:
		return a.CreatedAt.Compare(b.CreatedAt)
	case SortSeverity:
		return cmp.Compare(a.Severity.Rank(), b.Severity.Rank())
	case SortRetryCount:
		return cmp.Compare(a.RetryCount, b.RetryCount)
	}
	return a.Timestamp.Compare(b.Timestamp)
}
