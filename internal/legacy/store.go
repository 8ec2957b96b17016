// Package legacy talks to the tabular database the relational store is
// replacing. Everything outside this package sees typed rows; raw field maps
// stop here.
package legacy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/habitbridge-backend/internal/platform/apierr"
	"github.com/yungbote/habitbridge-backend/internal/platform/httpx"
)

// Store is the per-table capability of the legacy database. Record ids are
// opaque strings owned by the legacy side.
type Store interface {
	List(ctx context.Context, table string, f Filter) ([]Record, error)
	Create(ctx context.Context, table string, fields map[string]any) (*Record, error)
	Update(ctx context.Context, table, id string, fields map[string]any) (*Record, error)
	Delete(ctx context.Context, table, id string) error
}

type Record struct {
	ID          string         `json:"id"`
	CreatedTime time.Time      `json:"createdTime"`
	Fields      map[string]any `json:"fields"`
}

// String returns the field as text; link fields yield their first element.
func (r Record) String(field string) string {
	return fieldString(r.Fields[field])
}

func fieldString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case []any:
		if len(x) == 0 {
			return ""
		}
		return fieldString(x[0])
	case []string:
		if len(x) == 0 {
			return ""
		}
		return strings.TrimSpace(x[0])
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

type Condition struct {
	Field string
	Value string
}

// Filter selects records. RecordID wins over Conditions when both are set.
type Filter struct {
	Conditions []Condition
	RecordID   string
	MaxRecords int
}

func Where(field, value string) Filter {
	return Filter{Conditions: []Condition{{Field: field, Value: value}}}
}

func ByID(id string) Filter {
	return Filter{RecordID: id, MaxRecords: 1}
}

// Formula renders f in the legacy API's formula language.
func (f Filter) Formula() string {
	if id := strings.TrimSpace(f.RecordID); id != "" {
		return "RECORD_ID()=" + quote(id)
	}
	parts := make([]string, 0, len(f.Conditions))
	for _, c := range f.Conditions {
		parts = append(parts, "{"+c.Field+"}="+quote(c.Value))
	}
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	default:
		return "AND(" + strings.Join(parts, ",") + ")"
	}
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

// StatusError is a non-2xx answer from the legacy API.
type StatusError struct {
	StatusCode int
	Type       string
	Message    string
	Body       string
}

func (e *StatusError) Error() string {
	if e == nil {
		return "legacy: <nil error>"
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = strings.TrimSpace(e.Body)
	}
	if len(msg) > 2000 {
		msg = msg[:2000] + "..."
	}
	if e.Type != "" {
		return fmt.Sprintf("legacy http %d %s: %s", e.StatusCode, e.Type, msg)
	}
	return fmt.Sprintf("legacy http %d: %s", e.StatusCode, msg)
}

func (e *StatusError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (e *StatusError) Unwrap() error {
	if e != nil && e.StatusCode == 404 {
		return apierr.ErrNotFound
	}
	return nil
}

// Permanent reports whether retrying the same request cannot succeed.
func (e *StatusError) Permanent() bool {
	return e != nil && httpx.IsPermanentHTTPStatus(e.StatusCode)
}
