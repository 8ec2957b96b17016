// Package legacytest provides an in-memory legacy store for tests.
package legacytest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yungbote/habitbridge-backend/internal/legacy"
)

type Calls struct {
	List   int
	Create int
	Update int
	Delete int
}

func (c Calls) Total() int { return c.List + c.Create + c.Update + c.Delete }

// Store is a concurrency-safe in-memory legacy.Store. Err, when set, is
// returned from every call for the tables it names ("*" matches all).
type Store struct {
	mu     sync.Mutex
	tables map[string]map[string]legacy.Record
	seq    int
	calls  Calls
	Err    map[string]error
}

var _ legacy.Store = (*Store)(nil)

func New() *Store {
	return &Store{tables: map[string]map[string]legacy.Record{}}
}

func (s *Store) Calls() Calls {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = Calls{}
}

// Seed inserts a record without counting a call and returns its id.
func (s *Store) Seed(table string, fields map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(table, fields).ID
}

func (s *Store) Records(table string) []legacy.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]legacy.Record, 0, len(s.tables[table]))
	for _, r := range s.tables[table] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) failure(table string) error {
	if s.Err == nil {
		return nil
	}
	if err, ok := s.Err[table]; ok {
		return err
	}
	return s.Err["*"]
}

func (s *Store) List(_ context.Context, table string, f legacy.Filter) ([]legacy.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.List++
	if err := s.failure(table); err != nil {
		return nil, err
	}
	var out []legacy.Record
	for _, r := range s.tables[table] {
		if matches(r, f) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.MaxRecords > 0 && len(out) > f.MaxRecords {
		out = out[:f.MaxRecords]
	}
	return out, nil
}

func (s *Store) Create(_ context.Context, table string, fields map[string]any) (*legacy.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.Create++
	if err := s.failure(table); err != nil {
		return nil, err
	}
	rec := s.insert(table, fields)
	return &rec, nil
}

func (s *Store) Update(_ context.Context, table, id string, fields map[string]any) (*legacy.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.Update++
	if err := s.failure(table); err != nil {
		return nil, err
	}
	rec, ok := s.tables[table][id]
	if !ok {
		return nil, &legacy.StatusError{StatusCode: 404, Type: "NOT_FOUND"}
	}
	for k, v := range fields {
		rec.Fields[k] = v
	}
	s.tables[table][id] = rec
	return &rec, nil
}

func (s *Store) Delete(_ context.Context, table, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls.Delete++
	if err := s.failure(table); err != nil {
		return err
	}
	if _, ok := s.tables[table][id]; !ok {
		return &legacy.StatusError{StatusCode: 404, Type: "NOT_FOUND"}
	}
	delete(s.tables[table], id)
	return nil
}

func (s *Store) insert(table string, fields map[string]any) legacy.Record {
	s.seq++
	rec := legacy.Record{
		ID:          fmt.Sprintf("rec%014d", s.seq),
		CreatedTime: time.Now().UTC(),
		Fields:      map[string]any{},
	}
	for k, v := range fields {
		rec.Fields[k] = v
	}
	if s.tables[table] == nil {
		s.tables[table] = map[string]legacy.Record{}
	}
	s.tables[table][rec.ID] = rec
	return rec
}

func matches(r legacy.Record, f legacy.Filter) bool {
	if id := strings.TrimSpace(f.RecordID); id != "" {
		return r.ID == id
	}
	for _, c := range f.Conditions {
		if !fieldHas(r.Fields[c.Field], c.Value) {
			return false
		}
	}
	return true
}

func fieldHas(v any, want string) bool {
	switch x := v.(type) {
	case []string:
		for _, s := range x {
			if s == want {
				return true
			}
		}
		return false
	case []any:
		for _, s := range x {
			if fmt.Sprint(s) == want {
				return true
			}
		}
		return false
	case nil:
		return want == ""
	default:
		return strings.EqualFold(fmt.Sprint(x), want)
	}
}
