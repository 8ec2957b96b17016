package legacy

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	types "github.com/yungbote/habitbridge-backend/internal/domain"
)

//go:embed schema.yaml
var defaultSchema []byte

type Link struct {
	Field string `yaml:"field"`
	// Entity is set when the relational value is a relational id that must
	// be translated through the id map before it is written.
	Entity types.EntityType `yaml:"entity"`
}

type Table struct {
	Name   string            `yaml:"table"`
	Fields map[string]string `yaml:"fields"`
	Links  map[string]Link   `yaml:"links"`
	Lookup []string          `yaml:"lookup"`
}

// LegacyField returns the legacy field name for a relational column.
func (t *Table) LegacyField(column string) (string, bool) {
	if f, ok := t.Fields[column]; ok {
		return f, true
	}
	if l, ok := t.Links[column]; ok {
		return l.Field, true
	}
	return "", false
}

type Schema struct {
	Entities map[types.EntityType]*Table `yaml:"entities"`
}

func DefaultSchema() (*Schema, error) {
	return ParseSchema(defaultSchema)
}

func ParseSchema(raw []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("legacy schema: %w", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Schema) validate() error {
	for entity, t := range s.Entities {
		if !entity.Valid() {
			return fmt.Errorf("legacy schema: unknown entity %q", entity)
		}
		if t == nil || strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("legacy schema: %s: missing table", entity)
		}
		for col, l := range t.Links {
			if _, dup := t.Fields[col]; dup {
				return fmt.Errorf("legacy schema: %s.%s is both field and link", entity, col)
			}
			if l.Entity != "" && !l.Entity.Valid() {
				return fmt.Errorf("legacy schema: %s.%s links unknown entity %q", entity, col, l.Entity)
			}
		}
		for _, col := range t.Lookup {
			if _, ok := t.LegacyField(col); !ok {
				return fmt.Errorf("legacy schema: %s lookup column %q is not mapped", entity, col)
			}
		}
	}
	for _, e := range types.EntityTypes() {
		if _, ok := s.Entities[e]; !ok {
			return fmt.Errorf("legacy schema: no table for %s", e)
		}
	}
	return nil
}

func (s *Schema) Table(entity types.EntityType) (*Table, bool) {
	if s == nil {
		return nil, false
	}
	t, ok := s.Entities[entity]
	return t, ok
}

// EntityForTable resolves a legacy table name (case-insensitive) to the
// entity type stored in it.
func (s *Schema) EntityForTable(name string) (types.EntityType, bool) {
	if s == nil {
		return "", false
	}
	for entity, t := range s.Entities {
		if strings.EqualFold(t.Name, strings.TrimSpace(name)) {
			return entity, true
		}
	}
	return "", false
}

// Columns reads a legacy record back into relational column names. Link
// fields yield the linked legacy record id untranslated.
func (t *Table) Columns(rec Record) map[string]string {
	out := make(map[string]string, len(t.Fields)+len(t.Links))
	for col, field := range t.Fields {
		if v := rec.String(field); v != "" {
			out[col] = v
		}
	}
	for col, l := range t.Links {
		if v := rec.String(l.Field); v != "" {
			out[col] = v
		}
	}
	return out
}

func (t *Table) sortedLinkColumns() []string {
	cols := make([]string, 0, len(t.Links))
	for col := range t.Links {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}
