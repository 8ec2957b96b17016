package legacy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yungbote/habitbridge-backend/internal/data/repos"
	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/domain/ids"
	"github.com/yungbote/habitbridge-backend/internal/platform/apierr"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
)

// ErrUnresolvedLink means a linked row has not reached the legacy store yet.
// It clears up once the linked row's own event is delivered.
var ErrUnresolvedLink = errors.New("legacy: linked record not synced yet")

// Writer applies relational column values to the legacy store, keeping the
// id map current.
type Writer struct {
	store  Store
	schema *Schema
	idMap  repos.IDMapRepo
	log    *logger.Logger
}

func NewWriter(store Store, schema *Schema, idMap repos.IDMapRepo, baseLog *logger.Logger) *Writer {
	return &Writer{
		store:  store,
		schema: schema,
		idMap:  idMap,
		log:    baseLog.With("component", "LegacyWriter"),
	}
}

func (w *Writer) Schema() *Schema { return w.schema }

// Upsert writes columns for entity. The target record is, in order: the one
// the id map points at, the one matching the table's lookup columns, or a new
// one. relationalID may be empty when no relational row exists; the id map is
// then neither read nor written.
func (w *Writer) Upsert(ctx context.Context, entity types.EntityType, relationalID string, columns map[string]any) (*Record, error) {
	table, ok := w.schema.Table(entity)
	if !ok {
		return nil, fmt.Errorf("legacy: no table for entity %q: %w", entity, apierr.ErrInvalidArgument)
	}
	dbc := dbctx.Context{Ctx: ctx}
	fields, err := w.fields(dbc, table, columns)
	if err != nil {
		return nil, err
	}

	var rec *Record
	if relationalID != "" {
		legacyID, found, err := w.idMap.FindLegacyID(dbc, entity, relationalID)
		if err != nil {
			return nil, err
		}
		if found {
			rec, err = w.store.Update(ctx, table.Name, legacyID, fields)
			if err != nil && !errors.Is(err, apierr.ErrNotFound) {
				return nil, err
			}
			if err != nil {
				w.log.Warn("mapped legacy record is gone, writing a new one",
					"entity_type", entity, "relational_id", relationalID, "legacy_id", legacyID)
				rec = nil
			}
		}
	}

	if rec == nil {
		if f, ok := lookupFilter(table, fields); ok {
			matches, err := w.store.List(ctx, table.Name, f)
			if err != nil {
				return nil, err
			}
			if len(matches) > 0 {
				if rec, err = w.store.Update(ctx, table.Name, matches[0].ID, fields); err != nil {
					return nil, err
				}
			}
		}
	}
	if rec == nil {
		if rec, err = w.store.Create(ctx, table.Name, fields); err != nil {
			return nil, err
		}
	}

	if relationalID != "" {
		if err := w.idMap.Upsert(dbc, entity, relationalID, rec.ID); err != nil {
			return nil, fmt.Errorf("legacy: id map upsert: %w", err)
		}
	}
	return rec, nil
}

// Delete removes the legacy record mapped to relationalID. Unknown mappings
// and records already gone are not errors.
func (w *Writer) Delete(ctx context.Context, entity types.EntityType, relationalID string) error {
	table, ok := w.schema.Table(entity)
	if !ok {
		return fmt.Errorf("legacy: no table for entity %q: %w", entity, apierr.ErrInvalidArgument)
	}
	legacyID := relationalID
	if !ids.IsLegacyID(relationalID) {
		id, found, err := w.idMap.FindLegacyID(dbctx.Context{Ctx: ctx}, entity, relationalID)
		if err != nil {
			return err
		}
		if !found {
			w.log.Debug("delete for unmapped row skipped", "entity_type", entity, "relational_id", relationalID)
			return nil
		}
		legacyID = id
	}
	if err := w.store.Delete(ctx, table.Name, legacyID); err != nil && !errors.Is(err, apierr.ErrNotFound) {
		return err
	}
	return nil
}

func (w *Writer) fields(dbc dbctx.Context, table *Table, columns map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(columns))
	for col, field := range table.Fields {
		if v, ok := columns[col]; ok {
			out[field] = v
		}
	}
	for _, col := range table.sortedLinkColumns() {
		raw, present := columns[col]
		if !present {
			continue
		}
		link := table.Links[col]
		v := fieldString(raw)
		if v == "" {
			out[link.Field] = []string{}
			continue
		}
		if link.Entity != "" && !ids.IsLegacyID(v) {
			id, found, err := w.idMap.FindLegacyID(dbc, link.Entity, v)
			if err != nil {
				return nil, err
			}
			if !found {
				return nil, fmt.Errorf("%s %s=%s: %w", table.Name, col, v, ErrUnresolvedLink)
			}
			v = id
		}
		out[link.Field] = []string{v}
	}
	return out, nil
}

func lookupFilter(table *Table, fields map[string]any) (Filter, bool) {
	if len(table.Lookup) == 0 {
		return Filter{}, false
	}
	f := Filter{MaxRecords: 1}
	for _, col := range table.Lookup {
		field, _ := table.LegacyField(col)
		v := fieldString(fields[field])
		if strings.TrimSpace(v) == "" {
			return Filter{}, false
		}
		f.Conditions = append(f.Conditions, Condition{Field: field, Value: v})
	}
	return f, true
}

// Find returns the record matching the table's lookup columns, or nil.
func (w *Writer) Find(ctx context.Context, entity types.EntityType, columns map[string]any) (*Record, error) {
	table, ok := w.schema.Table(entity)
	if !ok {
		return nil, fmt.Errorf("legacy: no table for entity %q: %w", entity, apierr.ErrInvalidArgument)
	}
	fields, err := w.fields(dbctx.Context{Ctx: ctx}, table, columns)
	if err != nil {
		return nil, err
	}
	f, ok := lookupFilter(table, fields)
	if !ok {
		return nil, fmt.Errorf("legacy: %s lookup needs %v: %w", entity, table.Lookup, apierr.ErrInvalidArgument)
	}
	recs, err := w.store.List(ctx, table.Name, f)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// Create always writes a new record.
func (w *Writer) Create(ctx context.Context, entity types.EntityType, columns map[string]any) (*Record, error) {
	table, ok := w.schema.Table(entity)
	if !ok {
		return nil, fmt.Errorf("legacy: no table for entity %q: %w", entity, apierr.ErrInvalidArgument)
	}
	fields, err := w.fields(dbctx.Context{Ctx: ctx}, table, columns)
	if err != nil {
		return nil, err
	}
	return w.store.Create(ctx, table.Name, fields)
}

// DeleteMatching deletes the record found by the lookup columns. It reports
// whether one existed.
func (w *Writer) DeleteMatching(ctx context.Context, entity types.EntityType, columns map[string]any) (bool, error) {
	rec, err := w.Find(ctx, entity, columns)
	if err != nil || rec == nil {
		return false, err
	}
	table, _ := w.schema.Table(entity)
	if err := w.store.Delete(ctx, table.Name, rec.ID); err != nil {
		if errors.Is(err, apierr.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ListLinked returns the records whose link column points at linkedID, read
// back as relational columns plus "legacy_id".
func (w *Writer) ListLinked(ctx context.Context, entity types.EntityType, column, linkedID string) ([]map[string]string, error) {
	table, ok := w.schema.Table(entity)
	if !ok {
		return nil, fmt.Errorf("legacy: no table for entity %q: %w", entity, apierr.ErrInvalidArgument)
	}
	field, ok := table.LegacyField(column)
	if !ok {
		return nil, fmt.Errorf("legacy: %s has no column %q: %w", entity, column, apierr.ErrInvalidArgument)
	}
	recs, err := w.store.List(ctx, table.Name, Where(field, linkedID))
	if err != nil {
		return nil, err
	}
	out := make([]map[string]string, 0, len(recs))
	for _, rec := range recs {
		cols := table.Columns(rec)
		cols["legacy_id"] = rec.ID
		out = append(out, cols)
	}
	return out, nil
}

// UpdateRecord writes columns onto a known legacy record.
func (w *Writer) UpdateRecord(ctx context.Context, entity types.EntityType, legacyID string, columns map[string]any) (*Record, error) {
	table, ok := w.schema.Table(entity)
	if !ok {
		return nil, fmt.Errorf("legacy: no table for entity %q: %w", entity, apierr.ErrInvalidArgument)
	}
	fields, err := w.fields(dbctx.Context{Ctx: ctx}, table, columns)
	if err != nil {
		return nil, err
	}
	return w.store.Update(ctx, table.Name, legacyID, fields)
}
