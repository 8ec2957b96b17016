package legacy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/datatypes"

	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/domain/ids"
	"github.com/yungbote/habitbridge-backend/internal/platform/apierr"
)

// Users reads the legacy user table.
type Users struct {
	store  Store
	schema *Schema
}

func NewUsers(store Store, schema *Schema) *Users {
	return &Users{store: store, schema: schema}
}

func (u *Users) table() (*Table, error) {
	t, ok := u.schema.Table(types.EntityUser)
	if !ok {
		return nil, fmt.Errorf("legacy: no user table configured")
	}
	return t, nil
}

// FindByEmail returns nil when no legacy user has that email.
func (u *Users) FindByEmail(ctx context.Context, email string) (*Record, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}
	t, err := u.table()
	if err != nil {
		return nil, err
	}
	field, _ := t.LegacyField("email")
	recs, err := u.store.List(ctx, t.Name, Filter{
		Conditions: []Condition{{Field: field, Value: email}},
		MaxRecords: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// FindByID returns nil when the record does not exist. Only legacy record
// ids can be looked up here.
func (u *Users) FindByID(ctx context.Context, legacyID string) (*Record, error) {
	if !ids.IsLegacyID(legacyID) {
		return nil, nil
	}
	t, err := u.table()
	if err != nil {
		return nil, err
	}
	recs, err := u.store.List(ctx, t.Name, ByID(strings.TrimSpace(legacyID)))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// ToUser maps a legacy user record onto the relational row. The raw legacy
// fields ride along in LegacyFields.
func (u *Users) ToUser(rec Record) (*types.User, error) {
	t, err := u.table()
	if err != nil {
		return nil, err
	}
	cols := t.Columns(rec)
	email := strings.ToLower(strings.TrimSpace(cols["email"]))
	if email == "" {
		return nil, fmt.Errorf("legacy user %s has no email: %w", rec.ID, apierr.ErrInvalidArgument)
	}
	raw, err := json.Marshal(map[string]any{
		"legacy_id": rec.ID,
		"fields":    rec.Fields,
	})
	if err != nil {
		return nil, err
	}
	return &types.User{
		Email:        email,
		Name:         cols["name"],
		Timezone:     cols["timezone"],
		LegacyFields: datatypes.JSON(raw),
	}, nil
}
