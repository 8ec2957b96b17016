// Package readthrough heals the relational user table from the legacy store
// on read misses.
package readthrough

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/habitbridge-backend/internal/data/db"
	"github.com/yungbote/habitbridge-backend/internal/data/repos"
	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/domain/ids"
	"github.com/yungbote/habitbridge-backend/internal/legacy"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
	"github.com/yungbote/habitbridge-backend/internal/sync/outbox"
)

// LegacyUsers is the legacy side of a user lookup.
type LegacyUsers interface {
	FindByEmail(ctx context.Context, email string) (*legacy.Record, error)
	FindByID(ctx context.Context, legacyID string) (*legacy.Record, error)
	ToUser(rec legacy.Record) (*types.User, error)
}

type Users struct {
	users  repos.UserRepo
	idMap  repos.IDMapRepo
	tx     db.TxRunner
	outbox outbox.Outbox
	legacy LegacyUsers
	// enabled is consulted per call so the flag can be flipped without a
	// restart.
	enabled func() bool
	log     *logger.Logger
}

// New wires read-through lookups. A nil users repo means the relational store
// is not configured and every lookup reports absent.
func New(users repos.UserRepo, idMap repos.IDMapRepo, tx db.TxRunner, ob outbox.Outbox, legacyUsers LegacyUsers, enabled func() bool, baseLog *logger.Logger) *Users {
	if enabled == nil {
		enabled = func() bool { return true }
	}
	return &Users{
		users:   users,
		idMap:   idMap,
		tx:      tx,
		outbox:  ob,
		legacy:  legacyUsers,
		enabled: enabled,
		log:     baseLog.With("component", "UserReadThrough"),
	}
}

func (r *Users) configured() bool { return r.users != nil }

// GetByEmail returns the relational user for email, materializing it from the
// legacy store on a miss. Absent is (nil, nil).
func (r *Users) GetByEmail(ctx context.Context, email string) (*types.User, error) {
	if !r.configured() {
		return nil, nil
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}
	u, err := r.users.GetByEmail(dbctx.Context{Ctx: ctx}, email)
	if err != nil || u != nil {
		return u, err
	}
	if !r.enabled() || r.legacy == nil {
		return nil, nil
	}
	rec, err := r.legacy.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("read-through %s: legacy lookup: %w", email, err)
	}
	if rec == nil {
		return nil, nil
	}
	return r.Materialize(ctx, *rec)
}

// GetByID accepts either a relational uuid or a legacy record id.
func (r *Users) GetByID(ctx context.Context, ref string) (*types.User, error) {
	if !r.configured() {
		return nil, nil
	}
	ref = strings.TrimSpace(ref)
	dbc := dbctx.Context{Ctx: ctx}

	var legacyID string
	switch ids.Classify(ref) {
	case ids.KindUUID:
		id := uuid.MustParse(ref)
		u, err := r.users.GetByID(dbc, id)
		if err != nil || u != nil {
			return u, err
		}
		if !r.enabled() {
			return nil, nil
		}
		mapped, ok, err := r.idMap.FindLegacyID(dbc, types.EntityUser, id.String())
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		legacyID = mapped
	case ids.KindLegacy:
		relID, ok, err := r.idMap.FindRelationalID(dbc, types.EntityUser, ref)
		if err != nil {
			return nil, err
		}
		if ok {
			if id, perr := uuid.Parse(relID); perr == nil {
				u, err := r.users.GetByID(dbc, id)
				if err != nil || u != nil {
					return u, err
				}
			}
		}
		if !r.enabled() {
			return nil, nil
		}
		legacyID = ref
	default:
		return nil, nil
	}

	if r.legacy == nil {
		return nil, nil
	}
	rec, err := r.legacy.FindByID(ctx, legacyID)
	if err != nil {
		return nil, fmt.Errorf("read-through %s: legacy lookup: %w", ref, err)
	}
	if rec == nil {
		return nil, nil
	}
	return r.Materialize(ctx, *rec)
}

// Materialize writes the legacy user through the normal upsert path and
// returns the relational row, never the legacy-shaped one.
func (r *Users) Materialize(ctx context.Context, rec legacy.Record) (*types.User, error) {
	u, err := r.legacy.ToUser(rec)
	if err != nil {
		return nil, err
	}
	var saved *types.User
	err = r.tx.InTx(dbctx.Context{Ctx: ctx}, func(dbc dbctx.Context) error {
		var err error
		saved, err = r.users.UpsertByEmail(dbc, u)
		if err != nil {
			return err
		}
		if err := r.idMap.Upsert(dbc, types.EntityUser, saved.ID.String(), rec.ID); err != nil {
			return err
		}
		if r.outbox == nil {
			return nil
		}
		_, err = r.outbox.Enqueue(dbc, types.OutboxInput{
			Type:     types.EventUpsert,
			Entity:   types.EntityUser,
			EntityID: saved.ID.String(),
			Payload: map[string]any{
				"email":    saved.Email,
				"name":     saved.Name,
				"timezone": saved.Timezone,
			},
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read-through %s: backfill: %w", rec.ID, err)
	}
	r.log.Info("user repaired from legacy store", "user_id", saved.ID, "legacy_id", rec.ID)
	return saved, nil
}
