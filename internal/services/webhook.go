package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/habitbridge-backend/internal/data/db"
	"github.com/yungbote/habitbridge-backend/internal/data/repos"
	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/legacy"
	"github.com/yungbote/habitbridge-backend/internal/platform/apierr"
	"github.com/yungbote/habitbridge-backend/internal/platform/civil"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
	"github.com/yungbote/habitbridge-backend/internal/platform/webhook"
	"github.com/yungbote/habitbridge-backend/internal/sync/readthrough"
)

const (
	WebhookActionUpsert = "upsert"
	WebhookActionDelete = "delete"
)

// WebhookEvent is one legacy-side change. Either EntityType or the legacy
// Table name identifies what changed.
type WebhookEvent struct {
	EntityType types.EntityType `json:"entity_type,omitempty"`
	Table      string           `json:"table,omitempty"`
	Action     string           `json:"action"`
	Record     legacy.Record    `json:"record"`
}

type WebhookResult struct {
	Entity       types.EntityType `json:"entity_type"`
	Action       string           `json:"action"`
	LegacyID     string           `json:"legacy_id"`
	RelationalID string           `json:"relational_id,omitempty"`
	Ignored      bool             `json:"ignored,omitempty"`
}

type WebhookService interface {
	// Ingest verifies rawBody against signature before decoding it. A bad
	// signature fails with apierr.ErrInvalidSignature and touches nothing.
	Ingest(ctx context.Context, rawBody []byte, signature string) (*WebhookResult, error)
}

type webhookService struct {
	log         *logger.Logger
	secret      []byte
	schema      *legacy.Schema
	tx          db.TxRunner
	idMap       repos.IDMapRepo
	users       UserService
	readThrough *readthrough.Users
	habits      repos.HabitUsageRepo
	goals       repos.GoalUsageRepo
	beliefs     repos.BeliefUsageRepo
}

func NewWebhookService(
	log *logger.Logger,
	secret string,
	schema *legacy.Schema,
	tx db.TxRunner,
	idMap repos.IDMapRepo,
	users UserService,
	readThrough *readthrough.Users,
	habits repos.HabitUsageRepo,
	goals repos.GoalUsageRepo,
	beliefs repos.BeliefUsageRepo,
) WebhookService {
	return &webhookService{
		log:         log.With("service", "WebhookService"),
		secret:      []byte(secret),
		schema:      schema,
		tx:          tx,
		idMap:       idMap,
		users:       users,
		readThrough: readThrough,
		habits:      habits,
		goals:       goals,
		beliefs:     beliefs,
	}
}

func (s *webhookService) Ingest(ctx context.Context, rawBody []byte, signature string) (*WebhookResult, error) {
	if len(s.secret) == 0 || !webhook.Verify(rawBody, signature, s.secret) {
		return nil, apierr.ErrInvalidSignature
	}

	var ev WebhookEvent
	dec := json.NewDecoder(bytes.NewReader(rawBody))
	dec.UseNumber()
	if err := dec.Decode(&ev); err != nil {
		return nil, fmt.Errorf("webhook body: %v: %w", err, apierr.ErrInvalidArgument)
	}
	entity, table, err := s.resolve(ev)
	if err != nil {
		return nil, err
	}
	ev.Record.ID = strings.TrimSpace(ev.Record.ID)
	if ev.Record.ID == "" {
		return nil, fmt.Errorf("webhook record id required: %w", apierr.ErrInvalidArgument)
	}
	if s.tx == nil || s.idMap == nil {
		return nil, fmt.Errorf("webhook: relational store not configured: %w", apierr.ErrStoreUnavailable)
	}

	res := &WebhookResult{Entity: entity, Action: ev.Action, LegacyID: ev.Record.ID}
	cols := table.Columns(ev.Record)
	switch ev.Action {
	case WebhookActionUpsert:
		err = s.upsert(ctx, entity, ev.Record, cols, res)
	case WebhookActionDelete:
		err = s.delete(ctx, entity, cols, res)
	default:
		return nil, fmt.Errorf("webhook action %q: %w", ev.Action, apierr.ErrInvalidArgument)
	}
	if err != nil {
		return nil, err
	}
	s.log.Info("legacy change applied",
		"entity_type", entity,
		"action", ev.Action,
		"legacy_id", ev.Record.ID,
		"relational_id", res.RelationalID,
		"ignored", res.Ignored,
	)
	return res, nil
}

func (s *webhookService) resolve(ev WebhookEvent) (types.EntityType, *legacy.Table, error) {
	entity := ev.EntityType
	if entity == "" && ev.Table != "" {
		if e, ok := s.schema.EntityForTable(ev.Table); ok {
			entity = e
		}
	}
	table, ok := s.schema.Table(entity)
	if !ok {
		return "", nil, fmt.Errorf("webhook: unknown entity %q (table %q): %w", ev.EntityType, ev.Table, apierr.ErrInvalidArgument)
	}
	return entity, table, nil
}

func (s *webhookService) upsert(ctx context.Context, entity types.EntityType, rec legacy.Record, cols map[string]string, res *WebhookResult) error {
	if entity == types.EntityUser {
		if s.readThrough == nil {
			return fmt.Errorf("webhook: relational store not configured: %w", apierr.ErrStoreUnavailable)
		}
		u, err := s.readThrough.Materialize(ctx, rec)
		if err != nil {
			return err
		}
		res.RelationalID = u.ID.String()
		return nil
	}
	if entity == types.EntityPushSubscription {
		// subscriptions are owned by the relational side
		res.Ignored = true
		return nil
	}

	userID, err := s.linkedUser(ctx, cols)
	if err != nil {
		return err
	}
	day, err := civil.Parse(cols["usage_date"])
	if err != nil {
		return fmt.Errorf("webhook usage_date: %v: %w", err, apierr.ErrInvalidArgument)
	}
	program := optionalString(cols["program_id"])

	return s.tx.InTx(dbctx.Context{Ctx: ctx}, func(dbc dbctx.Context) error {
		var relID uuid.UUID
		switch entity {
		case types.EntityHabitUsage:
			methodID, err := required("method_id", cols["method_id"])
			if err != nil {
				return err
			}
			row, _, err := s.habits.Upsert(dbc, &types.HabitUsage{UserID: userID, MethodID: methodID, UsageDate: day, ProgramID: program})
			if err != nil {
				return err
			}
			relID = row.ID
		case types.EntityGoalUsage:
			goalID, err := required("goal_id", cols["goal_id"])
			if err != nil {
				return err
			}
			row, _, err := s.goals.Upsert(dbc, &types.GoalUsage{UserID: userID, GoalID: goalID, UsageDate: day, ProgramID: program})
			if err != nil {
				return err
			}
			relID = row.ID
		case types.EntityBeliefUsage:
			beliefID, err := required("overtuiging_id", cols["overtuiging_id"])
			if err != nil {
				return err
			}
			// a redelivered completion adopts the existing row
			row, err := s.beliefs.Find(dbc, userID, beliefID)
			if err != nil {
				return err
			}
			if row == nil {
				row, err = s.beliefs.Create(dbc, &types.BeliefUsage{UserID: userID, OvertuigingID: beliefID, UsageDate: day, ProgramID: program})
				if err != nil {
					return err
				}
			}
			relID = row.ID
		default:
			return fmt.Errorf("webhook: unhandled entity %q: %w", entity, apierr.ErrInvalidArgument)
		}
		res.RelationalID = relID.String()
		return s.idMap.Upsert(dbc, entity, relID.String(), rec.ID)
	})
}

// delete removes the row named by the record's natural key. Legacy delete
// notifications must carry the fields; the id alone cannot be resolved once
// the record is gone.
func (s *webhookService) delete(ctx context.Context, entity types.EntityType, cols map[string]string, res *WebhookResult) error {
	switch entity {
	case types.EntityHabitUsage, types.EntityGoalUsage, types.EntityBeliefUsage:
	default:
		res.Ignored = true
		return nil
	}
	userID, err := s.linkedUser(ctx, cols)
	if err != nil {
		return err
	}
	dbc := dbctx.Context{Ctx: ctx}
	var removed bool
	switch entity {
	case types.EntityBeliefUsage:
		beliefID, err := required("overtuiging_id", cols["overtuiging_id"])
		if err != nil {
			return err
		}
		removed, err = s.beliefs.Delete(dbc, userID, beliefID)
		if err != nil {
			return err
		}
	default:
		day, err := civil.Parse(cols["usage_date"])
		if err != nil {
			return fmt.Errorf("webhook usage_date: %v: %w", err, apierr.ErrInvalidArgument)
		}
		subjectCol := "method_id"
		if entity == types.EntityGoalUsage {
			subjectCol = "goal_id"
		}
		subjectID, err := required(subjectCol, cols[subjectCol])
		if err != nil {
			return err
		}
		if entity == types.EntityHabitUsage {
			removed, err = s.habits.Delete(dbc, userID, subjectID, day)
		} else {
			removed, err = s.goals.Delete(dbc, userID, subjectID, day)
		}
		if err != nil {
			return err
		}
	}
	res.Ignored = !removed
	return nil
}

func (s *webhookService) linkedUser(ctx context.Context, cols map[string]string) (uuid.UUID, error) {
	ref, err := required("user_id", cols["user_id"])
	if err != nil {
		return uuid.Nil, err
	}
	u, err := s.users.RelationalUser(ctx, ref)
	if err != nil {
		return uuid.Nil, err
	}
	return u.ID, nil
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
