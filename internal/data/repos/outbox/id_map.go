package outbox

import (
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/habitbridge-backend/internal/domain"
	"github.com/yungbote/habitbridge-backend/internal/platform/dbctx"
	"github.com/yungbote/habitbridge-backend/internal/platform/logger"
)

// IDMapRepo links legacy record ids to relational keys. Mappings are never
// deleted; re-syncs overwrite the legacy id and timestamp.
type IDMapRepo interface {
	Upsert(dbc dbctx.Context, entity types.EntityType, relationalID, legacyID string) error
	FindLegacyID(dbc dbctx.Context, entity types.EntityType, relationalID string) (string, bool, error)
	FindRelationalID(dbc dbctx.Context, entity types.EntityType, legacyID string) (string, bool, error)
}

type idMapRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIDMapRepo(db *gorm.DB, baseLog *logger.Logger) IDMapRepo {
	return &idMapRepo{db: db, log: baseLog.With("repo", "IDMapRepo")}
}

func (r *idMapRepo) Upsert(dbc dbctx.Context, entity types.EntityType, relationalID, legacyID string) error {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	relationalID = strings.TrimSpace(relationalID)
	legacyID = strings.TrimSpace(legacyID)
	if relationalID == "" || legacyID == "" {
		return nil
	}
	row := &types.IDMapping{
		EntityType:   entity,
		RelationalID: relationalID,
		LegacyID:     legacyID,
		LastSyncedAt: time.Now().UTC(),
	}
	return t.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entity_type"}, {Name: "relational_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"legacy_id", "last_synced_at"}),
		}).
		Create(row).Error
}

func (r *idMapRepo) FindLegacyID(dbc dbctx.Context, entity types.EntityType, relationalID string) (string, bool, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var row types.IDMapping
	if err := t.WithContext(dbc.Ctx).
		Where("entity_type = ? AND relational_id = ?", entity, relationalID).
		Limit(1).
		Find(&row).Error; err != nil {
		return "", false, err
	}
	if row.LegacyID == "" {
		return "", false, nil
	}
	return row.LegacyID, true, nil
}

func (r *idMapRepo) FindRelationalID(dbc dbctx.Context, entity types.EntityType, legacyID string) (string, bool, error) {
	t := dbc.Tx
	if t == nil {
		t = r.db
	}
	var row types.IDMapping
	if err := t.WithContext(dbc.Ctx).
		Where("entity_type = ? AND legacy_id = ?", entity, legacyID).
		Limit(1).
		Find(&row).Error; err != nil {
		return "", false, err
	}
	if row.RelationalID == "" {
		return "", false, nil
	}
	return row.RelationalID, true, nil
}
