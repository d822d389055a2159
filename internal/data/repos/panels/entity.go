package panels

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/panelapp-backend/internal/domain"
	"github.com/yungbote/panelapp-backend/internal/platform/dbctx"
	"github.com/yungbote/panelapp-backend/internal/platform/logger"
)

const entityBatchSize = 200

type EntityRepo interface {
	Create(dbc dbctx.Context, rows []*types.Entity) error
	ListBySnapshot(dbc dbctx.Context, snapshotID uint) ([]*types.Entity, error)
	ListBySnapshotIDs(dbc dbctx.Context, snapshotIDs []uint) (map[uint][]*types.Entity, error)
	Update(dbc dbctx.Context, row *types.Entity) error
	DeleteByIDs(dbc dbctx.Context, ids []uint) error
	UpsertEvaluation(dbc dbctx.Context, ev *types.Evaluation) error
}

type entityRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEntityRepo(db *gorm.DB, baseLog *logger.Logger) EntityRepo {
	return &entityRepo{db: db, log: baseLog.With("repo", "EntityRepo")}
}

// Create inserts entities together with their evaluations.
func (r *entityRepo) Create(dbc dbctx.Context, rows []*types.Entity) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(rows) == 0 {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).CreateInBatches(&rows, entityBatchSize).Error
}

func (r *entityRepo) ListBySnapshot(dbc dbctx.Context, snapshotID uint) ([]*types.Entity, error) {
	byID, err := r.ListBySnapshotIDs(dbc, []uint{snapshotID})
	if err != nil {
		return nil, err
	}
	return byID[snapshotID], nil
}

func (r *entityRepo) ListBySnapshotIDs(dbc dbctx.Context, snapshotIDs []uint) (map[uint][]*types.Entity, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	out := map[uint][]*types.Entity{}
	if len(snapshotIDs) == 0 {
		return out, nil
	}
	var rows []*types.Entity
	if err := transaction.WithContext(dbc.Ctx).
		Preload("Evaluations", func(db *gorm.DB) *gorm.DB {
			return db.Order("evaluation.id ASC")
		}).
		Where("panel_snapshot_id IN ?", snapshotIDs).
		Order("entity_type ASC, entity_name ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.PanelSnapshotID] = append(out[row.PanelSnapshotID], row)
	}
	return out, nil
}

func (r *entityRepo) Update(dbc dbctx.Context, row *types.Entity) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).Omit("Evaluations").Save(row).Error
}

func (r *entityRepo) DeleteByIDs(dbc dbctx.Context, ids []uint) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("entity_id IN ?", ids).
		Delete(&types.Evaluation{}).Error; err != nil {
		return err
	}
	return transaction.WithContext(dbc.Ctx).
		Where("id IN ?", ids).
		Delete(&types.Entity{}).Error
}

// UpsertEvaluation keeps one evaluation per (entity, reviewer).
func (r *entityRepo) UpsertEvaluation(dbc dbctx.Context, ev *types.Evaluation) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "entity_id"}, {Name: "reviewer"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"rating",
				"mode_of_inheritance",
				"mode_of_pathogenicity",
				"publications",
				"phenotypes",
				"comments",
				"current_diagnostic",
				"clinically_relevant",
				"updated_at",
			}),
		}).
		Create(ev).Error
}
