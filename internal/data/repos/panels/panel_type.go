package panels

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/panelapp-backend/internal/domain"
	"github.com/yungbote/panelapp-backend/internal/platform/dbctx"
	"github.com/yungbote/panelapp-backend/internal/platform/logger"
)

type PanelTypeRepo interface {
	Upsert(dbc dbctx.Context, rows []*types.PanelType) error
	ListBySlugs(dbc dbctx.Context, slugs []string) ([]*types.PanelType, error)
	List(dbc dbctx.Context) ([]*types.PanelType, error)
}

type panelTypeRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPanelTypeRepo(db *gorm.DB, baseLog *logger.Logger) PanelTypeRepo {
	return &panelTypeRepo{db: db, log: baseLog.With("repo", "PanelTypeRepo")}
}

// Upsert creates missing types keyed by slug and fills in ids for all rows.
func (r *panelTypeRepo) Upsert(dbc dbctx.Context, rows []*types.PanelType) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(rows) == 0 {
		return nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "slug"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "description"}),
		}).
		Create(&rows).Error; err != nil {
		return err
	}
	slugs := make([]string, 0, len(rows))
	for _, row := range rows {
		slugs = append(slugs, row.Slug)
	}
	stored, err := r.ListBySlugs(dbc, slugs)
	if err != nil {
		return err
	}
	bySlug := map[string]uint{}
	for _, s := range stored {
		bySlug[s.Slug] = s.ID
	}
	for _, row := range rows {
		row.ID = bySlug[row.Slug]
	}
	return nil
}

func (r *panelTypeRepo) ListBySlugs(dbc dbctx.Context, slugs []string) ([]*types.PanelType, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.PanelType
	if len(slugs) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("slug IN ?", slugs).
		Order("slug ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *panelTypeRepo) List(dbc dbctx.Context) ([]*types.PanelType, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.PanelType
	if err := transaction.WithContext(dbc.Ctx).Order("slug ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
