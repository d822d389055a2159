package releases

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/panelapp-backend/internal/domain"
	"github.com/yungbote/panelapp-backend/internal/platform/dbctx"
	"github.com/yungbote/panelapp-backend/internal/platform/logger"
)

type ReleasePanelFilter struct {
	Search   string
	Statuses []string
	Types    []string
	// "name", "status" or "id" on the panel, optionally prefixed with "-".
	OrderBy string
}

type ReleasePanelRepo interface {
	Create(dbc dbctx.Context, rows []*types.ReleasePanel) error
	Upsert(dbc dbctx.Context, row *types.ReleasePanel) error
	Get(dbc dbctx.Context, releaseID, panelID uint) (*types.ReleasePanel, error)
	ListByRelease(dbc dbctx.Context, releaseID uint, filter ReleasePanelFilter) ([]*types.ReleasePanel, error)
	Delete(dbc dbctx.Context, releaseID, panelID uint) (bool, error)
	DeleteByRelease(dbc dbctx.Context, releaseID uint) error
	CreateDeployment(dbc dbctx.Context, row *types.ReleasePanelDeployment) error
	CountDeployments(dbc dbctx.Context, releaseID uint) (int64, error)
}

type releasePanelRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewReleasePanelRepo(db *gorm.DB, baseLog *logger.Logger) ReleasePanelRepo {
	return &releasePanelRepo{db: db, log: baseLog.With("repo", "ReleasePanelRepo")}
}

func (r *releasePanelRepo) Create(dbc dbctx.Context, rows []*types.ReleasePanel) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(rows) == 0 {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).Omit("Panel", "Deployment").Create(&rows).Error
}

// Upsert sets the promote flag of (release, panel), creating the row if needed.
func (r *releasePanelRepo) Upsert(dbc dbctx.Context, row *types.ReleasePanel) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).
		Omit("Panel", "Deployment").
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "release_id"}, {Name: "panel_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"promote"}),
		}).
		Create(row).Error
}

func (r *releasePanelRepo) Get(dbc dbctx.Context, releaseID, panelID uint) (*types.ReleasePanel, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ReleasePanel
	if err := withReleasePanelRefs(transaction.WithContext(dbc.Ctx)).
		Where("release_panel.release_id = ? AND release_panel.panel_id = ?", releaseID, panelID).
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func withReleasePanelRefs(q *gorm.DB) *gorm.DB {
	return q.
		Preload("Panel.Types").
		Preload("Panel.SignedOff").
		Preload("Deployment.SignedOffBefore").
		Preload("Deployment.SignedOffAfter")
}

var releasePanelSortColumns = map[string]string{
	"id":     "panel.id",
	"name":   "panel.name",
	"status": "panel.status",
}

// ListByRelease returns the rows of a release, by panel id unless
// filter.OrderBy says otherwise.
func (r *releasePanelRepo) ListByRelease(dbc dbctx.Context, releaseID uint, filter ReleasePanelFilter) ([]*types.ReleasePanel, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	q := withReleasePanelRefs(transaction.WithContext(dbc.Ctx)).
		Joins("JOIN panel ON panel.id = release_panel.panel_id").
		Where("release_panel.release_id = ?", releaseID)

	if s := strings.TrimSpace(filter.Search); s != "" {
		q = q.Where("LOWER(panel.name) LIKE ?", "%"+strings.ToLower(s)+"%")
	}
	if len(filter.Statuses) > 0 {
		q = q.Where("panel.status IN ?", filter.Statuses)
	}
	if len(filter.Types) > 0 {
		q = q.Where("release_panel.panel_id IN (?)",
			transaction.WithContext(dbc.Ctx).
				Table("panel_panel_type").
				Select("panel_panel_type.panel_id").
				Joins("JOIN panel_type ON panel_type.id = panel_panel_type.panel_type_id").
				Where("panel_type.slug IN ?", filter.Types),
		)
	}

	order := "release_panel.panel_id ASC"
	if filter.OrderBy != "" {
		field, desc := ParseSortField(filter.OrderBy)
		col, ok := releasePanelSortColumns[field]
		if !ok {
			return nil, fmt.Errorf("invalid release panel sort field %q", field)
		}
		order = col + " ASC"
		if desc {
			order = col + " DESC"
		}
	}

	var out []*types.ReleasePanel
	if err := q.Order(order).Order("release_panel.panel_id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *releasePanelRepo) Delete(dbc dbctx.Context, releaseID, panelID uint) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(dbc.Ctx).
		Where("release_id = ? AND panel_id = ?", releaseID, panelID).
		Delete(&types.ReleasePanel{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *releasePanelRepo) DeleteByRelease(dbc dbctx.Context, releaseID uint) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).
		Where("release_id = ?", releaseID).
		Delete(&types.ReleasePanel{}).Error
}

func (r *releasePanelRepo) CreateDeployment(dbc dbctx.Context, row *types.ReleasePanelDeployment) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).
		Omit("Before", "After", "SignedOffBefore", "SignedOffAfter").
		Create(row).Error
}

func (r *releasePanelRepo) CountDeployments(dbc dbctx.Context, releaseID uint) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.ReleasePanelDeployment{}).
		Where("release_panel_id IN (?)",
			transaction.WithContext(dbc.Ctx).
				Model(&types.ReleasePanel{}).
				Select("id").
				Where("release_id = ?", releaseID),
		).
		Count(&n).Error
	return n, err
}
