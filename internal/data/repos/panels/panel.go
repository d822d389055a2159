package panels

import (
	"strings"

	"gorm.io/gorm"

	"github.com/yungbote/panelapp-backend/internal/data/db"
	types "github.com/yungbote/panelapp-backend/internal/domain"
	"github.com/yungbote/panelapp-backend/internal/platform/dbctx"
	"github.com/yungbote/panelapp-backend/internal/platform/logger"
)

type PanelFilter struct {
	Search   string
	Statuses []types.PanelStatus
	Types    []string
}

type PanelRepo interface {
	Create(dbc dbctx.Context, p *types.Panel) error
	GetByID(dbc dbctx.Context, id uint) (*types.Panel, error)
	GetByIDs(dbc dbctx.Context, ids []uint) ([]*types.Panel, error)
	GetByName(dbc dbctx.Context, name string) (*types.Panel, error)
	LockByID(dbc dbctx.Context, id uint) (*types.Panel, error)
	List(dbc dbctx.Context, filter PanelFilter) ([]*types.Panel, error)
	ExistingIDs(dbc dbctx.Context, ids []uint) (map[uint]bool, error)
	UpdateFields(dbc dbctx.Context, id uint, updates map[string]interface{}) error
	ReplaceTypes(dbc dbctx.Context, p *types.Panel, rows []*types.PanelType) error
}

type panelRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPanelRepo(db *gorm.DB, baseLog *logger.Logger) PanelRepo {
	return &panelRepo{db: db, log: baseLog.With("repo", "PanelRepo")}
}

func (r *panelRepo) Create(dbc dbctx.Context, p *types.Panel) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).Omit("SignedOff", "Types.*").Create(p).Error
}

func (r *panelRepo) GetByIDs(dbc dbctx.Context, ids []uint) ([]*types.Panel, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Panel
	if len(ids) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Preload("Types").
		Preload("SignedOff").
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *panelRepo) GetByID(dbc dbctx.Context, id uint) (*types.Panel, error) {
	if id == 0 {
		return nil, nil
	}
	rows, err := r.GetByIDs(dbc, []uint{id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *panelRepo) GetByName(dbc dbctx.Context, name string) (*types.Panel, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Panel
	if err := transaction.WithContext(dbc.Ctx).
		Preload("Types").
		Where("name = ?", name).
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

// LockByID takes the row lock that serialises increments of one panel.
// Associations are not loaded; call GetByID afterwards.
func (r *panelRepo) LockByID(dbc dbctx.Context, id uint) (*types.Panel, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Panel
	if err := db.ForUpdate(transaction.WithContext(dbc.Ctx)).
		Where("id = ?", id).
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *panelRepo) List(dbc dbctx.Context, filter PanelFilter) ([]*types.Panel, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(dbc.Ctx).Model(&types.Panel{}).Preload("Types").Preload("SignedOff")
	if s := strings.TrimSpace(filter.Search); s != "" {
		q = q.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(s)+"%")
	}
	if len(filter.Statuses) > 0 {
		q = q.Where("status IN ?", filter.Statuses)
	}
	if len(filter.Types) > 0 {
		q = q.Where("id IN (?)", withTypeSlugs(transaction.WithContext(dbc.Ctx), filter.Types))
	}
	var out []*types.Panel
	if err := q.Order("name ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// withTypeSlugs selects ids of panels carrying any of the given type slugs.
func withTypeSlugs(tx *gorm.DB, slugs []string) *gorm.DB {
	return tx.Table("panel_panel_type").
		Select("panel_panel_type.panel_id").
		Joins("JOIN panel_type ON panel_type.id = panel_panel_type.panel_type_id").
		Where("panel_type.slug IN ?", slugs)
}

func (r *panelRepo) ExistingIDs(dbc dbctx.Context, ids []uint) (map[uint]bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	out := map[uint]bool{}
	if len(ids) == 0 {
		return out, nil
	}
	var found []uint
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.Panel{}).
		Where("id IN ?", ids).
		Pluck("id", &found).Error; err != nil {
		return nil, err
	}
	for _, id := range found {
		out[id] = true
	}
	return out, nil
}

func (r *panelRepo) UpdateFields(dbc dbctx.Context, id uint, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == 0 || len(updates) == 0 {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Panel{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *panelRepo) ReplaceTypes(dbc dbctx.Context, p *types.Panel, rows []*types.PanelType) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).
		Model(p).
		Omit("Types.*").
		Association("Types").
		Replace(rows)
}
