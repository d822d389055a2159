package panels

import (
	"gorm.io/gorm"

	types "github.com/yungbote/panelapp-backend/internal/domain"
	"github.com/yungbote/panelapp-backend/internal/platform/dbctx"
	"github.com/yungbote/panelapp-backend/internal/platform/logger"
)

// No other snapshot of the same panel has a greater (major, minor).
const activeSnapshotCond = `NOT EXISTS (
	SELECT 1 FROM panel_snapshot newer
	WHERE newer.panel_id = panel_snapshot.panel_id
	AND (
		newer.major_version > panel_snapshot.major_version
		OR (newer.major_version = panel_snapshot.major_version AND newer.minor_version > panel_snapshot.minor_version)
	)
)`

type PanelSnapshotRepo interface {
	Create(dbc dbctx.Context, s *types.PanelSnapshot) error
	GetByID(dbc dbctx.Context, id uint) (*types.PanelSnapshot, error)
	GetActive(dbc dbctx.Context, panelID uint) (*types.PanelSnapshot, error)
	GetActiveByPanelIDs(dbc dbctx.Context, panelIDs []uint) (map[uint]*types.PanelSnapshot, error)
	GetByVersion(dbc dbctx.Context, panelID uint, v types.Version) (*types.PanelSnapshot, error)
	ListByPanel(dbc dbctx.Context, panelID uint) ([]*types.PanelSnapshot, error)
	ListParentIDs(dbc dbctx.Context, childSnapshotID uint) ([]uint, error)
	ListParentIDsByChildPanel(dbc dbctx.Context, panelID uint) ([]uint, error)
	Count(dbc dbctx.Context) (int64, error)
}

type panelSnapshotRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPanelSnapshotRepo(db *gorm.DB, baseLog *logger.Logger) PanelSnapshotRepo {
	return &panelSnapshotRepo{db: db, log: baseLog.With("repo", "PanelSnapshotRepo")}
}

func withSnapshotRefs(q *gorm.DB) *gorm.DB {
	return q.
		Preload("Panel.Types").
		Preload("Panel.SignedOff").
		Preload("ChildPanels", func(db *gorm.DB) *gorm.DB {
			return db.Order("panel_snapshot.panel_id ASC")
		}).
		Preload("ChildPanels.Panel")
}

// Create inserts s and its child references, recording their order. Entities are written
// separately through EntityRepo.
func (r *panelSnapshotRepo) Create(dbc dbctx.Context, s *types.PanelSnapshot) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	s.RecordChildOrder()
	return transaction.WithContext(dbc.Ctx).
		Omit("Panel", "Entities", "ChildPanels.*").
		Create(s).Error
}

func (r *panelSnapshotRepo) GetByID(dbc dbctx.Context, id uint) (*types.PanelSnapshot, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.PanelSnapshot
	if err := withSnapshotRefs(transaction.WithContext(dbc.Ctx)).
		Where("id = ?", id).
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	out[0].SortChildren()
	return out[0], nil
}

func (r *panelSnapshotRepo) GetActive(dbc dbctx.Context, panelID uint) (*types.PanelSnapshot, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.PanelSnapshot
	if err := withSnapshotRefs(transaction.WithContext(dbc.Ctx)).
		Where("panel_id = ?", panelID).
		Order("major_version DESC, minor_version DESC").
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	out[0].SortChildren()
	return out[0], nil
}

func (r *panelSnapshotRepo) GetActiveByPanelIDs(dbc dbctx.Context, panelIDs []uint) (map[uint]*types.PanelSnapshot, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	out := map[uint]*types.PanelSnapshot{}
	if len(panelIDs) == 0 {
		return out, nil
	}
	var rows []*types.PanelSnapshot
	if err := withSnapshotRefs(transaction.WithContext(dbc.Ctx)).
		Where("panel_id IN ?", panelIDs).
		Where(activeSnapshotCond).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		row.SortChildren()
		out[row.PanelID] = row
	}
	return out, nil
}

func (r *panelSnapshotRepo) GetByVersion(dbc dbctx.Context, panelID uint, v types.Version) (*types.PanelSnapshot, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.PanelSnapshot
	if err := withSnapshotRefs(transaction.WithContext(dbc.Ctx)).
		Where("panel_id = ? AND major_version = ? AND minor_version = ?", panelID, v.Major, v.Minor).
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	out[0].SortChildren()
	return out[0], nil
}

// ListByPanel returns every snapshot of a panel, newest first, without
// associations.
func (r *panelSnapshotRepo) ListByPanel(dbc dbctx.Context, panelID uint) ([]*types.PanelSnapshot, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.PanelSnapshot
	if err := transaction.WithContext(dbc.Ctx).
		Where("panel_id = ?", panelID).
		Order("major_version DESC, minor_version DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListParentIDs returns ids of snapshots pinning childSnapshotID.
func (r *panelSnapshotRepo) ListParentIDs(dbc dbctx.Context, childSnapshotID uint) ([]uint, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []uint
	if err := transaction.WithContext(dbc.Ctx).
		Table("panel_snapshot_child").
		Where("child_id = ?", childSnapshotID).
		Order("parent_id ASC").
		Pluck("parent_id", &out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListParentIDsByChildPanel returns ids of snapshots pinning any snapshot
// of panelID.
func (r *panelSnapshotRepo) ListParentIDsByChildPanel(dbc dbctx.Context, panelID uint) ([]uint, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var ids []uint
	if err := transaction.WithContext(dbc.Ctx).
		Table("panel_snapshot_child").
		Joins("JOIN panel_snapshot child ON child.id = panel_snapshot_child.child_id").
		Where("child.panel_id = ?", panelID).
		Order("panel_snapshot_child.parent_id ASC").
		Pluck("panel_snapshot_child.parent_id", &ids).Error; err != nil {
		return nil, err
	}
	out := make([]uint, 0, len(ids))
	for i, id := range ids {
		if i == 0 || ids[i-1] != id {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *panelSnapshotRepo) Count(dbc dbctx.Context) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	err := transaction.WithContext(dbc.Ctx).Model(&types.PanelSnapshot{}).Count(&n).Error
	return n, err
}
