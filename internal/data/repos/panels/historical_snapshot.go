package panels

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/panelapp-backend/internal/domain"
	"github.com/yungbote/panelapp-backend/internal/platform/dbctx"
	"github.com/yungbote/panelapp-backend/internal/platform/logger"
)

type HistoricalSnapshotRepo interface {
	GetOrCreate(dbc dbctx.Context, row *types.HistoricalSnapshot) (*types.HistoricalSnapshot, error)
	GetByID(dbc dbctx.Context, id uint) (*types.HistoricalSnapshot, error)
	GetByVersion(dbc dbctx.Context, panelID uint, v types.Version) (*types.HistoricalSnapshot, error)
	ListByPanel(dbc dbctx.Context, panelID uint) ([]*types.HistoricalSnapshot, error)
	SetSignedOffDate(dbc dbctx.Context, id uint, at time.Time) error
	Count(dbc dbctx.Context) (int64, error)
}

type historicalSnapshotRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewHistoricalSnapshotRepo(db *gorm.DB, baseLog *logger.Logger) HistoricalSnapshotRepo {
	return &historicalSnapshotRepo{db: db, log: baseLog.With("repo", "HistoricalSnapshotRepo")}
}

// GetOrCreate inserts row unless (panel, major, minor) is already archived
// and returns the stored row either way. An existing archive is never
// rewritten.
func (r *historicalSnapshotRepo) GetOrCreate(dbc dbctx.Context, row *types.HistoricalSnapshot) (*types.HistoricalSnapshot, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "panel_id"}, {Name: "major_version"}, {Name: "minor_version"}},
			DoNothing: true,
		}).
		Create(row).Error; err != nil {
		return nil, err
	}
	return r.GetByVersion(dbc, row.PanelID, row.Version())
}

func (r *historicalSnapshotRepo) GetByID(dbc dbctx.Context, id uint) (*types.HistoricalSnapshot, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.HistoricalSnapshot
	if err := transaction.WithContext(dbc.Ctx).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *historicalSnapshotRepo) GetByVersion(dbc dbctx.Context, panelID uint, v types.Version) (*types.HistoricalSnapshot, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.HistoricalSnapshot
	if err := transaction.WithContext(dbc.Ctx).
		Where("panel_id = ? AND major_version = ? AND minor_version = ?", panelID, v.Major, v.Minor).
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

// ListByPanel returns archive headers, newest first. Data is not loaded.
func (r *historicalSnapshotRepo) ListByPanel(dbc dbctx.Context, panelID uint) ([]*types.HistoricalSnapshot, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.HistoricalSnapshot
	if err := transaction.WithContext(dbc.Ctx).
		Omit("data").
		Where("panel_id = ?", panelID).
		Order("major_version DESC, minor_version DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *historicalSnapshotRepo) SetSignedOffDate(dbc dbctx.Context, id uint, at time.Time) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.HistoricalSnapshot{}).
		Where("id = ?", id).
		Update("signed_off_date", at).Error
}

func (r *historicalSnapshotRepo) Count(dbc dbctx.Context) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var n int64
	err := transaction.WithContext(dbc.Ctx).Model(&types.HistoricalSnapshot{}).Count(&n).Error
	return n, err
}
