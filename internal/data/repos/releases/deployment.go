package releases

import (
	"time"

	"gorm.io/gorm"

	types "github.com/yungbote/panelapp-backend/internal/domain"
	"github.com/yungbote/panelapp-backend/internal/platform/dbctx"
	"github.com/yungbote/panelapp-backend/internal/platform/logger"
)

type ReleaseDeploymentRepo interface {
	Create(dbc dbctx.Context, row *types.ReleaseDeployment) error
	GetByRelease(dbc dbctx.Context, releaseID uint) (*types.ReleaseDeployment, error)
	UpdateFields(dbc dbctx.Context, id uint, updates map[string]interface{}) error
	// MarkStarted records start and user only while the row is still not
	// finished. It reports whether the row was updated.
	MarkStarted(dbc dbctx.Context, id uint, start time.Time, user string) (bool, error)
	MarkFinished(dbc dbctx.Context, id uint, end time.Time) (bool, error)
}

type releaseDeploymentRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewReleaseDeploymentRepo(db *gorm.DB, baseLog *logger.Logger) ReleaseDeploymentRepo {
	return &releaseDeploymentRepo{db: db, log: baseLog.With("repo", "ReleaseDeploymentRepo")}
}

func (r *releaseDeploymentRepo) Create(dbc dbctx.Context, row *types.ReleaseDeployment) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).Create(row).Error
}

func (r *releaseDeploymentRepo) GetByRelease(dbc dbctx.Context, releaseID uint) (*types.ReleaseDeployment, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.ReleaseDeployment
	if err := transaction.WithContext(dbc.Ctx).
		Where("release_id = ?", releaseID).
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (r *releaseDeploymentRepo) UpdateFields(dbc dbctx.Context, id uint, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == 0 {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.ReleaseDeployment{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *releaseDeploymentRepo) MarkStarted(dbc dbctx.Context, id uint, start time.Time, user string) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.ReleaseDeployment{}).
		Where("id = ? AND ended_at IS NULL", id).
		Updates(map[string]interface{}{
			"started_at":     start,
			"deploying_user": user,
			"updated_at":     time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *releaseDeploymentRepo) MarkFinished(dbc dbctx.Context, id uint, end time.Time) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.ReleaseDeployment{}).
		Where("id = ? AND started_at IS NOT NULL AND ended_at IS NULL", id).
		Updates(map[string]interface{}{
			"ended_at":   end,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
