package releases

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/yungbote/panelapp-backend/internal/data/db"
	types "github.com/yungbote/panelapp-backend/internal/domain"
	"github.com/yungbote/panelapp-backend/internal/domain/releases"
	"github.com/yungbote/panelapp-backend/internal/platform/dbctx"
	"github.com/yungbote/panelapp-backend/internal/platform/logger"
)

const (
	DeploymentFilterPending = "pending"
	DeploymentFilterDone    = "done"
)

type ReleaseFilter struct {
	// Any of DeploymentFilterPending, DeploymentFilterDone.
	Deployment []string
	Search     string
	// "name", "created" or "panel_count", optionally prefixed with "-".
	OrderBy string
}

// ReleaseSummary is a release with its planned panel count.
type ReleaseSummary struct {
	*types.Release
	PanelCount int64 `json:"panel_count"`
}

type ReleaseRepo interface {
	Create(dbc dbctx.Context, row *types.Release) error
	GetByID(dbc dbctx.Context, id uint) (*types.Release, error)
	GetByName(dbc dbctx.Context, name string) (*types.Release, error)
	List(dbc dbctx.Context, filter ReleaseFilter) ([]*ReleaseSummary, error)
	UpdateFields(dbc dbctx.Context, id uint, updates map[string]interface{}) error
	LockForDeploy(dbc dbctx.Context, id uint) (*types.Release, error)
}

type releaseRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewReleaseRepo(db *gorm.DB, baseLog *logger.Logger) ReleaseRepo {
	return &releaseRepo{db: db, log: baseLog.With("repo", "ReleaseRepo")}
}

func (r *releaseRepo) Create(dbc dbctx.Context, row *types.Release) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(dbc.Ctx).Omit("Deployment", "Panels").Create(row).Error
}

func (r *releaseRepo) GetByID(dbc dbctx.Context, id uint) (*types.Release, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Release
	if err := transaction.WithContext(dbc.Ctx).
		Preload("Deployment").
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

func (r *releaseRepo) GetByName(dbc dbctx.Context, name string) (*types.Release, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Release
	if err := transaction.WithContext(dbc.Ctx).
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

const panelCountExpr = `(SELECT COUNT(*) FROM release_panel WHERE release_panel.release_id = "release".id)`

var releaseSortColumns = map[string]string{
	"name":        "name",
	"created":     "created_at",
	"panel_count": panelCountExpr,
}

func (r *releaseRepo) List(dbc dbctx.Context, filter ReleaseFilter) ([]*ReleaseSummary, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	q := transaction.WithContext(dbc.Ctx).Preload("Deployment")

	var conds []string
	for _, d := range filter.Deployment {
		switch d {
		case DeploymentFilterPending:
			conds = append(conds, "id NOT IN (SELECT release_id FROM release_deployment WHERE ended_at IS NOT NULL)")
		case DeploymentFilterDone:
			conds = append(conds, "id IN (SELECT release_id FROM release_deployment WHERE ended_at IS NOT NULL)")
		default:
			return nil, fmt.Errorf("invalid release deployment filter %q", d)
		}
	}
	if len(conds) > 0 {
		q = q.Where(strings.Join(conds, " OR "))
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		q = q.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(s)+"%")
	}

	order := "created_at DESC"
	if filter.OrderBy != "" {
		field, desc := ParseSortField(filter.OrderBy)
		col, ok := releaseSortColumns[field]
		if !ok {
			return nil, fmt.Errorf("invalid release sort field %q", field)
		}
		order = col + " ASC"
		if desc {
			order = col + " DESC"
		}
	}

	var rows []*types.Release
	if err := q.Order(order).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []*ReleaseSummary{}, nil
	}

	ids := make([]uint, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	var counts []struct {
		ReleaseID uint
		N         int64
	}
	if err := transaction.WithContext(dbc.Ctx).
		Model(&types.ReleasePanel{}).
		Select("release_id, COUNT(*) AS n").
		Where("release_id IN ?", ids).
		Group("release_id").
		Scan(&counts).Error; err != nil {
		return nil, err
	}
	byRelease := map[uint]int64{}
	for _, c := range counts {
		byRelease[c.ReleaseID] = c.N
	}
	out := make([]*ReleaseSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, &ReleaseSummary{Release: row, PanelCount: byRelease[row.ID]})
	}
	return out, nil
}

func (r *releaseRepo) UpdateFields(dbc dbctx.Context, id uint, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == 0 || len(updates) == 0 {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Release{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// LockForDeploy takes FOR UPDATE NOWAIT on the release row. A row held by
// another transaction yields releases.ErrReleaseLocked.
func (r *releaseRepo) LockForDeploy(dbc dbctx.Context, id uint) (*types.Release, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Release
	err := db.ForUpdateNoWait(transaction.WithContext(dbc.Ctx)).
		Where("id = ?", id).
		Limit(1).
		Find(&out).Error
	if db.IsLockNotAvailable(err) {
		return nil, releases.ErrReleaseLocked
	}
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

// ParseSortField splits "-name" into ("name", true).
func ParseSortField(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "-") {
		return strings.TrimPrefix(s, "-"), true
	}
	return s, false
}
