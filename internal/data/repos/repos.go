package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/panelapp-backend/internal/data/repos/jobs"
	"github.com/yungbote/panelapp-backend/internal/data/repos/panels"
	"github.com/yungbote/panelapp-backend/internal/data/repos/releases"
	"github.com/yungbote/panelapp-backend/internal/platform/logger"
)

type PanelRepo = panels.PanelRepo
type PanelTypeRepo = panels.PanelTypeRepo
type PanelSnapshotRepo = panels.PanelSnapshotRepo
type EntityRepo = panels.EntityRepo
type HistoricalSnapshotRepo = panels.HistoricalSnapshotRepo
type PanelFilter = panels.PanelFilter

type ReleaseRepo = releases.ReleaseRepo
type ReleasePanelRepo = releases.ReleasePanelRepo
type ReleaseDeploymentRepo = releases.ReleaseDeploymentRepo
type ReleaseFilter = releases.ReleaseFilter
type ReleaseSummary = releases.ReleaseSummary
type ReleasePanelFilter = releases.ReleasePanelFilter

type JobRunRepo = jobs.JobRunRepo

func NewPanelRepo(db *gorm.DB, baseLog *logger.Logger) PanelRepo {
	return panels.NewPanelRepo(db, baseLog)
}
func NewPanelTypeRepo(db *gorm.DB, baseLog *logger.Logger) PanelTypeRepo {
	return panels.NewPanelTypeRepo(db, baseLog)
}
func NewPanelSnapshotRepo(db *gorm.DB, baseLog *logger.Logger) PanelSnapshotRepo {
	return panels.NewPanelSnapshotRepo(db, baseLog)
}
func NewEntityRepo(db *gorm.DB, baseLog *logger.Logger) EntityRepo {
	return panels.NewEntityRepo(db, baseLog)
}
func NewHistoricalSnapshotRepo(db *gorm.DB, baseLog *logger.Logger) HistoricalSnapshotRepo {
	return panels.NewHistoricalSnapshotRepo(db, baseLog)
}

func NewReleaseRepo(db *gorm.DB, baseLog *logger.Logger) ReleaseRepo {
	return releases.NewReleaseRepo(db, baseLog)
}
func NewReleasePanelRepo(db *gorm.DB, baseLog *logger.Logger) ReleasePanelRepo {
	return releases.NewReleasePanelRepo(db, baseLog)
}
func NewReleaseDeploymentRepo(db *gorm.DB, baseLog *logger.Logger) ReleaseDeploymentRepo {
	return releases.NewReleaseDeploymentRepo(db, baseLog)
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return jobs.NewJobRunRepo(db, baseLog)
}
