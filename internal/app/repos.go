package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/panelapp-backend/internal/data/repos"
	"github.com/yungbote/panelapp-backend/internal/platform/logger"
)

type Repos struct {
	Panel              repos.PanelRepo
	PanelType          repos.PanelTypeRepo
	PanelSnapshot      repos.PanelSnapshotRepo
	Entity             repos.EntityRepo
	HistoricalSnapshot repos.HistoricalSnapshotRepo

	Release           repos.ReleaseRepo
	ReleasePanel      repos.ReleasePanelRepo
	ReleaseDeployment repos.ReleaseDeploymentRepo

	JobRun repos.JobRunRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Panel:              repos.NewPanelRepo(db, log),
		PanelType:          repos.NewPanelTypeRepo(db, log),
		PanelSnapshot:      repos.NewPanelSnapshotRepo(db, log),
		Entity:             repos.NewEntityRepo(db, log),
		HistoricalSnapshot: repos.NewHistoricalSnapshotRepo(db, log),

		Release:           repos.NewReleaseRepo(db, log),
		ReleasePanel:      repos.NewReleasePanelRepo(db, log),
		ReleaseDeployment: repos.NewReleaseDeploymentRepo(db, log),

		JobRun: repos.NewJobRunRepo(db, log),
	}
}
