package app

import (
	"fmt"

	temporalsdkclient "go.temporal.io/sdk/client"
	"gorm.io/gorm"

	"github.com/yungbote/panelapp-backend/internal/jobs/pipeline/release_deploy"
	jobrt "github.com/yungbote/panelapp-backend/internal/jobs/runtime"
	"github.com/yungbote/panelapp-backend/internal/platform/logger"
	"github.com/yungbote/panelapp-backend/internal/realtime/bus"
	"github.com/yungbote/panelapp-backend/internal/services"
)

type Services struct {
	Snapshots  services.SnapshotService
	Releases   services.ReleaseService
	Deployment services.DeploymentService
	Jobs       services.JobService

	ReleaseNotifier services.ReleaseNotifier
	JobNotifier     services.JobNotifier

	Registry *jobrt.Registry
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, r Repos, eventBus bus.Bus, tc temporalsdkclient.Client) (Services, error) {
	log.Info("Wiring services...")

	emit := &services.BusEmitter{Bus: eventBus, Log: log.With("component", "EventEmitter")}
	releaseNotify := services.NewReleaseNotifier(emit)
	jobNotify := services.NewJobNotifier(emit)

	snapshots := services.NewSnapshotService(db, log, r.Panel, r.PanelType, r.PanelSnapshot, r.Entity, r.HistoricalSnapshot, releaseNotify)
	releases := services.NewReleaseService(db, log, r.Release, r.ReleasePanel, r.ReleaseDeployment, r.Panel, snapshots, releaseNotify)
	jobs := services.NewJobService(db, log, r.JobRun, jobNotify, tc, cfg.Temporal.TaskQueue)
	deployment := services.NewDeploymentService(db, log, r.Release, r.ReleasePanel, r.ReleaseDeployment, r.Panel,
		r.PanelSnapshot, r.HistoricalSnapshot, snapshots, jobs, releaseNotify)

	registry := jobrt.NewRegistry()
	if err := registry.Register(release_deploy.New(log, deployment)); err != nil {
		return Services{}, fmt.Errorf("register release_deploy: %w", err)
	}

	return Services{
		Snapshots:       snapshots,
		Releases:        releases,
		Deployment:      deployment,
		Jobs:            jobs,
		ReleaseNotifier: releaseNotify,
		JobNotifier:     jobNotify,
		Registry:        registry,
	}, nil
}
