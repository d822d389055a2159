package domain

import (
	"github.com/yungbote/panelapp-backend/internal/domain/jobs"
	"github.com/yungbote/panelapp-backend/internal/domain/panels"
	"github.com/yungbote/panelapp-backend/internal/domain/releases"
)

type Version = panels.Version
type PanelStatus = panels.PanelStatus
type EntityType = panels.EntityType
type Panel = panels.Panel
type PanelType = panels.PanelType
type PanelSnapshot = panels.PanelSnapshot
type Entity = panels.Entity
type Evaluation = panels.Evaluation
type HistoricalSnapshot = panels.HistoricalSnapshot

type Release = releases.Release
type ReleasePanel = releases.ReleasePanel
type ReleaseDeployment = releases.ReleaseDeployment
type ReleasePanelDeployment = releases.ReleasePanelDeployment

type DeploymentState = releases.DeploymentState

type JobRun = jobs.JobRun

// Models lists every persisted model in migration order.
func Models() []any {
	return []any{
		&panels.PanelType{},
		&panels.HistoricalSnapshot{},
		&panels.Panel{},
		&panels.PanelSnapshot{},
		&panels.Entity{},
		&panels.Evaluation{},
		&releases.Release{},
		&releases.ReleasePanel{},
		&releases.ReleaseDeployment{},
		&releases.ReleasePanelDeployment{},
		&jobs.JobRun{},
	}
}
