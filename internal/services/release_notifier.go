package services

import (
	"context"
	"time"

	types "github.com/yungbote/panelapp-backend/internal/domain"
	"github.com/yungbote/panelapp-backend/internal/realtime"
)

// ReleaseNotifier announces release and panel changes. Each release event
// goes to the releases channel and to the release's own channel.
type ReleaseNotifier interface {
	PlanImported(release *types.Release, rows int)
	DeploymentRequested(release *types.Release, job *types.JobRun)
	DeploymentStarted(release *types.Release, dep *types.ReleaseDeployment)
	DeploymentFinished(release *types.Release, dep *types.ReleaseDeployment, panels int)
	PanelVersionCreated(s *types.PanelSnapshot)
}

type releaseNotifier struct {
	emit Emitter
}

func NewReleaseNotifier(emit Emitter) ReleaseNotifier {
	return &releaseNotifier{emit: emit}
}

func (n *releaseNotifier) release(rel *types.Release, event realtime.Event, data map[string]any) {
	if n == nil || n.emit == nil || rel == nil {
		return
	}
	data["release_id"] = rel.ID
	data["release_name"] = rel.Name
	ctx := context.Background()
	n.emit.Emit(ctx, realtime.Message{Channel: realtime.ChannelReleases, Event: event, Data: data})
	n.emit.Emit(ctx, realtime.Message{Channel: realtime.ReleaseChannel(rel.ID), Event: event, Data: data})
}

func (n *releaseNotifier) PlanImported(rel *types.Release, rows int) {
	n.release(rel, realtime.EventReleasePlanImported, map[string]any{"rows": rows})
}

func (n *releaseNotifier) DeploymentRequested(rel *types.Release, job *types.JobRun) {
	n.release(rel, realtime.EventDeploymentRequested, map[string]any{"job_id": safeJobID(job)})
}

func (n *releaseNotifier) DeploymentStarted(rel *types.Release, dep *types.ReleaseDeployment) {
	n.release(rel, realtime.EventDeploymentStarted, map[string]any{"deployment": dep})
}

func (n *releaseNotifier) DeploymentFinished(rel *types.Release, dep *types.ReleaseDeployment, panels int) {
	data := map[string]any{"deployment": dep, "panels": panels}
	if el := dep.Elapsed(time.Now()); el != nil {
		data["elapsed_ms"] = el.Milliseconds()
	}
	n.release(rel, realtime.EventDeploymentFinished, data)
}

func (n *releaseNotifier) PanelVersionCreated(s *types.PanelSnapshot) {
	if n == nil || n.emit == nil || s == nil {
		return
	}
	n.emit.Emit(context.Background(), realtime.Message{
		Channel: realtime.ChannelPanels,
		Event:   realtime.EventPanelVersionCreated,
		Data: map[string]any{
			"panel_id": s.PanelID,
			"version":  s.Version().String(),
			"comment":  s.Comment,
		},
	})
}
