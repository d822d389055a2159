package release_deploy

import (
	"errors"
	"fmt"

	"github.com/yungbote/panelapp-backend/internal/domain/releases"
	jobrt "github.com/yungbote/panelapp-backend/internal/jobs/runtime"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	releaseID, ok := jc.PayloadUint("release_id")
	if !ok {
		jc.Fail("validate", fmt.Errorf("missing release_id"))
		return nil
	}
	user := jc.PayloadString("user")
	if user == "" {
		user = jc.Job.RequestedBy
	}

	jc.Progress("deploy", 5, "Deploying release")
	dep, err := p.deploy.Deploy(jc.Ctx, releaseID, user)
	switch {
	case errors.Is(err, releases.ErrReleaseLocked),
		errors.Is(err, releases.ErrAlreadyDeployed),
		errors.Is(err, releases.ErrDeploymentInProgress):
		// Another run owns or finished this deployment.
		p.log.Info("Deployment skipped", "release_id", releaseID, "job_id", jc.Job.ID, "reason", err.Error())
		jc.Succeed("skipped", map[string]any{
			"release_id": releaseID,
			"skipped":    err.Error(),
		})
		return nil
	case err != nil:
		jc.Fail("deploy", err)
		return nil
	}

	result := map[string]any{"release_id": releaseID}
	if dep != nil {
		result["deployment_id"] = dep.ID
		result["start"] = dep.Start
		result["end"] = dep.End
		result["deploying_user"] = dep.DeployingUser
	}
	jc.Succeed("done", result)
	return nil
}
