package release_deploy

import (
	"github.com/yungbote/panelapp-backend/internal/domain/releases"
	"github.com/yungbote/panelapp-backend/internal/platform/logger"
	"github.com/yungbote/panelapp-backend/internal/services"
)

type Pipeline struct {
	log    *logger.Logger
	deploy services.DeploymentService
}

func New(baseLog *logger.Logger, deploy services.DeploymentService) *Pipeline {
	return &Pipeline{
		log:    baseLog.With("job", releases.JobTypeDeploy),
		deploy: deploy,
	}
}

func (p *Pipeline) Type() string { return releases.JobTypeDeploy }
