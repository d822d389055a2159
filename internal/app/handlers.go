package app

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/panelapp-backend/internal/http"
	httpH "github.com/yungbote/panelapp-backend/internal/http/handlers"
	"github.com/yungbote/panelapp-backend/internal/observability"
	"github.com/yungbote/panelapp-backend/internal/platform/logger"
	"github.com/yungbote/panelapp-backend/internal/realtime"
)

type Handlers struct {
	Health   *httpH.HealthHandler
	Panel    *httpH.PanelHandler
	Release  *httpH.ReleaseHandler
	Job      *httpH.JobHandler
	Realtime *httpH.RealtimeHandler
}

func wireHandlers(log *logger.Logger, services Services, hub *realtime.Hub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:   httpH.NewHealthHandler(),
		Panel:    httpH.NewPanelHandler(services.Snapshots),
		Release:  httpH.NewReleaseHandler(services.Releases, services.Deployment),
		Job:      httpH.NewJobHandler(services.Jobs),
		Realtime: httpH.NewRealtimeHandler(log, hub),
	}
}

func wireRouter(log *logger.Logger, cfg Config, metrics *observability.Metrics, handlers Handlers) *gin.Engine {
	return http.NewRouter(http.RouterConfig{
		Log:             log,
		Metrics:         metrics,
		AllowedOrigins:  cfg.AllowedOrigins,
		ServiceName:     cfg.Otel.ServiceName,
		HealthHandler:   handlers.Health,
		PanelHandler:    handlers.Panel,
		ReleaseHandler:  handlers.Release,
		JobHandler:      handlers.Job,
		RealtimeHandler: handlers.Realtime,
	})
}
