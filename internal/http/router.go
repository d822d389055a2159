package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/panelapp-backend/internal/http/handlers"
	httpMW "github.com/yungbote/panelapp-backend/internal/http/middleware"
	"github.com/yungbote/panelapp-backend/internal/observability"
	"github.com/yungbote/panelapp-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	Metrics        *observability.Metrics
	AllowedOrigins []string
	ServiceName    string

	PanelHandler    *httpH.PanelHandler
	ReleaseHandler  *httpH.ReleaseHandler
	JobHandler      *httpH.JobHandler
	RealtimeHandler *httpH.RealtimeHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "panelapp"
	}
	r.Use(otelgin.Middleware(serviceName))
	r.Use(httpMW.CORS(cfg.AllowedOrigins))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.AttachRequestContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/api")

	// Realtime (SSE)
	if cfg.RealtimeHandler != nil {
		api.GET("/events", cfg.RealtimeHandler.Stream)
	}

	// Panels
	if h := cfg.PanelHandler; h != nil {
		api.GET("/panel-types", h.ListPanelTypes)
		api.GET("/panels", h.ListPanels)
		api.POST("/panels", h.CreatePanel)
		api.GET("/panels/:id", h.GetPanel)
		api.PATCH("/panels/:id", h.UpdatePanel)
		api.POST("/panels/:id/increment", h.Increment)
		api.POST("/panels/:id/sign-off", h.SignOff)
		api.POST("/panels/:id/promote", h.Promote)
		api.PUT("/panels/:id/children", h.SetChildPanels)
		api.POST("/panels/:id/entities", h.AddEntity)
		api.POST("/panels/:id/entities/:type/remove", h.RemoveEntities)
		api.PUT("/panels/:id/entities/:type/:name", h.UpdateEntity)
		api.DELETE("/panels/:id/entities/:type/:name", h.RemoveEntity)
		api.POST("/panels/:id/entities/:type/:name/evaluations", h.SubmitEvaluation)
		api.GET("/panels/:id/versions", h.ListVersions)
		api.GET("/panels/:id/versions/:version", h.GetVersion)
	}

	// Releases
	if h := cfg.ReleaseHandler; h != nil {
		api.GET("/releases", h.ListReleases)
		api.POST("/releases", h.CreateRelease)
		api.GET("/releases/:id", h.GetRelease)
		api.PATCH("/releases/:id", h.UpdateRelease)
		api.GET("/releases/:id/panels", h.ListReleasePanels)
		api.PUT("/releases/:id/panels/:panel_id", h.SetReleasePanel)
		api.DELETE("/releases/:id/panels/:panel_id", h.RemoveReleasePanel)
		api.POST("/releases/:id/import", h.ImportPlan)
		api.GET("/releases/:id/export", h.ExportPlan)
		api.GET("/releases/:id/simulate", h.Simulate)
		api.POST("/releases/:id/deploy", h.RequestDeployment)
		api.GET("/releases/:id/deployment", h.DeploymentStatus)
	}

	// Jobs
	if cfg.JobHandler != nil {
		api.GET("/jobs/:id", cfg.JobHandler.GetJob)
		api.POST("/jobs/:id/cancel", cfg.JobHandler.CancelJob)
	}

	return r
}
