package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	temporalsdkclient "go.temporal.io/sdk/client"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	dbpkg "github.com/yungbote/panelapp-backend/internal/data/db"
	"github.com/yungbote/panelapp-backend/internal/http"
	"github.com/yungbote/panelapp-backend/internal/jobs/worker"
	"github.com/yungbote/panelapp-backend/internal/observability"
	"github.com/yungbote/panelapp-backend/internal/platform/envutil"
	"github.com/yungbote/panelapp-backend/internal/platform/logger"
	"github.com/yungbote/panelapp-backend/internal/realtime"
	"github.com/yungbote/panelapp-backend/internal/realtime/bus"
	"github.com/yungbote/panelapp-backend/internal/temporalx"
	"github.com/yungbote/panelapp-backend/internal/temporalx/temporalworker"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Repos    Repos
	Services Services
	Hub      *realtime.Hub
	Bus      bus.Bus
	Metrics  *observability.Metrics
	Temporal temporalsdkclient.Client

	otelShutdown func(context.Context) error
}

// Option adjusts the loaded config, for example from CLI flags.
type Option func(*Config)

func New(opts ...Option) (*App, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)
	for _, opt := range opts {
		opt(&cfg)
	}

	theDB, err := openDB(log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}
	if err := dbpkg.AutoMigrateAll(theDB); err != nil {
		log.Sync()
		return nil, fmt.Errorf("automigrate: %w", err)
	}

	otelShutdown := observability.InitOTel(context.Background(), log, cfg.Otel)
	metrics := observability.Init(log)

	eventBus, err := bus.New(log, cfg.RedisAddr, cfg.RedisChannel)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init event bus: %w", err)
	}

	tc, err := temporalx.NewClient(context.Background(), cfg.Temporal, log)
	if err != nil {
		_ = eventBus.Close()
		log.Sync()
		return nil, fmt.Errorf("init temporal: %w", err)
	}

	reposet := wireRepos(theDB, log)
	serviceset, err := wireServices(theDB, log, cfg, reposet, eventBus, tc)
	if err != nil {
		_ = eventBus.Close()
		log.Sync()
		return nil, err
	}

	hub := realtime.NewHub(log)
	handlerset := wireHandlers(log, serviceset, hub)
	router := wireRouter(log, cfg, metrics, handlerset)

	return &App{
		Log:          log,
		DB:           theDB,
		Router:       router,
		Cfg:          cfg,
		Repos:        reposet,
		Services:     serviceset,
		Hub:          hub,
		Bus:          eventBus,
		Metrics:      metrics,
		Temporal:     tc,
		otelShutdown: otelShutdown,
	}, nil
}

func openDB(log *logger.Logger, cfg Config) (*gorm.DB, error) {
	switch cfg.DatabaseDriver {
	case DriverSQLite:
		svc, err := dbpkg.NewSQLiteService(log, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("init sqlite: %w", err)
		}
		return svc.DB(), nil
	default:
		svc, err := dbpkg.NewPostgresService(log)
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		return svc.DB(), nil
	}
}

// Run serves the API and/or runs the job worker, per RunServer and
// RunWorker, until ctx is canceled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	if !a.Cfg.RunServer && !a.Cfg.RunWorker {
		return fmt.Errorf("nothing to run: RUN_SERVER and RUN_WORKER are both off")
	}

	g, gctx := errgroup.WithContext(ctx)
	a.Metrics.StartDBCollector(gctx, a.Log, a.DB)
	a.Metrics.StartRedisCollector(gctx, a.Log, a.Cfg.RedisAddr)
	a.Metrics.StartJobQueueCollector(gctx, a.Log, a.DB)

	if a.Cfg.RunServer {
		if err := a.Bus.StartForwarder(gctx, a.Hub.Broadcast); err != nil {
			return fmt.Errorf("start event forwarder: %w", err)
		}
		server := &http.Server{Engine: a.Router}
		addr := ":" + a.Cfg.Port
		g.Go(func() error {
			a.Log.Info("Serving HTTP", "addr", addr)
			return server.Run(gctx, addr)
		})
	}
	if a.Cfg.RunWorker {
		g.Go(func() error { return a.runWorker(gctx) })
	}
	return g.Wait()
}

func (a *App) runWorker(ctx context.Context) error {
	if a.Temporal != nil {
		runner, err := temporalworker.NewRunner(a.Log, a.Cfg.Temporal, a.Temporal, a.DB, a.Repos.JobRun,
			a.Services.Registry, a.Services.JobNotifier)
		if err != nil {
			return err
		}
		return runner.Run(ctx)
	}
	w := worker.NewWorker(a.DB, a.Log, a.Repos.JobRun, a.Services.Registry, a.Services.JobNotifier, a.Cfg.Worker)
	return w.Run(ctx)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Temporal != nil {
		a.Temporal.Close()
	}
	if a.Bus != nil {
		_ = a.Bus.Close()
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.otelShutdown(ctx); err != nil && a.Log != nil {
			a.Log.Warn("otel shutdown failed", "error", err)
		}
		cancel()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
