package app

import (
	"strings"
	"time"

	"github.com/yungbote/panelapp-backend/internal/jobs/worker"
	"github.com/yungbote/panelapp-backend/internal/observability"
	"github.com/yungbote/panelapp-backend/internal/platform/envutil"
	"github.com/yungbote/panelapp-backend/internal/platform/logger"
	"github.com/yungbote/panelapp-backend/internal/temporalx"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Port    string
	LogMode string

	DatabaseDriver string
	SQLitePath     string

	// Empty RedisAddr keeps events inside the process.
	RedisAddr    string
	RedisChannel string

	AllowedOrigins []string

	RunServer bool
	RunWorker bool

	Worker   worker.Config
	Temporal temporalx.Config
	Otel     observability.OtelConfig
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Port:    envutil.String("PORT", "8080"),
		LogMode: envutil.String("LOG_MODE", "development"),

		DatabaseDriver: strings.ToLower(envutil.String("DATABASE_DRIVER", DriverPostgres)),
		SQLitePath:     envutil.String("SQLITE_PATH", "panelapp.db"),

		RedisAddr:    envutil.String("REDIS_ADDR", ""),
		RedisChannel: envutil.String("REDIS_CHANNEL", "panelapp:events"),

		AllowedOrigins: envutil.List("CORS_ALLOWED_ORIGINS", nil),

		RunServer: envutil.Bool("RUN_SERVER", true),
		RunWorker: envutil.Bool("RUN_WORKER", true),

		Worker: worker.Config{
			Concurrency:  envutil.Int("WORKER_CONCURRENCY", 4),
			PollInterval: envutil.Millis("WORKER_POLL_INTERVAL_MS", time.Second),
			MaxAttempts:  envutil.Int("JOB_MAX_ATTEMPTS", 5),
			RetryDelay:   envutil.Millis("JOB_RETRY_DELAY_MS", 30*time.Second),
			StaleRunning: envutil.Millis("JOB_STALE_RUNNING_MS", 30*time.Minute),
			Heartbeat:    envutil.Millis("JOB_HEARTBEAT_MS", 30*time.Second),
		},
		Temporal: temporalx.LoadConfig(),
		Otel: observability.OtelConfig{
			ServiceName: envutil.String("OTEL_SERVICE_NAME", "panelapp"),
			Environment: envutil.String("APP_ENV", "development"),
			Version:     envutil.String("APP_VERSION", ""),
		},
	}
	if cfg.DatabaseDriver != DriverPostgres && cfg.DatabaseDriver != DriverSQLite {
		log.Warn("Unknown DATABASE_DRIVER, using postgres", "driver", cfg.DatabaseDriver)
		cfg.DatabaseDriver = DriverPostgres
	}
	log.Info("Config loaded",
		"port", cfg.Port,
		"database_driver", cfg.DatabaseDriver,
		"redis", cfg.RedisAddr != "",
		"temporal", cfg.Temporal.Enabled(),
		"run_server", cfg.RunServer,
		"run_worker", cfg.RunWorker,
	)
	return cfg
}
