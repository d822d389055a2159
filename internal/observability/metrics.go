package observability

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	types "github.com/yungbote/panelapp-backend/internal/domain"
	"github.com/yungbote/panelapp-backend/internal/domain/jobs"
	"github.com/yungbote/panelapp-backend/internal/platform/envutil"
	"github.com/yungbote/panelapp-backend/internal/platform/logger"
)

type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge
	apiErrors   *prometheus.CounterVec

	jobRuns    *prometheus.HistogramVec
	queueDepth *prometheus.GaugeVec

	deployments     *prometheus.CounterVec
	deployDuration  prometheus.Histogram
	deployedPanels  *prometheus.CounterVec
	planImports     *prometheus.CounterVec
	snapshotBumps   *prometheus.CounterVec
	lockContentions *prometheus.CounterVec

	dbStats   *prometheus.GaugeVec
	redisUp   prometheus.Gauge
	redisPing prometheus.Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

func Current() *Metrics {
	return instance
}

// Init builds the process-wide metrics once. It returns nil when
// METRICS_ENABLED is off; every method is safe on a nil receiver.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		instance = NewMetrics(reg)
		if log != nil {
			log.Info("metrics initialized")
		}
	})
	return instance
}

// NewMetrics registers the panelapp collectors on reg.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "panelapp_api_requests_total",
			Help: "API requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "panelapp_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"method", "route", "status"}),
		apiErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "panelapp_api_errors_total",
			Help: "API error responses by route and error code.",
		}, []string{"route", "code"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "panelapp_api_inflight_requests",
			Help: "In-flight API requests.",
		}),
		jobRuns: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "panelapp_job_run_duration_seconds",
			Help:    "Background job run time by job type and outcome.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"job_type", "status"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "panelapp_job_queue_depth",
			Help: "Job runs by status.",
		}, []string{"status"}),
		deployments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "panelapp_release_deployments_total",
			Help: "Release deployment attempts by outcome.",
		}, []string{"outcome"}),
		deployDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "panelapp_release_deployment_duration_seconds",
			Help:    "Wall time of successful release deployments.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 16),
		}),
		deployedPanels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "panelapp_release_panels_deployed_total",
			Help: "Release panels signed off by deployments.",
		}, []string{"promoted"}),
		planImports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "panelapp_release_plan_imports_total",
			Help: "Release plan imports by outcome.",
		}, []string{"outcome"}),
		snapshotBumps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "panelapp_panel_snapshot_increments_total",
			Help: "Panel snapshot increments by kind.",
		}, []string{"kind"}),
		lockContentions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "panelapp_release_lock_contentions_total",
			Help: "NOWAIT lock failures on releases by operation.",
		}, []string{"operation"}),
		dbStats: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "panelapp_db_pool",
			Help: "database/sql pool statistics.",
		}, []string{"stat"}),
		redisUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "panelapp_redis_up",
			Help: "1 when the last redis ping succeeded.",
		}),
		redisPing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "panelapp_redis_ping_seconds",
			Help: "Latency of the last redis ping.",
		}),
	}
	reg.MustRegister(
		m.apiRequests, m.apiLatency, m.apiInflight, m.apiErrors,
		m.jobRuns, m.queueDepth,
		m.deployments, m.deployDuration, m.deployedPanels, m.planImports, m.snapshotBumps, m.lockContentions,
		m.dbStats, m.redisUp, m.redisPing,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "UNKNOWN"
	}
	if route == "" {
		route = "unknown"
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route, status).Observe(dur.Seconds())
}

// ObserveAPIError counts an error response by its envelope code, e.g.
// release_locked or invalid_release_plan.
func (m *Metrics) ObserveAPIError(route, code string) {
	if m == nil || code == "" {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.apiErrors.WithLabelValues(route, code).Inc()
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) ObserveJob(jobType, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if jobType == "" {
		jobType = "unknown"
	}
	m.jobRuns.WithLabelValues(jobType, status).Observe(dur.Seconds())
}

// ObserveDeployment counts one Deploy call. dur is only recorded for
// outcome "deployed".
func (m *Metrics) ObserveDeployment(outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.deployments.WithLabelValues(outcome).Inc()
	if outcome == "deployed" {
		m.deployDuration.Observe(dur.Seconds())
	}
}

func (m *Metrics) IncDeployedPanel(promoted bool) {
	if m == nil {
		return
	}
	label := "false"
	if promoted {
		label = "true"
	}
	m.deployedPanels.WithLabelValues(label).Inc()
}

func (m *Metrics) IncPlanImport(outcome string) {
	if m == nil {
		return
	}
	m.planImports.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncSnapshotIncrement(major bool) {
	if m == nil {
		return
	}
	kind := "minor"
	if major {
		kind = "major"
	}
	m.snapshotBumps.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncLockContention(operation string) {
	if m == nil {
		return
	}
	m.lockContentions.WithLabelValues(operation).Inc()
}

func scrapeInterval() time.Duration {
	n := envutil.Int("METRICS_SCRAPE_INTERVAL_SECONDS", 10)
	if n <= 0 {
		n = 10
	}
	return time.Duration(n) * time.Second
}

func (m *Metrics) StartDBCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(scrapeInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: db stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.dbStats.WithLabelValues("open_connections").Set(float64(stats.OpenConnections))
				m.dbStats.WithLabelValues("in_use").Set(float64(stats.InUse))
				m.dbStats.WithLabelValues("idle").Set(float64(stats.Idle))
				m.dbStats.WithLabelValues("wait_count").Set(float64(stats.WaitCount))
				m.dbStats.WithLabelValues("wait_duration_seconds").Set(stats.WaitDuration.Seconds())
				m.dbStats.WithLabelValues("max_open_connections").Set(float64(stats.MaxOpenConnections))
			}
		}
	}()
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	go func() {
		ticker := time.NewTicker(scrapeInterval())
		defer ticker.Stop()
		defer rdb.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}

func (m *Metrics) StartJobQueueCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	statuses := []string{jobs.StatusQueued, jobs.StatusRunning, jobs.StatusSucceeded, jobs.StatusFailed, jobs.StatusCanceled}
	go func() {
		ticker := time.NewTicker(scrapeInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				var rows []struct {
					Status string
					Count  int64
				}
				if err := db.WithContext(ctx).
					Model(&types.JobRun{}).
					Select("status, count(*) as count").
					Group("status").
					Scan(&rows).Error; err != nil {
					if log != nil {
						log.Warn("metrics: job queue depth query failed", "error", err)
					}
					continue
				}
				for _, s := range statuses {
					m.queueDepth.WithLabelValues(s).Set(0)
				}
				for _, row := range rows {
					m.queueDepth.WithLabelValues(row.Status).Set(float64(row.Count))
				}
			}
		}
	}()
}
