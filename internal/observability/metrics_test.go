package observability

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAPI("GET", "/x", "200", time.Millisecond)
		m.ObserveAPIError("/x", "release_locked")
		m.ObserveDeployment("deployed", time.Second)
		m.IncPlanImport("ok")
		m.IncSnapshotIncrement(true)
		m.IncLockContention("deploy")
		m.IncDeployedPanel(false)
		m.ObserveJob("release_deploy", "succeeded", time.Second)
	})
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 503, rec.Code)
}

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveDeployment("deployed", 2*time.Second)
	m.ObserveDeployment("locked", 0)
	m.IncSnapshotIncrement(false)
	m.IncSnapshotIncrement(false)
	m.IncDeployedPanel(true)
	m.ObserveAPIError("/api/releases/:id/deploy", "release_locked")
	m.ObserveAPIError("/api/releases/:id/deploy", "")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.deployments.WithLabelValues("deployed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deployments.WithLabelValues("locked")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.snapshotBumps.WithLabelValues("minor")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.deployDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.apiErrors.WithLabelValues("/api/releases/:id/deploy", "release_locked")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.apiErrors))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `panelapp_release_panels_deployed_total{promoted="true"} 1`))
}
