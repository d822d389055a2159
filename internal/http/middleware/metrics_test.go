package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/panelapp-backend/internal/http/response"
	"github.com/yungbote/panelapp-backend/internal/observability"
)

func scrape(t *testing.T, r http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetricsCountsErrorCodesPerRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := observability.NewMetrics(prometheus.NewRegistry())

	r := gin.New()
	r.Use(Metrics(m))
	r.GET("/metrics", gin.WrapH(m.Handler()))
	r.POST("/api/releases/:id/import", func(c *gin.Context) {
		response.RespondError(c, http.StatusBadRequest, "release_deployed", errors.New("release already deployed"))
	})
	r.GET("/api/releases/:id", func(c *gin.Context) {
		response.RespondOK(c, gin.H{"id": c.Param("id")})
	})

	for _, path := range []string{"/api/releases/1/import", "/api/releases/2/import"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/releases/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := scrape(t, r)
	assert.Contains(t, body, `panelapp_api_errors_total{code="release_deployed",route="/api/releases/:id/import"} 2`)
	assert.NotContains(t, body, `panelapp_api_errors_total{code="release_deployed",route="/api/releases/:id"}`)
	assert.Contains(t, body, `route="/api/releases/:id",status="200"`)

	body = scrape(t, r)
	assert.NotContains(t, body, `route="/metrics"`)
}

func TestMetricsNilPassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics(nil))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
