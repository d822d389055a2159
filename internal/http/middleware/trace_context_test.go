package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/yungbote/panelapp-backend/internal/platform/ctxutil"
)

func tracedRouter(tp *sdktrace.TracerProvider) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		ctx, span := tp.Tracer("test").Start(c.Request.Context(), c.FullPath())
		defer span.End()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	r.Use(AttachTraceContext())
	return r
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[attribute.Key]string {
	out := map[attribute.Key]string{}
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value.AsString()
	}
	return out
}

func TestAttachTraceContextTagsReleaseRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	var td *ctxutil.TraceData
	r := tracedRouter(tp)
	r.PUT("/api/releases/:id/panels/:panel_id", func(c *gin.Context) {
		td = ctxutil.GetTraceData(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPut, "/api/releases/3/panels/12", nil)
	req.Header.Set(headerRequestID, "req-1")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, td)
	assert.Equal(t, "req-1", td.RequestID)
	assert.Equal(t, "req-1", rec.Header().Get(headerRequestID))

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, spans[0].SpanContext().TraceID().String(), td.TraceID)
	assert.Equal(t, td.TraceID, rec.Header().Get(headerTraceID))

	attrs := spanAttrs(spans[0])
	assert.Equal(t, "req-1", attrs["request.id"])
	assert.Equal(t, "3", attrs["panelapp.release_id"])
	assert.Equal(t, "12", attrs["panelapp.panel_id"])
}

func TestAttachTraceContextTagsPanelRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	r := tracedRouter(tp)
	r.POST("/api/panels/:id/increment", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/healthcheck", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/panels/7/increment", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	panel := spanAttrs(spans[0])
	assert.Equal(t, "7", panel["panelapp.panel_id"])
	assert.NotContains(t, panel, attribute.Key("panelapp.release_id"))

	health := spanAttrs(spans[1])
	assert.NotEmpty(t, health["request.id"])
	assert.NotContains(t, health, attribute.Key("panelapp.panel_id"))
}
