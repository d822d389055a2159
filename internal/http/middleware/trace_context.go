package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/panelapp-backend/internal/platform/ctxutil"
)

const (
	headerTraceID   = "X-Trace-Id"
	headerRequestID = "X-Request-Id"
)

// AttachTraceContext threads request and trace ids through the request
// context and response headers, and tags the active span with them plus
// the panel or release the route addresses.
func AttachTraceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := strings.TrimSpace(c.GetHeader(headerRequestID))
		if reqID == "" {
			reqID = uuid.New().String()
		}
		spanCtx := trace.SpanContextFromContext(c.Request.Context())
		traceID := strings.TrimSpace(c.GetHeader(headerTraceID))
		if traceID == "" && spanCtx.HasTraceID() {
			traceID = spanCtx.TraceID().String()
		}
		if traceID == "" {
			traceID = uuid.New().String()
		}
		ctx := ctxutil.WithTraceData(c.Request.Context(), &ctxutil.TraceData{
			TraceID:   traceID,
			RequestID: reqID,
		})
		c.Request = c.Request.WithContext(ctx)

		trace.SpanFromContext(ctx).SetAttributes(routeAttributes(c, reqID)...)

		c.Writer.Header().Set(headerTraceID, traceID)
		c.Writer.Header().Set(headerRequestID, reqID)
		c.Next()
	}
}

// routeAttributes names the resource a request targets, e.g.
// panelapp.release_id=3 and panelapp.panel_id=12 for a release panel edit.
func routeAttributes(c *gin.Context, reqID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("request.id", reqID)}
	route := c.FullPath()
	id := c.Param("id")
	switch {
	case id == "":
	case strings.HasPrefix(route, "/api/releases/"):
		attrs = append(attrs, attribute.String("panelapp.release_id", id))
		if panelID := c.Param("panel_id"); panelID != "" {
			attrs = append(attrs, attribute.String("panelapp.panel_id", panelID))
		}
	case strings.HasPrefix(route, "/api/panels/"):
		attrs = append(attrs, attribute.String("panelapp.panel_id", id))
	case strings.HasPrefix(route, "/api/jobs/"):
		attrs = append(attrs, attribute.String("panelapp.job_id", id))
	}
	return attrs
}
