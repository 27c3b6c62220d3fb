package middleware

import (
	"context"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/verdant-edge/internal/platform/ctxutil"
	"github.com/yungbote/verdant-edge/internal/platform/logger"
)

func RequestIDFromContext(ctx context.Context) string {
	if td := ctxutil.GetTraceData(ctx); td != nil {
		return td.RequestID
	}
	return ""
}

// RequestID reuses an incoming X-Request-Id or mints one and echoes it back.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader("X-Request-Id"))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Request = c.Request.WithContext(ctxutil.WithTraceData(c.Request.Context(), &ctxutil.TraceData{RequestID: id}))
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

// TraceID copies the active span's trace id into the request's trace data. It
// runs after the tracing middleware.
func TraceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			if td := ctxutil.GetTraceData(ctx); td != nil {
				td.TraceID = sc.TraceID().String()
			}
		}
		c.Next()
	}
}

func AccessLog(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithContext(c.Request.Context()).With(
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"bytes", c.Writer.Size(),
			"duration_ms", time.Since(start).Milliseconds(),
		).Info("http request")
	}
}

func Recover(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				log.WithContext(c.Request.Context()).With(
					"panic", rec,
					"stack", string(debug.Stack()),
				).Error("panic recovered")
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": gin.H{"message": "internal server error", "code": "internal"},
				})
			}
		}()
		c.Next()
	}
}
