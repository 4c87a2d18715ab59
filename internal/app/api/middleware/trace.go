package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fatflowers/entitlement/pkg/logctx"
)

const (
	HeaderRequestID = "X-Request-ID"

	// maxTraceIDLen matches the trace_id column width.
	maxTraceIDLen = 128
)

// TraceMiddleware adds a trace ID to the request context.
// It reads X-Request-ID if provided by the client; otherwise generates a UUID.
// The trace ID is stored in both gin.Context and the request's context.Context.
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(HeaderRequestID)
		if traceID == "" || len(traceID) > maxTraceIDLen {
			traceID = uuid.New().String()
		}

		c.Set(logctx.KeyTraceID, traceID)
		ctx := context.WithValue(c.Request.Context(), logctx.KeyTraceID, traceID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
