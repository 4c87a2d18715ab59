package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/entitlement/pkg/logctx"
)

// RequestLoggerMiddleware attaches a request-scoped logger enriched with
// trace_id to gin.Context and request context. Auth middleware adds user_id later.
func RequestLoggerMiddleware(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetString(logctx.KeyTraceID)

		reqLogger := base.With("trace_id", traceID)
		c.Set(logctx.KeyLogger, reqLogger)
		ctx := context.WithValue(c.Request.Context(), logctx.KeyLogger, reqLogger)
		c.Request = c.Request.WithContext(ctx)

		if traceID != "" {
			c.Writer.Header().Set(HeaderRequestID, traceID)
		}
		c.Next()
	}
}
