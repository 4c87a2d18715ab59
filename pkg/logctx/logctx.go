package logctx

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Context keys shared by middleware and services. Plain strings keep gin.Context and
// context.Context lookups symmetric.
const (
	KeyLogger  = "logger"
	KeyTraceID = "traceID"
	KeyUserID  = "user_id"
)

// FromGin returns a request-scoped logger from gin.Context if present,
// otherwise returns the provided base logger.
func FromGin(c *gin.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if c == nil {
		return base
	}
	if l, ok := c.Get(KeyLogger); ok {
		if lg, ok := l.(*zap.SugaredLogger); ok && lg != nil {
			return lg
		}
	}
	return FromCtx(c.Request.Context(), base)
}

// FromCtx returns a logger from context if set, otherwise attempts to enrich
// base with trace_id/user_id from context values.
func FromCtx(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if ctx == nil {
		return base
	}
	if lg, ok := ctx.Value(KeyLogger).(*zap.SugaredLogger); ok && lg != nil {
		return lg
	}
	var fields []interface{}
	if tid, ok := ctx.Value(KeyTraceID).(string); ok && tid != "" {
		fields = append(fields, "trace_id", tid)
	}
	if uid, ok := ctx.Value(KeyUserID).(string); ok && uid != "" {
		fields = append(fields, "user_id", uid)
	}
	if len(fields) > 0 {
		return base.With(fields...)
	}
	return base
}

// WithUserID stores the authenticated user id and re-scopes any attached logger.
func WithUserID(ctx context.Context, userID string) context.Context {
	ctx = context.WithValue(ctx, KeyUserID, userID)
	if lg, ok := ctx.Value(KeyLogger).(*zap.SugaredLogger); ok && lg != nil {
		ctx = context.WithValue(ctx, KeyLogger, lg.With("user_id", userID))
	}
	return ctx
}

// TraceID returns the trace id carried by ctx, if any.
func TraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	tid, _ := ctx.Value(KeyTraceID).(string)
	return tid
}

// UserID returns the authenticated user id carried by ctx, if any.
func UserID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	uid, _ := ctx.Value(KeyUserID).(string)
	return uid
}
