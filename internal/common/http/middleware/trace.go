package middleware

import (
	"context"
	"strings"

	"codeassess/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	TraceIDHeader   = "X-Trace-Id"
	RequestIDHeader = "X-Request-Id"
	SessionIDHeader = "X-Session-Id"

	traceIDContextKey   = "trace_id"
	requestIDContextKey = "request_id"
	sessionIDContextKey = "session_id"
)

// TraceContextConfig controls how trace/request/session id are extracted and written.
type TraceContextConfig struct {
	// SessionParam is the route parameter carrying the session id.
	SessionParam       string
	WriteSessionHeader bool
}

// TraceContextMiddleware ensures trace/request/session id are in context and response headers.
func TraceContextMiddleware() gin.HandlerFunc {
	return TraceContextMiddlewareWithConfig(TraceContextConfig{
		SessionParam:       "id",
		WriteSessionHeader: true,
	})
}

// TraceContextMiddlewareWithConfig is the configurable version of TraceContextMiddleware.
func TraceContextMiddlewareWithConfig(cfg TraceContextConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := strings.TrimSpace(c.GetHeader(TraceIDHeader))
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Set(traceIDContextKey, traceID)
		ctx := context.WithValue(c.Request.Context(), contextkey.TraceID, traceID)
		c.Writer.Header().Set(TraceIDHeader, traceID)

		requestID := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDContextKey, requestID)
		ctx = context.WithValue(ctx, contextkey.RequestID, requestID)
		c.Writer.Header().Set(RequestIDHeader, requestID)

		sessionID := ""
		if cfg.SessionParam != "" {
			sessionID = strings.TrimSpace(c.Param(cfg.SessionParam))
		}
		if sessionID == "" {
			sessionID = strings.TrimSpace(c.GetHeader(SessionIDHeader))
		}
		if sessionID != "" {
			c.Set(sessionIDContextKey, sessionID)
			ctx = context.WithValue(ctx, contextkey.SessionID, sessionID)
			if cfg.WriteSessionHeader {
				c.Writer.Header().Set(SessionIDHeader, sessionID)
			}
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// OutgoingHeaders returns the trace headers to forward on calls made on behalf of ctx.
func OutgoingHeaders(ctx context.Context) map[string]string {
	headers := make(map[string]string, 3)
	if v, ok := ctx.Value(contextkey.TraceID).(string); ok && v != "" {
		headers[TraceIDHeader] = v
	}
	if v, ok := ctx.Value(contextkey.RequestID).(string); ok && v != "" {
		headers[RequestIDHeader] = v
	}
	if v, ok := ctx.Value(contextkey.SessionID).(string); ok && v != "" {
		headers[SessionIDHeader] = v
	}
	return headers
}
