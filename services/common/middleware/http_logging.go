package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yashrajoria/marketplace/services/common/apperrors"
	"github.com/yashrajoria/marketplace/services/common/auth"
)

// RequestIDKey is where RequestLogger stores the request id on the gin context.
const RequestIDKey = "request_id"

// RequestLogger writes one "http_request" line per request at a level chosen
// by status, and echoes X-Request-ID (generated when absent). Health probes
// are not logged.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(RequestIDKey, requestID)
		c.Header("X-Request-ID", requestID)

		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		status := c.Writer.Status()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.Int("body_size", c.Writer.Size()),
			zap.String("client_ip", c.ClientIP()),
		}
		if uid := callerID(c); uid != "" {
			fields = append(fields, zap.String("user_id", uid))
		}
		if len(c.Errors) > 0 {
			err := c.Errors.Last().Err
			fields = append(fields, zap.String("code", apperrors.CodeOf(err)), zap.Error(err))
		}

		switch {
		case status >= 500:
			logger.Error("http_request", fields...)
		case status >= 400:
			logger.Warn("http_request", fields...)
		default:
			logger.Info("http_request", fields...)
		}
	}
}

// callerID prefers the verified identity over the raw header.
func callerID(c *gin.Context) string {
	if uid := auth.GetUserID(c); uid != "" {
		return uid
	}
	return c.GetHeader("X-User-ID")
}
