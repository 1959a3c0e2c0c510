package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	awspkg "github.com/yashrajoria/marketplace/pkg/aws"
)

// MetricsMiddleware records request count, latency and error counts per
// route template. Publishing happens off the request goroutine.
func MetricsMiddleware(metricsClient *awspkg.MetricsClient, serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !metricsClient.IsEnabled() {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)
		statusCode := c.Writer.Status()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		dimensions := map[string]string{
			"Service": serviceName,
			"Method":  c.Request.Method,
			"Route":   route,
			"Status":  statusCodeToRange(statusCode),
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_ = metricsClient.RecordCount(ctx, awspkg.MetricHTTPRequests, dimensions)
			_ = metricsClient.RecordLatency(ctx, awspkg.MetricHTTPLatency, duration, dimensions)
			for _, name := range errorMetrics(statusCode) {
				_ = metricsClient.RecordCount(ctx, name, dimensions)
			}
		}()
	}
}

func errorMetrics(statusCode int) []string {
	switch {
	case statusCode >= 500:
		return []string{awspkg.MetricHTTPErrors, awspkg.MetricHTTP5xx}
	case statusCode >= 400:
		return []string{awspkg.MetricHTTPErrors, awspkg.MetricHTTP4xx}
	default:
		return nil
	}
}

func statusCodeToRange(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 300 && statusCode < 400:
		return "3xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
