// Package proxy forwards gateway requests to the upstream services.
package proxy

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yashrajoria/marketplace/services/common/auth"
)

var hopByHop = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

type Forwarder struct {
	client *http.Client
	logger *zap.Logger
}

func NewForwarder(timeout time.Duration, logger *zap.Logger) *Forwarder {
	return &Forwarder{client: &http.Client{Timeout: timeout}, logger: logger}
}

// To returns a handler forwarding to targetBase plus the route's *any
// parameter. The verified identity is injected as X-User-ID/X-User-Role.
func (f *Forwarder) To(targetBase string) gin.HandlerFunc {
	return func(c *gin.Context) {
		targetURL := targetBase + c.Param("any")
		if c.Request.URL.RawQuery != "" {
			targetURL += "?" + c.Request.URL.RawQuery
		}

		req, err := http.NewRequestWithContext(c.Request.Context(), c.Request.Method, targetURL, c.Request.Body)
		if err != nil {
			f.logger.Error("Failed to create forward request", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create request"})
			return
		}

		for k, v := range c.Request.Header {
			if hopByHop[strings.ToLower(k)] {
				continue
			}
			req.Header[k] = v
		}
		req.Header.Del("X-User-ID")
		req.Header.Del("X-User-Role")
		if uid := auth.GetUserID(c); uid != "" {
			req.Header.Set("X-User-ID", uid)
			if role := auth.GetRole(c); role != "" {
				req.Header.Set("X-User-Role", role)
			}
		}
		if rid := c.Writer.Header().Get("X-Request-ID"); rid != "" {
			req.Header.Set("X-Request-ID", rid)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			f.logger.Warn("Upstream unreachable",
				zap.String("method", c.Request.Method),
				zap.String("url", targetBase),
				zap.Error(err),
			)
			c.JSON(http.StatusBadGateway, gin.H{"error": "service unreachable"})
			return
		}
		defer resp.Body.Close()

		for k, v := range resp.Header {
			lowerKey := strings.ToLower(k)
			// CORS is answered by the gateway itself.
			if strings.HasPrefix(lowerKey, "access-control-") || hopByHop[lowerKey] {
				continue
			}
			c.Header(k, strings.Join(v, ","))
		}
		c.Status(resp.StatusCode)

		if _, err := io.Copy(c.Writer, resp.Body); err != nil {
			f.logger.Warn("Failed to copy response body", zap.Error(err))
		}
	}
}
