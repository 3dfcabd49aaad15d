package middleware

import (
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"processing-api/internal/monitoring"
)

// LoggingMiddleware emits one structured log line per request and feeds the
// HTTP metrics. Metrics may be nil when monitoring is disabled.
type LoggingMiddleware struct {
	logger  *logrus.Logger
	metrics *monitoring.Metrics

	excludePaths map[string]bool
}

func NewLoggingMiddleware(logger *logrus.Logger, metrics *monitoring.Metrics) *LoggingMiddleware {
	return &LoggingMiddleware{
		logger:  logger,
		metrics: metrics,
		excludePaths: map[string]bool{
			"/health":  true,
			"/ready":   true,
			"/metrics": true,
		},
	}
}

func (m *LoggingMiddleware) RequestLogging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m.excludePaths[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		// Route pattern rather than raw path keeps metric cardinality bounded.
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		entry := m.logger.WithFields(logrus.Fields{
			"request_id":  requestid.Get(c),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": duration.Milliseconds(),
			"client_ip":   c.ClientIP(),
		})
		if userID, exists := c.Get("user_id"); exists {
			entry = entry.WithField("user_id", userID)
		}
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}

		switch {
		case c.Writer.Status() >= 500:
			entry.Error("request completed")
		case c.Writer.Status() >= 400:
			entry.Warn("request completed")
		default:
			entry.Info("request completed")
		}

		if m.metrics != nil {
			m.metrics.RecordHTTPRequest(c.Request.Method, endpoint, statusClass(c.Writer.Status()), duration)
		}
	}
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
