package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const maxRequestSize = 1 << 20 // 1MB, submissions are small JSON bodies

// SecurityMiddleware hardens responses and bounds request bodies. CORS and
// request ids are handled by the gin-contrib middlewares in the router setup.
type SecurityMiddleware struct {
	sensitivePrefixes []string
}

func NewSecurityMiddleware() *SecurityMiddleware {
	return &SecurityMiddleware{
		sensitivePrefixes: []string{"/api/transactions", "/api/compliance"},
	}
}

func (s *SecurityMiddleware) SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if c.Request.TLS != nil {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		if s.isSensitiveEndpoint(c.Request.URL.Path) {
			c.Header("Cache-Control", "no-store, no-cache, must-revalidate")
			c.Header("Pragma", "no-cache")
		}

		c.Next()
	}
}

// LimitRequestSize rejects oversized bodies before handlers read them.
func (s *SecurityMiddleware) LimitRequestSize() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxRequestSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "Request body too large",
			})
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestSize)
		c.Next()
	}
}

func (s *SecurityMiddleware) isSensitiveEndpoint(path string) bool {
	for _, prefix := range s.sensitivePrefixes {
		if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
