package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitMiddleware applies a per-caller token bucket. Buckets are keyed
// by authenticated user id, falling back to client IP for anonymous paths.
type RateLimitMiddleware struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*callerLimiter
}

type callerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimitMiddleware(requestsPerSecond float64, burst int) *RateLimitMiddleware {
	m := &RateLimitMiddleware{
		limit:    rate.Limit(requestsPerSecond),
		burst:    burst,
		limiters: make(map[string]*callerLimiter),
	}

	go m.cleanupLoop()

	return m
}

// Limit rejects requests that exceed the caller's bucket with 429.
func (m *RateLimitMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if userID, exists := c.Get("user_id"); exists {
			key = userKey(userID.(int64))
		}

		if !m.limiterFor(key).Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "Rate limit exceeded",
				"message": "Too many requests, slow down",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func (m *RateLimitMiddleware) limiterFor(key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.limiters[key]
	if !ok {
		entry = &callerLimiter{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.limiters[key] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// cleanupLoop evicts buckets idle for more than ten minutes so the map
// doesn't grow without bound.
func (m *RateLimitMiddleware) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		cutoff := time.Now().Add(-10 * time.Minute)
		m.mu.Lock()
		for key, entry := range m.limiters {
			if entry.lastSeen.Before(cutoff) {
				delete(m.limiters, key)
			}
		}
		m.mu.Unlock()
	}
}

func userKey(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}
