package monitoring

import (
	"context"
	"sync"
	"time"
)

// CheckFunc probes a single dependency. It should respect ctx deadlines.
type CheckFunc func(ctx context.Context) error

const checkTimeout = 3 * time.Second

type HealthStatus struct {
	Status     string                      `json:"status"` // healthy, degraded, unhealthy
	Timestamp  time.Time                   `json:"timestamp"`
	Uptime     string                      `json:"uptime"`
	Version    string                      `json:"version"`
	Components map[string]ComponentHealth  `json:"components"`
}

type ComponentHealth struct {
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// HealthChecker probes registered dependencies on demand. Checks run
// concurrently with a per-check timeout.
type HealthChecker struct {
	version   string
	startTime time.Time

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		version:   version,
		startTime: time.Now(),
		checks:    make(map[string]CheckFunc),
	}
}

func (h *HealthChecker) RegisterCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

func (h *HealthChecker) CheckHealth(ctx context.Context) *HealthStatus {
	h.mu.RLock()
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mu.RUnlock()

	type result struct {
		name   string
		health ComponentHealth
	}

	results := make(chan result, len(checks))
	var wg sync.WaitGroup
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check CheckFunc) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()

			start := time.Now()
			err := check(checkCtx)
			health := ComponentHealth{
				Status:     "healthy",
				DurationMs: time.Since(start).Milliseconds(),
			}
			if err != nil {
				health.Status = "unhealthy"
				health.Error = err.Error()
			}
			results <- result{name: name, health: health}
		}(name, check)
	}
	wg.Wait()
	close(results)

	components := make(map[string]ComponentHealth, len(checks))
	unhealthy := 0
	for r := range results {
		components[r.name] = r.health
		if r.health.Status != "healthy" {
			unhealthy++
		}
	}

	overall := "healthy"
	switch {
	case unhealthy == 0:
	case unhealthy < len(components):
		overall = "degraded"
	default:
		overall = "unhealthy"
	}

	return &HealthStatus{
		Status:     overall,
		Timestamp:  time.Now(),
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Version:    h.version,
		Components: components,
	}
}
