// Package health reports liveness and backend readiness.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/devrev/paracore/internal/store"
	"go.uber.org/zap"
)

// Check statuses
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// DefaultTimeout bounds a single readiness probe
const DefaultTimeout = 5 * time.Second

// LivenessResponse is the body of GET /health
type LivenessResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse is the body of GET /ready
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	Errors map[string]string `json:"errors,omitempty"`
}

// Checker pings the registered backends
type Checker struct {
	mu      sync.RWMutex
	targets map[string]store.Pinger
	last    ReadinessResponse
	timeout time.Duration
	logger  *zap.Logger
}

// NewChecker creates a checker with no targets
func NewChecker(logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		targets: make(map[string]store.Pinger),
		last:    ReadinessResponse{Status: StatusNotReady},
		timeout: DefaultTimeout,
		logger:  logger,
	}
}

// Register adds a backend under name. Backends that cannot be pinged are ignored.
func (c *Checker) Register(name string, backend any) {
	p, ok := backend.(store.Pinger)
	if !ok {
		return
	}
	c.mu.Lock()
	c.targets[name] = p
	c.mu.Unlock()
}

// Targets returns the registered names in order
func (c *Checker) Targets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.targets))
	for name := range c.targets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check pings every target and records the result
func (c *Checker) Check(ctx context.Context) ReadinessResponse {
	c.mu.RLock()
	targets := make(map[string]store.Pinger, len(c.targets))
	for name, p := range c.targets {
		targets[name] = p
	}
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp := ReadinessResponse{Status: StatusReady, Checks: make(map[string]string, len(targets))}
	for name, p := range targets {
		if err := p.Ping(ctx); err != nil {
			resp.Status = StatusNotReady
			resp.Checks[name] = StatusUnhealthy
			if resp.Errors == nil {
				resp.Errors = make(map[string]string)
			}
			resp.Errors[name] = err.Error()
			c.logger.Warn("Health check failed", zap.String("backend", name), zap.Error(err))
			continue
		}
		resp.Checks[name] = StatusHealthy
	}

	c.mu.Lock()
	c.last = resp
	c.mu.Unlock()
	return resp
}

// IsReady reports the outcome of the last check
func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last.Status == StatusReady
}

// Run checks every interval until ctx is done
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// LivenessHandler handles GET /health
func (c *Checker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{Status: StatusHealthy})
}

// ReadinessHandler handles GET /ready with a fresh check
func (c *Checker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	resp := c.Check(r.Context())
	status := http.StatusOK
	if resp.Status != StatusReady {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
