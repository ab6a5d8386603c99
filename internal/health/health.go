// Package health exposes liveness and metrics endpoints for the service.
package health

import (
	"context"
	"sync"
	"time"
)

// Status levels for a component or the whole service.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) error

// ComponentReport is the outcome of one dependency probe.
type ComponentReport struct {
	Status  Status `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

// Monitor runs registered dependency checks on demand.
type Monitor struct {
	mu       sync.RWMutex
	checks   map[string]CheckFunc
	critical map[string]bool
}

// NewMonitor creates an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		checks:   make(map[string]CheckFunc),
		critical: make(map[string]bool),
	}
}

// Register adds a dependency check. Critical components turn the aggregate
// status critical when failing; the rest only degrade it.
func (m *Monitor) Register(name string, critical bool, check CheckFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
	m.critical[name] = critical
}

// CheckHealth probes every registered component.
func (m *Monitor) CheckHealth(ctx context.Context) map[string]ComponentReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := make(map[string]ComponentReport, len(m.checks))
	for name, check := range m.checks {
		start := time.Now()
		checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := check(checkCtx)
		cancel()

		r := ComponentReport{
			Status:  StatusHealthy,
			Latency: time.Since(start).String(),
		}
		if err != nil {
			r.Error = err.Error()
			if m.critical[name] {
				r.Status = StatusCritical
			} else {
				r.Status = StatusDegraded
			}
		}
		report[name] = r
	}
	return report
}
