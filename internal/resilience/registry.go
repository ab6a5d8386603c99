package resilience

import (
	"sync"
	"time"
)

// Operation type names used as breaker keys.
const (
	OpContribute = "contribute"
	OpProcessWin = "process_win"
	OpConfig     = "update_config"
	OpPoolRead   = "pool_read"
)

// BusinessErrorPredicate excludes business rejections (validation,
// insufficient funds, configuration) from breaker failure counting.
// Defined in registry.go because every breaker in the registry shares it.
var BusinessErrorPredicate = func(err error) bool {
	return !isInfrastructureErr(err)
}

// Registry holds one breaker per logical operation type with independently
// tuned thresholds. Wins are the most conservative: fewest allowed failures,
// longest recovery.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	configs  map[string]BreakerConfig
}

// NewRegistry creates a registry with per-operation tuning. Overrides in
// configs replace the built-in defaults per operation name.
func NewRegistry(configs map[string]BreakerConfig) *Registry {
	defaults := map[string]BreakerConfig{
		OpContribute: {
			FailureThreshold: 10,
			RecoveryTimeout:  15 * time.Second,
			MonitoringWindow: 60 * time.Second,
		},
		OpProcessWin: {
			FailureThreshold: 3,
			RecoveryTimeout:  60 * time.Second,
			MonitoringWindow: 120 * time.Second,
		},
		OpConfig: {
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			MonitoringWindow: 60 * time.Second,
		},
		OpPoolRead: {
			FailureThreshold: 20,
			RecoveryTimeout:  10 * time.Second,
			MonitoringWindow: 30 * time.Second,
		},
	}
	for name, cfg := range configs {
		base := defaults[name]
		if cfg.FailureThreshold > 0 {
			base.FailureThreshold = cfg.FailureThreshold
		}
		if cfg.RecoveryTimeout > 0 {
			base.RecoveryTimeout = cfg.RecoveryTimeout
		}
		if cfg.MonitoringWindow > 0 {
			base.MonitoringWindow = cfg.MonitoringWindow
		}
		defaults[name] = base
	}
	for name, cfg := range defaults {
		cfg.ExpectedError = BusinessErrorPredicate
		defaults[name] = cfg
	}

	return &Registry{
		breakers: make(map[string]*Breaker),
		configs:  defaults,
	}
}

// Get returns the breaker for an operation type, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b
	}
	cfg, ok := r.configs[name]
	if !ok {
		cfg = DefaultBreakerConfig
		cfg.ExpectedError = BusinessErrorPredicate
	}
	b := NewBreaker(name, cfg)
	r.breakers[name] = b
	return b
}

// States reports the current state of every instantiated breaker.
func (r *Registry) States() map[string]BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make(map[string]BreakerState, len(r.breakers))
	for name, b := range r.breakers {
		states[name] = b.State()
	}
	return states
}
