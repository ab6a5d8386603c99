package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/jackpotd/internal/core/fault"
	"github.com/vietddude/jackpotd/internal/jackpot/metrics"
)

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	StateClosed   BreakerState = iota // calls pass through, failures tracked
	StateHalfOpen                     // one probe call allowed
	StateOpen                         // calls rejected until the recovery timeout
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes one circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
	MonitoringWindow time.Duration `yaml:"monitoring_window"`

	// ExpectedError reports failures that are surfaced to the caller but
	// excluded from the failure count, e.g. validation rejections. Only
	// infrastructure-class failures should trip the breaker.
	ExpectedError func(err error) bool `yaml:"-"`
}

// DefaultBreakerConfig provides sensible defaults.
var DefaultBreakerConfig = BreakerConfig{
	FailureThreshold: 5,
	RecoveryTimeout:  30 * time.Second,
	MonitoringWindow: 60 * time.Second,
}

// Breaker isolates one operation type from a failing dependency. After the
// windowed failure count reaches the threshold the breaker opens, rejecting
// calls until the recovery timeout elapses; then a single probe call decides
// whether to close again.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu            sync.Mutex
	state         BreakerState
	failureTimes  []time.Time
	nextRetryTime time.Time
	probing       bool

	now func() time.Time // injectable clock for tests
}

// NewBreaker creates a breaker for one operation type.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultBreakerConfig.RecoveryTimeout
	}
	if cfg.MonitoringWindow <= 0 {
		cfg.MonitoringWindow = DefaultBreakerConfig.MonitoringWindow
	}
	b := &Breaker{name: name, cfg: cfg, now: time.Now}
	b.setGauge(StateClosed)
	return b
}

// Execute runs op unless the breaker is open. A rejected call fails fast
// with SYSTEM_CIRCUIT_OPEN without invoking op.
func (b *Breaker) Execute(ctx context.Context, op Operation) (any, error) {
	if err := b.allow(); err != nil {
		metrics.BreakerRejections.WithLabelValues(b.name).Inc()
		return nil, err
	}

	data, err := op(ctx)
	b.record(err)
	return data, err
}

// State returns the current state, applying any due open -> half-open
// transition first.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()
	return b.state
}

// allow decides whether a call may proceed, reserving the probe slot in
// half-open state.
func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshLocked()

	switch b.state {
	case StateOpen:
		return fault.Newf(fault.CodeSystemUnavailable,
			"circuit breaker %s is open", b.name).
			With("retry_at", b.nextRetryTime)
	case StateHalfOpen:
		if b.probing {
			return fault.Newf(fault.CodeSystemUnavailable,
				"circuit breaker %s is probing", b.name)
		}
		b.probing = true
	}
	return nil
}

// record applies the outcome of a completed call.
func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probing = false
		if err == nil || b.expected(err) {
			b.transition(StateClosed)
			b.failureTimes = nil
			return
		}
		b.trip()
		return
	}

	if err == nil || b.expected(err) {
		return
	}

	now := b.now()
	b.failureTimes = append(b.failureTimes, now)
	b.pruneLocked(now)
	if len(b.failureTimes) >= b.cfg.FailureThreshold {
		b.trip()
	}
}

// refreshLocked moves an expired open breaker to half-open.
func (b *Breaker) refreshLocked() {
	if b.state == StateOpen && !b.now().Before(b.nextRetryTime) {
		b.transition(StateHalfOpen)
		b.probing = false
	}
}

// pruneLocked drops failures outside the monitoring window.
func (b *Breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.cfg.MonitoringWindow)
	kept := b.failureTimes[:0]
	for _, t := range b.failureTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failureTimes = kept
}

func (b *Breaker) trip() {
	b.nextRetryTime = b.now().Add(b.cfg.RecoveryTimeout)
	b.transition(StateOpen)
}

func (b *Breaker) transition(next BreakerState) {
	if b.state == next {
		return
	}
	slog.Warn("Circuit breaker state change",
		"breaker", b.name, "from", b.state, "to", next)
	b.state = next
	b.setGauge(next)
}

func (b *Breaker) setGauge(state BreakerState) {
	var v float64
	switch state {
	case StateHalfOpen:
		v = 1
	case StateOpen:
		v = 2
	}
	metrics.BreakerState.WithLabelValues(b.name).Set(v)
}

func (b *Breaker) expected(err error) bool {
	return b.cfg.ExpectedError != nil && b.cfg.ExpectedError(err)
}

// isInfrastructureErr reports whether err indicates a failing dependency
// rather than a caller or business-rule problem.
func isInfrastructureErr(err error) bool {
	switch fault.Classify(err).Category {
	case fault.CategoryDatabase, fault.CategoryConcurrency,
		fault.CategoryNetwork, fault.CategorySystem:
		return true
	default:
		return false
	}
}
