// Package resilience wraps jackpot operations with generic retry policy and
// per-operation circuit breaking for external-facing call sites.
package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vietddude/jackpotd/internal/core/fault"
	"github.com/vietddude/jackpotd/internal/jackpot/metrics"
)

// Policy defines retry behavior for an executor.
type Policy struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// DefaultPolicy provides sensible defaults.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   100 * time.Millisecond,
}

// Operation is any retryable call.
type Operation func(ctx context.Context) (any, error)

// Result is the executor's outcome. It is always a value: the executor
// never panics past its boundary.
type Result struct {
	Success  bool
	Data     any
	Err      *fault.Error
	Attempts int
}

// Executor retries operations whose classified failures are retryable,
// backing off exponentially with jitter between attempts.
type Executor struct {
	policy Policy
}

// NewExecutor creates an executor with the given policy, filling defaults.
func NewExecutor(policy Policy) *Executor {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultPolicy.BaseDelay
	}
	return &Executor{policy: policy}
}

// Do executes op, retrying retryable failures up to the policy limit. The
// wait before each retry is the exponential backoff step or the failure
// code's delay floor, whichever is longer.
func (e *Executor) Do(ctx context.Context, opName string, op Operation) Result {
	backoff := retry.WithMaxRetries(
		uint64(e.policy.MaxAttempts-1),
		retry.WithJitterPercent(30, retry.NewExponential(e.policy.BaseDelay)),
	)

	var lastErr *fault.Error
	for attempt := 1; ; attempt++ {
		data, err := op(ctx)
		if err == nil {
			return Result{Success: true, Data: data, Attempts: attempt}
		}

		fe := fault.Classify(err)
		lastErr = fe

		if !fe.Retryable() {
			return Result{Err: fe, Attempts: attempt}
		}

		delay, stop := backoff.Next()
		if stop {
			break
		}
		if floor := fe.RetryDelay(); delay < floor {
			delay = floor
		}

		metrics.RetriesTotal.WithLabelValues(opName).Inc()
		slog.Warn("Retrying operation",
			"operation", opName, "attempt", attempt, "code", fe.Code, "delay", delay)

		select {
		case <-ctx.Done():
			return Result{Err: fault.Classify(ctx.Err()), Attempts: attempt}
		case <-time.After(delay):
		}
	}

	return Result{Err: lastErr, Attempts: e.policy.MaxAttempts}
}
