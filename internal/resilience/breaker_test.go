package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/jackpotd/internal/core/fault"
)

// fakeClock drives the breaker's injectable clock.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(cfg BreakerConfig) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreaker("test", cfg)
	b.now = clock.now
	return b, clock
}

func failingOp(ctx context.Context) (any, error) {
	return nil, fault.New(fault.CodeDatabaseConnection, "connection refused")
}

func okOp(ctx context.Context) (any, error) {
	return "ok", nil
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		MonitoringWindow: time.Minute,
	})

	for i := range 3 {
		if _, err := b.Execute(context.Background(), failingOp); err == nil {
			t.Fatalf("call %d: expected failure", i)
		}
	}
	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %v, want open after %d failures", got, 3)
	}
}

func TestBreakerRejectsWithoutInvoking(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  30 * time.Second,
		MonitoringWindow: time.Minute,
	})
	b.Execute(context.Background(), failingOp)

	invoked := false
	_, err := b.Execute(context.Background(), func(ctx context.Context) (any, error) {
		invoked = true
		return nil, nil
	})
	if !fault.IsCode(err, fault.CodeSystemUnavailable) {
		t.Fatalf("error = %v, want SYSTEM_CIRCUIT_OPEN", err)
	}
	if invoked {
		t.Error("open breaker invoked the operation")
	}
}

func TestBreakerRecoversThroughProbe(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  30 * time.Second,
		MonitoringWindow: time.Minute,
	})
	b.Execute(context.Background(), failingOp)
	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	clock.advance(31 * time.Second)
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("state = %v, want half_open after recovery timeout", got)
	}

	if _, err := b.Execute(context.Background(), okOp); err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("state = %v, want closed after successful probe", got)
	}
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  30 * time.Second,
		MonitoringWindow: time.Minute,
	})
	b.Execute(context.Background(), failingOp)

	clock.advance(31 * time.Second)
	b.Execute(context.Background(), failingOp)
	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %v, want open after failed probe", got)
	}

	// The reopened breaker holds for another full recovery timeout.
	clock.advance(29 * time.Second)
	if got := b.State(); got != StateOpen {
		t.Errorf("state = %v, want still open", got)
	}
	clock.advance(2 * time.Second)
	if got := b.State(); got != StateHalfOpen {
		t.Errorf("state = %v, want half_open again", got)
	}
}

func TestBreakerAllowsSingleProbe(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{
		FailureThreshold: 1,
		RecoveryTimeout:  30 * time.Second,
		MonitoringWindow: time.Minute,
	})
	b.Execute(context.Background(), failingOp)
	clock.advance(31 * time.Second)

	// Reserve the probe slot without completing the call.
	if err := b.allow(); err != nil {
		t.Fatalf("probe slot rejected: %v", err)
	}
	if err := b.allow(); !fault.IsCode(err, fault.CodeSystemUnavailable) {
		t.Errorf("second concurrent probe allowed, err = %v", err)
	}
}

func TestBreakerIgnoresBusinessErrors(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
		MonitoringWindow: time.Minute,
		ExpectedError:    BusinessErrorPredicate,
	})

	for range 10 {
		b.Execute(context.Background(), func(ctx context.Context) (any, error) {
			return nil, fault.New(fault.CodeInsufficientJackpotFunds, "pool too small")
		})
	}
	if got := b.State(); got != StateClosed {
		t.Errorf("state = %v, want closed: business errors must not trip the breaker", got)
	}

	for range 2 {
		b.Execute(context.Background(), failingOp)
	}
	if got := b.State(); got != StateOpen {
		t.Errorf("state = %v, want open after infrastructure failures", got)
	}
}

func TestBreakerWindowForgetsOldFailures(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  30 * time.Second,
		MonitoringWindow: time.Minute,
	})

	b.Execute(context.Background(), failingOp)
	b.Execute(context.Background(), failingOp)

	// The first two failures age out of the window.
	clock.advance(2 * time.Minute)

	b.Execute(context.Background(), failingOp)
	if got := b.State(); got != StateClosed {
		t.Errorf("state = %v, want closed: stale failures must not count", got)
	}
}

func TestRegistryPerOperationTuning(t *testing.T) {
	reg := NewRegistry(nil)

	win := reg.Get(OpProcessWin)
	if win.cfg.FailureThreshold != 3 {
		t.Errorf("win threshold = %d, want 3", win.cfg.FailureThreshold)
	}
	if win.cfg.RecoveryTimeout != 60*time.Second {
		t.Errorf("win recovery = %v, want 60s", win.cfg.RecoveryTimeout)
	}

	contribute := reg.Get(OpContribute)
	if contribute.cfg.FailureThreshold != 10 {
		t.Errorf("contribute threshold = %d, want 10", contribute.cfg.FailureThreshold)
	}

	if reg.Get(OpProcessWin) != win {
		t.Error("Get returned a new breaker for the same operation")
	}
}

func TestRegistryOverrides(t *testing.T) {
	reg := NewRegistry(map[string]BreakerConfig{
		OpContribute: {FailureThreshold: 42},
	})

	b := reg.Get(OpContribute)
	if b.cfg.FailureThreshold != 42 {
		t.Errorf("threshold = %d, want override 42", b.cfg.FailureThreshold)
	}
	if b.cfg.RecoveryTimeout != 15*time.Second {
		t.Errorf("recovery = %v, want default 15s preserved", b.cfg.RecoveryTimeout)
	}
	if b.cfg.ExpectedError == nil {
		t.Error("override lost the business error predicate")
	}
}

func TestRegistryStates(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Get(OpContribute)
	reg.Get(OpProcessWin)

	states := reg.States()
	if len(states) != 2 {
		t.Fatalf("state count = %d, want 2", len(states))
	}
	for name, s := range states {
		if s != StateClosed {
			t.Errorf("%s state = %v, want closed", name, s)
		}
	}
}
