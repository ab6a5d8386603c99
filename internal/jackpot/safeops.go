package jackpot

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/jackpotd/internal/core/domain"
	"github.com/vietddude/jackpotd/internal/core/fault"
	"github.com/vietddude/jackpotd/internal/infra/storage"
	"github.com/vietddude/jackpotd/internal/jackpot/metrics"
)

// Mutate is a caller-supplied mutation applied to one pool inside a
// transaction. Every guarded write it performs bumps the row version.
type Mutate func(ctx context.Context, tx storage.Tx, pool *domain.Pool) (any, error)

// BatchMutate mutates several pools inside one transaction. Pools are keyed
// by group; the whole batch commits or rolls back together.
type BatchMutate func(ctx context.Context, tx storage.Tx, pools map[domain.Group]*domain.Pool) (any, error)

// UpdateResult carries the outcome of a guarded update.
type UpdateResult struct {
	Data            any
	RetryCount      int
	VersionConflict bool
}

// SafeOpsConfig tunes the locking strategies.
type SafeOpsConfig struct {
	BaseDelay          time.Duration `yaml:"base_delay"`
	MaxRetries         int           `yaml:"max_retries"`
	PessimisticTimeout time.Duration `yaml:"pessimistic_timeout"`
}

// DefaultSafeOpsConfig provides sensible defaults.
var DefaultSafeOpsConfig = SafeOpsConfig{
	BaseDelay:          50 * time.Millisecond,
	MaxRetries:         3,
	PessimisticTimeout: 5 * time.Second,
}

// SafeOps wraps pool mutations with optimistic, pessimistic, and batch
// locking strategies. Correctness is delegated to the store's transaction
// isolation plus the version column; there is no in-process lock per group.
type SafeOps struct {
	store storage.Store
	cfg   SafeOpsConfig
}

// NewSafeOps creates the locking layer over a store.
func NewSafeOps(store storage.Store, cfg SafeOpsConfig) *SafeOps {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultSafeOpsConfig.BaseDelay
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultSafeOpsConfig.MaxRetries
	}
	if cfg.PessimisticTimeout <= 0 {
		cfg.PessimisticTimeout = DefaultSafeOpsConfig.PessimisticTimeout
	}
	return &SafeOps{store: store, cfg: cfg}
}

// OptimisticUpdate runs mutate against one group, retrying transient store
// errors with exponential backoff. A version conflict is returned to the
// caller without automatic retry; higher-level retry policy decides.
func (s *SafeOps) OptimisticUpdate(
	ctx context.Context,
	opName string,
	group domain.Group,
	mutate Mutate,
	maxRetries int,
) (*UpdateResult, error) {
	if maxRetries <= 0 {
		maxRetries = s.cfg.MaxRetries
	}

	batch := func(ctx context.Context, tx storage.Tx, pools map[domain.Group]*domain.Pool) (any, error) {
		return mutate(ctx, tx, pools[group])
	}
	return s.BatchOptimisticUpdate(ctx, opName, []domain.Group{group}, batch, maxRetries)
}

// BatchOptimisticUpdate runs mutate against several groups inside one
// transaction, so the batch is atomic within that transaction. Version
// verification is strict: every touched group must show exactly one version
// increment after mutate, and untouched groups must be unchanged.
func (s *SafeOps) BatchOptimisticUpdate(
	ctx context.Context,
	opName string,
	groups []domain.Group,
	mutate BatchMutate,
	maxRetries int,
) (*UpdateResult, error) {
	if maxRetries <= 0 {
		maxRetries = s.cfg.MaxRetries
	}

	var lastErr *fault.Error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		data, err := s.runBatch(ctx, groups, mutate)
		if err == nil {
			return &UpdateResult{Data: data, RetryCount: attempt - 1}, nil
		}

		fe := classifyStorageErr(err)
		lastErr = fe

		if fe.Category == fault.CategoryConcurrency {
			metrics.VersionConflicts.WithLabelValues(groupLabel(groups)).Inc()
			return &UpdateResult{RetryCount: attempt - 1, VersionConflict: true},
				fe.With("operation", opName)
		}
		if !fe.Retryable() {
			return &UpdateResult{RetryCount: attempt - 1}, fe.With("operation", opName)
		}
		if attempt == maxRetries {
			break
		}

		metrics.RetriesTotal.WithLabelValues(opName).Inc()
		slog.Warn("Retrying transient store failure",
			"operation", opName, "attempt", attempt, "code", fe.Code)

		delay := s.backoff(attempt, fe)
		select {
		case <-ctx.Done():
			return &UpdateResult{RetryCount: attempt}, fault.Classify(ctx.Err())
		case <-time.After(delay):
		}
	}

	return &UpdateResult{RetryCount: maxRetries},
		fault.Wrap(fault.CodeConcurrencyRetryExhausted,
			"update failed after retries", lastErr).
			With("operation", opName).
			With("attempts", maxRetries)
}

// runBatch executes one transactional attempt.
func (s *SafeOps) runBatch(
	ctx context.Context,
	groups []domain.Group,
	mutate BatchMutate,
) (any, error) {
	var data any

	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		pools := make(map[domain.Group]*domain.Pool, len(groups))
		versions := make(map[domain.Group]int64, len(groups))
		for _, g := range groups {
			pool, err := tx.GetPool(ctx, g)
			if err != nil {
				return err
			}
			pools[g] = pool
			versions[g] = pool.Version
		}

		tracked := &trackingTx{Tx: tx, touched: make(map[domain.Group]bool)}
		out, err := mutate(ctx, tracked, pools)
		if err != nil {
			return err
		}
		data = out

		// Strict post-condition: a touched row must show exactly one
		// version increment; an unchanged version means the write was
		// lost and is treated as a conflict.
		for _, g := range groups {
			after, err := tx.GetPool(ctx, g)
			if err != nil {
				return err
			}
			want := versions[g]
			if tracked.touched[g] {
				want++
			}
			if after.Version != want {
				return fault.Wrap(fault.CodeConcurrencyVersionConflict,
					"version verification failed", storage.ErrVersionConflict).
					With("group", string(g)).
					With("expected_version", want).
					With("actual_version", after.Version)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// PessimisticUpdate runs mutate under an exclusive row lock, single attempt.
// The timeout bounds the whole transaction including the lock wait. Used for
// wins: rarer, higher stakes, must never double-pay.
func (s *SafeOps) PessimisticUpdate(
	ctx context.Context,
	opName string,
	group domain.Group,
	mutate Mutate,
	timeout time.Duration,
) (*UpdateResult, error) {
	if timeout <= 0 {
		timeout = s.cfg.PessimisticTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	holder := opName + ":" + uuid.NewString()
	var data any

	err := s.store.InTx(ctx, func(tx storage.Tx) error {
		pool, err := tx.LockPool(ctx, group, holder)
		if err != nil {
			return err
		}
		version := pool.Version

		tracked := &trackingTx{Tx: tx, touched: make(map[domain.Group]bool)}
		out, err := mutate(ctx, tracked, pool)
		if err != nil {
			return err
		}
		data = out

		after, err := tx.GetPool(ctx, group)
		if err != nil {
			return err
		}
		want := version
		if tracked.touched[group] {
			want++
		}
		if after.Version != want {
			return fault.Wrap(fault.CodeConcurrencyVersionConflict,
				"version verification failed", storage.ErrVersionConflict).
				With("group", string(group)).
				With("expected_version", want).
				With("actual_version", after.Version)
		}
		return nil
	})
	if err != nil {
		fe := classifyStorageErr(err).With("operation", opName)
		conflict := fe.Category == fault.CategoryConcurrency
		if conflict {
			metrics.VersionConflicts.WithLabelValues(string(group)).Inc()
		}
		return &UpdateResult{VersionConflict: conflict}, fe
	}
	return &UpdateResult{Data: data}, nil
}

// backoff computes base * 1.5^(attempt-1) * (1 + U(0,0.3)), floored by the
// code-specific delay hint.
func (s *SafeOps) backoff(attempt int, fe *fault.Error) time.Duration {
	base := float64(s.cfg.BaseDelay)
	delay := base * math.Pow(1.5, float64(attempt-1)) * (1 + rand.Float64()*0.3)
	if floor := fe.RetryDelay(); delay < float64(floor) {
		return floor
	}
	return time.Duration(delay)
}

func groupLabel(groups []domain.Group) string {
	if len(groups) == 1 {
		return string(groups[0])
	}
	return "batch"
}

// trackingTx records which groups received guarded writes so the strict
// version verification knows what to expect.
type trackingTx struct {
	storage.Tx
	touched map[domain.Group]bool
}

func (t *trackingTx) AddContribution(
	ctx context.Context,
	group domain.Group,
	delta, expectedVersion int64,
) error {
	if err := t.Tx.AddContribution(ctx, group, delta, expectedVersion); err != nil {
		return err
	}
	t.touched[group] = true
	return nil
}

func (t *trackingTx) ApplyWin(
	ctx context.Context,
	group domain.Group,
	amount, expectedVersion int64,
	userID string,
	wonAt time.Time,
) error {
	if err := t.Tx.ApplyWin(ctx, group, amount, expectedVersion, userID, wonAt); err != nil {
		return err
	}
	t.touched[group] = true
	return nil
}

func (t *trackingTx) SetConfig(
	ctx context.Context,
	group domain.Group,
	cfg domain.GroupConfig,
	expectedVersion int64,
) error {
	if err := t.Tx.SetConfig(ctx, group, cfg, expectedVersion); err != nil {
		return err
	}
	t.touched[group] = true
	return nil
}

func (t *trackingTx) ResetPool(
	ctx context.Context,
	group domain.Group,
	expectedVersion int64,
) error {
	if err := t.Tx.ResetPool(ctx, group, expectedVersion); err != nil {
		return err
	}
	t.touched[group] = true
	return nil
}

// classifyStorageErr maps storage sentinel errors onto the taxonomy before
// generic classification sees them.
func classifyStorageErr(err error) *fault.Error {
	switch {
	case errors.Is(err, storage.ErrVersionConflict):
		return fault.Wrap(fault.CodeConcurrencyVersionConflict, "version conflict", err)
	case errors.Is(err, storage.ErrPoolNotFound):
		return fault.Wrap(fault.CodeDatabaseNotFound, "pool not found", err)
	default:
		return fault.Classify(err)
	}
}
