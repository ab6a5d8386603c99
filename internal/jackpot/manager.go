// Package jackpot implements the pooled jackpot business logic on top of the
// storage contract: contributions, wins, config updates, and the locking
// strategies protecting them.
package jackpot

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/jackpotd/internal/core/domain"
	"github.com/vietddude/jackpotd/internal/core/fault"
	"github.com/vietddude/jackpotd/internal/infra/storage"
	"github.com/vietddude/jackpotd/internal/jackpot/metrics"
)

// Cache is an optional read-through pool snapshot cache. A latency aid only:
// every read path falls back to the store, and a nil Cache is valid.
type Cache interface {
	// GetPool returns a cached snapshot, or (nil, nil) on miss.
	GetPool(ctx context.Context, group domain.Group) (*domain.Pool, error)

	// SetPool stores a snapshot.
	SetPool(ctx context.Context, pool *domain.Pool) error

	// Invalidate drops a group's snapshot.
	Invalidate(ctx context.Context, group domain.Group) error
}

// ManagerConfig holds the business configuration for the manager.
type ManagerConfig struct {
	Groups  map[domain.Group]domain.GroupConfig
	Games   map[string][]domain.Group // game -> target groups; absent games feed all groups
	SafeOps SafeOpsConfig
}

// Manager owns jackpot pool initialization and the business operations.
// All pool mutations go through SafeOps; there are no unguarded writes.
type Manager struct {
	store storage.Store
	ops   *SafeOps
	cfg   *configMirror
	games map[string][]domain.Group
	cache Cache
	audit *AuditSink
}

// NewManager creates a manager over a store. cache and audit may be nil.
func NewManager(store storage.Store, cfg ManagerConfig, cache Cache, audit *AuditSink) *Manager {
	return &Manager{
		store: store,
		ops:   NewSafeOps(store, cfg.SafeOps),
		cfg:   newConfigMirror(cfg.Groups),
		games: cfg.Games,
		cache: cache,
		audit: audit,
	}
}

// SafeOps exposes the locking layer, mainly for tests.
func (m *Manager) SafeOps() *SafeOps {
	return m.ops
}

// EnsureInitialized lazily creates any missing pool rows, seeded from the
// config mirror. Idempotent and safe to call concurrently.
func (m *Manager) EnsureInitialized(ctx context.Context) error {
	for _, group := range domain.Groups {
		cfg, ok := m.cfg.get(group)
		if !ok {
			return fault.Newf(fault.CodeConfigurationMissing,
				"no configuration for group %s", group)
		}
		created, err := m.store.EnsurePool(ctx, group, cfg)
		if err != nil {
			return classifyStorageErr(err).With("group", string(group))
		}
		if created {
			slog.Info("Initialized jackpot pool",
				"group", group, "seed", cfg.SeedAmount, "rate", cfg.Rate)
		}
	}
	return nil
}

// Contribute routes a fraction of a wager into every group the game feeds.
// The increments across groups are applied atomically in one transaction.
func (m *Manager) Contribute(
	ctx context.Context,
	opCtx domain.OperationContext,
	gameID string,
	wagerAmount int64,
) (*domain.ContributionResult, error) {
	start := time.Now()
	defer func() {
		metrics.OperationLatency.WithLabelValues("contribute").Observe(time.Since(start).Seconds())
	}()

	if gameID == "" {
		return nil, m.fail(opCtx, "contribute",
			fault.New(fault.CodeValidationInvalidInput, "gameId must not be empty"))
	}
	if wagerAmount <= 0 {
		return nil, m.fail(opCtx, "contribute",
			fault.Newf(fault.CodeValidationInvalidAmount,
				"wagerAmount must be a positive integer, got %d", wagerAmount).
				With("gameId", gameID))
	}

	groups := m.targetGroups(gameID)

	// The result is built inside the closure so a retried attempt starts
	// from scratch; increments from a rolled-back attempt must not survive.
	mutate := func(ctx context.Context, tx storage.Tx, pools map[domain.Group]*domain.Pool) (any, error) {
		result := &domain.ContributionResult{Contributions: make(map[domain.Group]int64)}
		for _, group := range groups {
			pool := pools[group]
			contribution := contributionFor(pool, wagerAmount)
			if contribution <= 0 {
				continue
			}
			if err := tx.AddContribution(ctx, group, contribution, pool.Version); err != nil {
				return nil, err
			}
			if err := tx.RecordContribution(ctx, &domain.ContributionRecord{
				Group:     group,
				GameID:    gameID,
				Wager:     wagerAmount,
				Amount:    contribution,
				BalanceAt: pool.CurrentAmount + contribution,
				OpID:      opCtx.OperationID,
			}); err != nil {
				return nil, err
			}
			result.Contributions[group] = contribution
			result.TotalContribution += contribution
		}
		return result, nil
	}

	res, err := m.ops.BatchOptimisticUpdate(ctx, "contribute", groups, mutate, 0)
	if err != nil {
		return nil, m.fail(opCtx, "contribute", err)
	}
	result := res.Data.(*domain.ContributionResult)

	for group, amount := range result.Contributions {
		metrics.ContributionsTotal.WithLabelValues(string(group)).Inc()
		metrics.ContributionAmount.WithLabelValues(string(group)).Add(float64(amount))
		m.invalidate(ctx, group)
	}
	m.emit(opCtx, "contribute", "", result.TotalContribution, true, "", res.RetryCount)
	return result, nil
}

// ProcessWin pays a win out of a pool under an exclusive row lock. A nil
// winAmount pays the full pool. The pool is left unchanged on any failure.
func (m *Manager) ProcessWin(
	ctx context.Context,
	opCtx domain.OperationContext,
	group domain.Group,
	gameID string,
	userID string,
	winAmount *int64,
) (*domain.WinResult, error) {
	start := time.Now()
	defer func() {
		metrics.OperationLatency.WithLabelValues("process_win").Observe(time.Since(start).Seconds())
	}()

	if !group.Valid() {
		return nil, m.fail(opCtx, "process_win",
			fault.Newf(fault.CodeValidationInvalidGroup, "unknown jackpot group %q", group))
	}
	if gameID == "" {
		return nil, m.fail(opCtx, "process_win",
			fault.New(fault.CodeValidationInvalidInput, "gameId must not be empty"))
	}
	if _, err := uuid.Parse(userID); err != nil {
		return nil, m.fail(opCtx, "process_win",
			fault.Newf(fault.CodeValidationInvalidInput, "userId must be a UUID, got %q", userID))
	}
	if winAmount != nil && *winAmount <= 0 {
		return nil, m.fail(opCtx, "process_win",
			fault.Newf(fault.CodeValidationInvalidAmount,
				"winAmount must be positive, got %d", *winAmount))
	}

	var win *domain.WinResult
	mutate := func(ctx context.Context, tx storage.Tx, pool *domain.Pool) (any, error) {
		amount := pool.CurrentAmount
		if winAmount != nil {
			amount = *winAmount
		}
		if amount <= 0 || amount > pool.CurrentAmount {
			return nil, fault.Newf(fault.CodeInsufficientJackpotFunds,
				"win of %d exceeds pool balance %d", amount, pool.CurrentAmount).
				With("group", string(group))
		}

		wonAt := time.Now().UTC()
		if err := tx.ApplyWin(ctx, group, amount, pool.Version, userID, wonAt); err != nil {
			return nil, err
		}
		if err := tx.RecordWin(ctx, &domain.WinRecord{
			Group:     group,
			GameID:    gameID,
			UserID:    userID,
			Amount:    amount,
			BalanceAt: pool.CurrentAmount - amount,
			OpID:      opCtx.OperationID,
		}); err != nil {
			return nil, err
		}

		win = &domain.WinResult{
			Group:     group,
			Amount:    amount,
			PoolAfter: pool.CurrentAmount - amount,
			WonAt:     wonAt,
			WonByUser: userID,
		}
		return win, nil
	}

	res, err := m.ops.PessimisticUpdate(ctx, "process_win", group, mutate, 0)
	if err != nil {
		return nil, m.fail(opCtx, "process_win", err)
	}
	win.RetryCount = res.RetryCount

	metrics.WinsTotal.WithLabelValues(string(group)).Inc()
	metrics.WinAmount.WithLabelValues(string(group)).Add(float64(win.Amount))
	m.invalidate(ctx, group)
	m.emit(opCtx, "process_win", string(group), win.Amount, true, "", 0)

	slog.Info("Jackpot won",
		"group", group, "amount", win.Amount, "user", userID, "op", opCtx.OperationID)
	return win, nil
}

// UpdateConfig merges partial per-group updates into the config mirror and
// applies the changed groups to the store atomically.
func (m *Manager) UpdateConfig(
	ctx context.Context,
	opCtx domain.OperationContext,
	patch map[domain.Group]domain.ConfigPatch,
) error {
	if len(patch) == 0 {
		return m.fail(opCtx, "update_config",
			fault.New(fault.CodeValidationInvalidInput, "empty config patch"))
	}

	merged := make(map[domain.Group]domain.GroupConfig, len(patch))
	groups := make([]domain.Group, 0, len(patch))
	for group, p := range patch {
		if !group.Valid() {
			return m.fail(opCtx, "update_config",
				fault.Newf(fault.CodeValidationInvalidGroup, "unknown jackpot group %q", group))
		}
		current, ok := m.cfg.get(group)
		if !ok {
			return m.fail(opCtx, "update_config",
				fault.Newf(fault.CodeConfigurationMissing, "no configuration for group %s", group))
		}
		next := applyPatch(current, p)
		if err := validateGroupConfig(group, next); err != nil {
			return m.fail(opCtx, "update_config", err)
		}
		merged[group] = next
		groups = append(groups, group)
	}

	mutate := func(ctx context.Context, tx storage.Tx, pools map[domain.Group]*domain.Pool) (any, error) {
		for group, cfg := range merged {
			if err := tx.SetConfig(ctx, group, cfg, pools[group].Version); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	res, err := m.ops.BatchOptimisticUpdate(ctx, "update_config", groups, mutate, 0)
	if err != nil {
		return m.fail(opCtx, "update_config", err)
	}

	for group, cfg := range merged {
		m.cfg.set(group, cfg)
		m.invalidate(ctx, group)
		slog.Info("Jackpot config updated",
			"group", group, "rate", cfg.Rate, "seed", cfg.SeedAmount)
	}
	m.emit(opCtx, "update_config", "", 0, true, "", res.RetryCount)
	return nil
}

// ResetPool drains a pool back to its seed amount. Admin operation, taken
// under the pessimistic lock like a win.
func (m *Manager) ResetPool(
	ctx context.Context,
	opCtx domain.OperationContext,
	group domain.Group,
) (*domain.Pool, error) {
	if !group.Valid() {
		return nil, m.fail(opCtx, "reset_pool",
			fault.Newf(fault.CodeValidationInvalidGroup, "unknown jackpot group %q", group))
	}

	mutate := func(ctx context.Context, tx storage.Tx, pool *domain.Pool) (any, error) {
		if err := tx.ResetPool(ctx, group, pool.Version); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if _, err := m.ops.PessimisticUpdate(ctx, "reset_pool", group, mutate, 0); err != nil {
		return nil, m.fail(opCtx, "reset_pool", err)
	}

	m.invalidate(ctx, group)
	m.emit(opCtx, "reset_pool", string(group), 0, true, "", 0)

	pool, err := m.GetPool(ctx, group)
	if err != nil {
		return nil, err
	}
	slog.Info("Jackpot pool reset", "group", group, "amount", pool.CurrentAmount)
	return pool, nil
}

// GetPool returns a pool snapshot, consulting the cache when one is wired.
func (m *Manager) GetPool(ctx context.Context, group domain.Group) (*domain.Pool, error) {
	if !group.Valid() {
		return nil, fault.Newf(fault.CodeValidationInvalidGroup, "unknown jackpot group %q", group)
	}

	if m.cache != nil {
		if cached, err := m.cache.GetPool(ctx, group); err == nil && cached != nil {
			metrics.CacheHits.WithLabelValues("hit").Inc()
			metrics.PoolBalance.WithLabelValues(string(group)).Set(float64(cached.CurrentAmount))
			return cached, nil
		}
		metrics.CacheHits.WithLabelValues("miss").Inc()
	}

	pool, err := m.store.GetPool(ctx, group)
	if err != nil {
		return nil, classifyStorageErr(err).With("group", string(group))
	}

	metrics.PoolBalance.WithLabelValues(string(group)).Set(float64(pool.CurrentAmount))
	if m.cache != nil {
		if err := m.cache.SetPool(ctx, pool); err != nil {
			slog.Warn("Failed to cache pool snapshot", "group", group, "error", err)
		}
	}
	return pool, nil
}

// Stats fans out per-group snapshot reads concurrently.
func (m *Manager) Stats(ctx context.Context) (map[domain.Group]*domain.PoolStats, error) {
	snapshots := make([]*domain.PoolStats, len(domain.Groups))

	eg, ctx := errgroup.WithContext(ctx)
	for i, group := range domain.Groups {
		eg.Go(func() error {
			pool, err := m.GetPool(ctx, group)
			if err != nil {
				return err
			}
			snapshots[i] = &domain.PoolStats{
				Group:              pool.Group,
				CurrentAmount:      pool.CurrentAmount,
				SeedAmount:         pool.SeedAmount,
				MaxAmount:          pool.MaxAmount,
				ContributionRate:   pool.ContributionRate,
				TotalContributions: pool.TotalContributions,
				TotalWins:          pool.TotalWins,
				LastWonAmount:      pool.LastWonAmount,
				LastWonAt:          pool.LastWonAt,
				Version:            pool.Version,
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	stats := make(map[domain.Group]*domain.PoolStats, len(snapshots))
	for _, s := range snapshots {
		stats[s.Group] = s
	}
	return stats, nil
}

// targetGroups resolves which groups a game feeds. Unmapped games feed all
// three pools.
func (m *Manager) targetGroups(gameID string) []domain.Group {
	if groups, ok := m.games[gameID]; ok && len(groups) > 0 {
		return groups
	}
	return domain.Groups
}

// contributionFor computes floor(wager * rate), clamped to the pool's cap
// headroom. The platform never over-contributes and never exceeds the cap.
func contributionFor(pool *domain.Pool, wager int64) int64 {
	contribution := int64(math.Floor(float64(wager) * pool.ContributionRate))
	if room := pool.Headroom(); room >= 0 && contribution > room {
		contribution = room
	}
	if contribution < 0 {
		return 0
	}
	return contribution
}

// fail classifies err, records metrics and audit, and returns the typed
// error for the caller.
func (m *Manager) fail(opCtx domain.OperationContext, op string, err error) *fault.Error {
	fe := fault.Classify(err)
	metrics.OperationErrors.WithLabelValues(op, string(fe.Code)).Inc()
	m.emit(opCtx, op, string(opCtx.Group), 0, false, string(fe.Code), 0)

	switch fe.SeverityLevel() {
	case fault.SeverityInfo:
		slog.Info("Operation rejected", "operation", op, "code", fe.Code, "op_id", opCtx.OperationID)
	case fault.SeverityWarning:
		slog.Warn("Operation failed", "operation", op, "code", fe.Code, "op_id", opCtx.OperationID)
	default:
		slog.Error("Operation failed",
			"operation", op, "code", fe.Code, "op_id", opCtx.OperationID, "error", fe)
	}
	return fe
}

func (m *Manager) emit(
	opCtx domain.OperationContext,
	op, group string,
	amount int64,
	success bool,
	code string,
	retries int,
) {
	if m.audit == nil {
		return
	}
	m.audit.Emit(&storage.AuditEvent{
		OperationID:   opCtx.OperationID,
		CorrelationID: opCtx.CorrelationID,
		Operation:     op,
		Group:         group,
		UserID:        opCtx.UserID,
		GameID:        opCtx.GameID,
		Amount:        amount,
		Success:       success,
		ErrorCode:     code,
		RetryCount:    retries,
		OccurredAt:    time.Now().UTC(),
	})
}

func (m *Manager) invalidate(ctx context.Context, group domain.Group) {
	if m.cache == nil {
		return
	}
	if err := m.cache.Invalidate(ctx, group); err != nil {
		slog.Warn("Failed to invalidate pool cache", "group", group, "error", err)
	}
}
