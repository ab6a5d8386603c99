// Package control wires the service together: storage, cache, audit,
// manager, resilience wrappers, and the health server.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pressly/goose/v3"

	"github.com/vietddude/jackpotd/internal/core/config"
	"github.com/vietddude/jackpotd/internal/core/domain"
	"github.com/vietddude/jackpotd/internal/health"
	redisclient "github.com/vietddude/jackpotd/internal/infra/redis"
	"github.com/vietddude/jackpotd/internal/infra/storage"
	"github.com/vietddude/jackpotd/internal/infra/storage/memory"
	"github.com/vietddude/jackpotd/internal/infra/storage/postgres"
	"github.com/vietddude/jackpotd/internal/jackpot"
	"github.com/vietddude/jackpotd/internal/resilience"
)

// Service is the composed jackpot service.
type Service struct {
	cfg          *config.AppConfig
	db           *postgres.DB
	cache        *redisclient.Cache
	audit        *jackpot.AuditSink
	manager      *jackpot.Manager
	breakers     *resilience.Registry
	executor     *resilience.Executor
	healthServer *health.Server
}

// New creates a Service with all dependencies initialized. An empty
// database URL selects the in-memory store (tests, local runs).
func New(cfg *config.AppConfig) (*Service, error) {
	s := &Service{
		cfg:      cfg,
		breakers: resilience.NewRegistry(cfg.Jackpot.Breakers),
		executor: resilience.NewExecutor(cfg.Jackpot.Retry),
	}

	monitor := health.NewMonitor()

	var store storage.Store
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		s.db = db

		// Run migrations
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		store = postgres.NewPoolStore(db)
		s.audit = jackpot.NewAuditSink(postgres.NewAuditRepo(db), cfg.Jackpot.AuditBuf)
		monitor.Register("database", true, db.Health)
		slog.Info("Using PostgreSQL storage")
	} else {
		store = memory.NewMemoryStore()
		slog.Info("Using Memory storage")
	}

	var cache jackpot.Cache
	if cfg.Redis.URL != "" {
		rc, err := redisclient.NewCache(cfg.Redis)
		if err != nil {
			// Cache is a latency aid, never a correctness dependency.
			slog.Warn("Redis unavailable, running without pool cache", "error", err)
		} else {
			s.cache = rc
			cache = rc
			monitor.Register("redis", false, rc.Health)
		}
	}

	s.manager = jackpot.NewManager(store, cfg.Jackpot.ManagerConfig(), cache, s.audit)
	s.healthServer = health.NewServer(monitor, s.breakers, cfg.Server.Port)
	return s, nil
}

// Manager exposes the underlying manager for callers that bypass the
// resilience wrappers (admin tooling).
func (s *Service) Manager() *jackpot.Manager {
	return s.manager
}

// Start initializes pools and serves health/metrics endpoints.
func (s *Service) Start(ctx context.Context) error {
	if err := s.manager.EnsureInitialized(ctx); err != nil {
		return fmt.Errorf("failed to initialize pools: %w", err)
	}

	if s.db != nil {
		s.db.StartMetricsCollector(ctx)
	}

	go func() {
		slog.Info("Health server listening", "port", s.cfg.Server.Port)
		if err := s.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Health server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the service down, flushing the audit sink.
func (s *Service) Stop(ctx context.Context) error {
	if err := s.healthServer.Stop(ctx); err != nil {
		slog.Warn("Health server shutdown failed", "error", err)
	}
	if s.audit != nil {
		s.audit.Close()
	}
	if s.cache != nil {
		_ = s.cache.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	slog.Info("Service stopped")
	return nil
}

// Contribute is the external-facing contribution entrypoint: the manager
// call wrapped in the contribute breaker and the retry policy.
func (s *Service) Contribute(
	ctx context.Context,
	opCtx domain.OperationContext,
	gameID string,
	wagerAmount int64,
) resilience.Result {
	breaker := s.breakers.Get(resilience.OpContribute)
	return s.executor.Do(ctx, resilience.OpContribute, func(ctx context.Context) (any, error) {
		return breaker.Execute(ctx, func(ctx context.Context) (any, error) {
			return s.manager.Contribute(ctx, opCtx, gameID, wagerAmount)
		})
	})
}

// ProcessWin is the external-facing win entrypoint.
func (s *Service) ProcessWin(
	ctx context.Context,
	opCtx domain.OperationContext,
	group domain.Group,
	gameID, userID string,
	winAmount *int64,
) resilience.Result {
	breaker := s.breakers.Get(resilience.OpProcessWin)
	return s.executor.Do(ctx, resilience.OpProcessWin, func(ctx context.Context) (any, error) {
		return breaker.Execute(ctx, func(ctx context.Context) (any, error) {
			return s.manager.ProcessWin(ctx, opCtx, group, gameID, userID, winAmount)
		})
	})
}

// UpdateConfig is the external-facing config update entrypoint.
func (s *Service) UpdateConfig(
	ctx context.Context,
	opCtx domain.OperationContext,
	patch map[domain.Group]domain.ConfigPatch,
) resilience.Result {
	breaker := s.breakers.Get(resilience.OpConfig)
	return s.executor.Do(ctx, resilience.OpConfig, func(ctx context.Context) (any, error) {
		return breaker.Execute(ctx, func(ctx context.Context) (any, error) {
			return nil, s.manager.UpdateConfig(ctx, opCtx, patch)
		})
	})
}

// GetPool is the external-facing read entrypoint.
func (s *Service) GetPool(ctx context.Context, group domain.Group) resilience.Result {
	breaker := s.breakers.Get(resilience.OpPoolRead)
	return s.executor.Do(ctx, resilience.OpPoolRead, func(ctx context.Context) (any, error) {
		return breaker.Execute(ctx, func(ctx context.Context) (any, error) {
			return s.manager.GetPool(ctx, group)
		})
	})
}

// Stats returns per-group snapshots without resilience wrapping; callers
// treat it as best-effort.
func (s *Service) Stats(ctx context.Context) (map[domain.Group]*domain.PoolStats, error) {
	return s.manager.Stats(ctx)
}
