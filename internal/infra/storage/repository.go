// Package storage defines the persistence contract for jackpot pools. The
// concurrency engine depends only on these interfaces; postgres and memory
// implementations live in subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/jackpotd/internal/core/domain"
)

var (
	// ErrPoolNotFound is returned when a group has no pool row.
	ErrPoolNotFound = errors.New("jackpot pool not found")

	// ErrVersionConflict is returned when a guarded update matched no row
	// because the expected version was stale.
	ErrVersionConflict = errors.New("version conflict")
)

// Store is the top-level persistence handle. Every pool mutation happens
// inside InTx; reads outside a transaction are allowed for stats and cache
// fills only.
type Store interface {
	// GetPool reads one pool row outside a transaction.
	GetPool(ctx context.Context, group domain.Group) (*domain.Pool, error)

	// GetAllPools reads every pool row.
	GetAllPools(ctx context.Context) ([]*domain.Pool, error)

	// EnsurePool inserts the pool row for a group if absent, seeded from
	// cfg. Reports whether a row was created. Safe to call concurrently.
	EnsurePool(ctx context.Context, group domain.Group, cfg domain.GroupConfig) (bool, error)

	// InTx runs fn inside one transaction, committing on nil and rolling
	// back on error. The Tx must not be used after fn returns.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// Contributions returns the most recent contribution records.
	Contributions(ctx context.Context, group domain.Group, limit int) ([]*domain.ContributionRecord, error)

	// Wins returns the most recent win records.
	Wins(ctx context.Context, group domain.Group, limit int) ([]*domain.WinRecord, error)

	// Health checks the backing store.
	Health(ctx context.Context) error
}

// Tx is a transactional view of the pool table. All increments are relative
// expressions evaluated store-side, and every guarded write bumps the
// version column by exactly one.
type Tx interface {
	// GetPool reads a pool row within the transaction.
	GetPool(ctx context.Context, group domain.Group) (*domain.Pool, error)

	// LockPool reads a pool row under an exclusive row lock and stamps the
	// lock holder token on it.
	LockPool(ctx context.Context, group domain.Group, holder string) (*domain.Pool, error)

	// AddContribution applies `current_amount += delta`,
	// `total_contributions += delta`, `version += 1`, guarded by
	// expectedVersion. Returns ErrVersionConflict when the guard misses.
	AddContribution(ctx context.Context, group domain.Group, delta, expectedVersion int64) error

	// ApplyWin debits amount from the pool, bumps total_wins and the
	// last-won fields, guarded by expectedVersion.
	ApplyWin(ctx context.Context, group domain.Group, amount, expectedVersion int64, userID string, wonAt time.Time) error

	// SetConfig updates rate/seed/cap for a group, guarded by
	// expectedVersion.
	SetConfig(ctx context.Context, group domain.Group, cfg domain.GroupConfig, expectedVersion int64) error

	// ResetPool sets current_amount back to seed_amount, guarded by
	// expectedVersion.
	ResetPool(ctx context.Context, group domain.Group, expectedVersion int64) error

	// RecordContribution appends a contribution to the history table.
	RecordContribution(ctx context.Context, rec *domain.ContributionRecord) error

	// RecordWin appends a win to the history table.
	RecordWin(ctx context.Context, rec *domain.WinRecord) error
}

// AuditRepository persists operation audit events outside the mutation path.
type AuditRepository interface {
	SaveEvent(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one structured operation outcome.
type AuditEvent struct {
	OperationID   string
	CorrelationID string
	Operation     string
	Group         string
	UserID        string
	GameID        string
	Amount        int64
	Success       bool
	ErrorCode     string
	RetryCount    int
	OccurredAt    time.Time
}
