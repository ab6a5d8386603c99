package memory

import (
	"context"
	"time"

	"github.com/vietddude/jackpotd/internal/core/domain"
	"github.com/vietddude/jackpotd/internal/infra/storage"
)

// memTx stages mutations against pool copies. The store mutex is held by
// InTx for the whole transaction, but the version guard is still enforced
// so callers see the same conflict behavior as with PostgreSQL.
type memTx struct {
	store          *MemoryStore
	staged         map[domain.Group]*domain.Pool
	stagedContribs []*domain.ContributionRecord
	stagedWins     []*domain.WinRecord
}

// current returns the staged copy for a group, creating one from the store
// on first access.
func (t *memTx) current(group domain.Group) (*domain.Pool, error) {
	if p, ok := t.staged[group]; ok {
		return p, nil
	}
	p, ok := t.store.pools[group]
	if !ok {
		return nil, storage.ErrPoolNotFound
	}
	c := clonePool(p)
	t.staged[group] = c
	return c, nil
}

func (t *memTx) GetPool(ctx context.Context, group domain.Group) (*domain.Pool, error) {
	p, err := t.current(group)
	if err != nil {
		return nil, err
	}
	return clonePool(p), nil
}

func (t *memTx) LockPool(
	ctx context.Context,
	group domain.Group,
	holder string,
) (*domain.Pool, error) {
	p, err := t.current(group)
	if err != nil {
		return nil, err
	}
	p.LockHolder = holder
	return clonePool(p), nil
}

func (t *memTx) AddContribution(
	ctx context.Context,
	group domain.Group,
	delta, expectedVersion int64,
) error {
	p, err := t.current(group)
	if err != nil {
		return err
	}
	if p.Version != expectedVersion {
		return storage.ErrVersionConflict
	}
	p.CurrentAmount += delta
	p.TotalContributions += delta
	p.Version++
	p.UpdatedAt = time.Now()
	return nil
}

func (t *memTx) ApplyWin(
	ctx context.Context,
	group domain.Group,
	amount, expectedVersion int64,
	userID string,
	wonAt time.Time,
) error {
	p, err := t.current(group)
	if err != nil {
		return err
	}
	if p.Version != expectedVersion {
		return storage.ErrVersionConflict
	}
	p.CurrentAmount -= amount
	p.TotalWins += amount
	won := amount
	p.LastWonAmount = &won
	at := wonAt
	p.LastWonAt = &at
	user := userID
	p.LastWonByUserID = &user
	p.LockHolder = ""
	p.Version++
	p.UpdatedAt = time.Now()
	return nil
}

func (t *memTx) SetConfig(
	ctx context.Context,
	group domain.Group,
	cfg domain.GroupConfig,
	expectedVersion int64,
) error {
	p, err := t.current(group)
	if err != nil {
		return err
	}
	if p.Version != expectedVersion {
		return storage.ErrVersionConflict
	}
	p.ContributionRate = cfg.Rate
	p.SeedAmount = cfg.SeedAmount
	p.MaxAmount = cfg.MaxAmount
	p.Version++
	p.UpdatedAt = time.Now()
	return nil
}

func (t *memTx) ResetPool(
	ctx context.Context,
	group domain.Group,
	expectedVersion int64,
) error {
	p, err := t.current(group)
	if err != nil {
		return err
	}
	if p.Version != expectedVersion {
		return storage.ErrVersionConflict
	}
	p.CurrentAmount = p.SeedAmount
	p.LockHolder = ""
	p.Version++
	p.UpdatedAt = time.Now()
	return nil
}

func (t *memTx) RecordContribution(ctx context.Context, rec *domain.ContributionRecord) error {
	c := *rec
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	t.stagedContribs = append(t.stagedContribs, &c)
	return nil
}

func (t *memTx) RecordWin(ctx context.Context, rec *domain.WinRecord) error {
	w := *rec
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now()
	}
	t.stagedWins = append(t.stagedWins, &w)
	return nil
}
