// Package memory provides an in-memory storage.Store used for tests and
// DB-less mode. Transactions stage copies and publish them on commit, so
// version-guard semantics match the PostgreSQL implementation.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/jackpotd/internal/core/domain"
	"github.com/vietddude/jackpotd/internal/infra/storage"
)

type MemoryStore struct {
	mu            sync.Mutex
	pools         map[domain.Group]*domain.Pool
	contributions map[domain.Group][]*domain.ContributionRecord
	wins          map[domain.Group][]*domain.WinRecord
	nextID        int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:         make(map[domain.Group]*domain.Pool),
		contributions: make(map[domain.Group][]*domain.ContributionRecord),
		wins:          make(map[domain.Group][]*domain.WinRecord),
	}
}

func clonePool(p *domain.Pool) *domain.Pool {
	c := *p
	if p.MaxAmount != nil {
		v := *p.MaxAmount
		c.MaxAmount = &v
	}
	if p.LastWonAmount != nil {
		v := *p.LastWonAmount
		c.LastWonAmount = &v
	}
	if p.LastWonAt != nil {
		v := *p.LastWonAt
		c.LastWonAt = &v
	}
	if p.LastWonByUserID != nil {
		v := *p.LastWonByUserID
		c.LastWonByUserID = &v
	}
	return &c
}

func (s *MemoryStore) GetPool(ctx context.Context, group domain.Group) (*domain.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pools[group]
	if !ok {
		return nil, storage.ErrPoolNotFound
	}
	return clonePool(p), nil
}

func (s *MemoryStore) GetAllPools(ctx context.Context) ([]*domain.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pools := make([]*domain.Pool, 0, len(s.pools))
	for _, g := range domain.Groups {
		if p, ok := s.pools[g]; ok {
			pools = append(pools, clonePool(p))
		}
	}
	return pools, nil
}

func (s *MemoryStore) EnsurePool(
	ctx context.Context,
	group domain.Group,
	cfg domain.GroupConfig,
) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pools[group]; ok {
		return false, nil
	}

	now := time.Now()
	s.pools[group] = &domain.Pool{
		Group:            group,
		CurrentAmount:    cfg.SeedAmount,
		SeedAmount:       cfg.SeedAmount,
		MaxAmount:        cfg.MaxAmount,
		ContributionRate: cfg.Rate,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	return true, nil
}

// InTx serializes on the store mutex for the whole transaction, then
// publishes staged state on success. Rolled-back transactions leave the
// store untouched.
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:  s,
		staged: make(map[domain.Group]*domain.Pool),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for g, p := range tx.staged {
		s.pools[g] = p
	}
	for _, rec := range tx.stagedContribs {
		s.nextID++
		rec.ID = s.nextID
		s.contributions[rec.Group] = append(s.contributions[rec.Group], rec)
	}
	for _, rec := range tx.stagedWins {
		s.nextID++
		rec.ID = s.nextID
		s.wins[rec.Group] = append(s.wins[rec.Group], rec)
	}
	return nil
}

func (s *MemoryStore) Contributions(
	ctx context.Context,
	group domain.Group,
	limit int,
) ([]*domain.ContributionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.contributions[group]
	out := make([]*domain.ContributionRecord, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		c := *all[i]
		out = append(out, &c)
	}
	return out, nil
}

func (s *MemoryStore) Wins(
	ctx context.Context,
	group domain.Group,
	limit int,
) ([]*domain.WinRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.wins[group]
	out := make([]*domain.WinRecord, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		w := *all[i]
		out = append(out, &w)
	}
	return out, nil
}

func (s *MemoryStore) Health(ctx context.Context) error {
	return nil
}
