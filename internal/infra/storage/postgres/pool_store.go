package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/jackpotd/internal/core/domain"
	"github.com/vietddude/jackpotd/internal/infra/storage"
)

// PoolStore implements storage.Store using PostgreSQL. All increments are
// computed server-side as relative expressions so they cannot race with an
// intervening read, and every guarded update bumps the version column.
type PoolStore struct {
	db *DB
}

// NewPoolStore creates a new PostgreSQL pool store.
func NewPoolStore(db *DB) *PoolStore {
	return &PoolStore{db: db}
}

type poolRow struct {
	Group              string     `db:"jackpot_group"`
	CurrentAmount      int64      `db:"current_amount"`
	SeedAmount         int64      `db:"seed_amount"`
	MaxAmount          *int64     `db:"max_amount"`
	ContributionRate   float64    `db:"contribution_rate"`
	TotalContributions int64      `db:"total_contributions"`
	TotalWins          int64      `db:"total_wins"`
	LastWonAmount      *int64     `db:"last_won_amount"`
	LastWonAt          *time.Time `db:"last_won_at"`
	LastWonByUserID    *string    `db:"last_won_by_user_id"`
	LockHolder         string     `db:"lock_holder"`
	Version            int64      `db:"version"`
	CreatedAt          time.Time  `db:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"`
}

func (r *poolRow) toDomain() *domain.Pool {
	return &domain.Pool{
		Group:              domain.Group(r.Group),
		CurrentAmount:      r.CurrentAmount,
		SeedAmount:         r.SeedAmount,
		MaxAmount:          r.MaxAmount,
		ContributionRate:   r.ContributionRate,
		TotalContributions: r.TotalContributions,
		TotalWins:          r.TotalWins,
		LastWonAmount:      r.LastWonAmount,
		LastWonAt:          r.LastWonAt,
		LastWonByUserID:    r.LastWonByUserID,
		LockHolder:         r.LockHolder,
		Version:            r.Version,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

const poolColumns = `jackpot_group, current_amount, seed_amount, max_amount,
	contribution_rate, total_contributions, total_wins, last_won_amount,
	last_won_at, last_won_by_user_id, lock_holder, version, created_at, updated_at`

// GetPool reads one pool row outside a transaction.
func (s *PoolStore) GetPool(ctx context.Context, group domain.Group) (*domain.Pool, error) {
	return getPool(ctx, s.db, group)
}

func getPool(ctx context.Context, q sqlx.QueryerContext, group domain.Group) (*domain.Pool, error) {
	var row poolRow
	err := sqlx.GetContext(ctx, q, &row,
		`SELECT `+poolColumns+` FROM jackpot_pools WHERE jackpot_group = $1`,
		string(group))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrPoolNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pool %s: %w", group, err)
	}
	return row.toDomain(), nil
}

// GetAllPools reads every pool row.
func (s *PoolStore) GetAllPools(ctx context.Context) ([]*domain.Pool, error) {
	var rows []poolRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+poolColumns+` FROM jackpot_pools ORDER BY jackpot_group`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}

	pools := make([]*domain.Pool, 0, len(rows))
	for i := range rows {
		pools = append(pools, rows[i].toDomain())
	}
	return pools, nil
}

// EnsurePool inserts the pool row for a group if absent. ON CONFLICT DO
// NOTHING makes concurrent initialization idempotent.
func (s *PoolStore) EnsurePool(
	ctx context.Context,
	group domain.Group,
	cfg domain.GroupConfig,
) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO jackpot_pools
			(jackpot_group, current_amount, seed_amount, max_amount, contribution_rate)
		VALUES ($1, $2, $2, $3, $4)
		ON CONFLICT (jackpot_group) DO NOTHING`,
		string(group), cfg.SeedAmount, cfg.MaxAmount, cfg.Rate)
	if err != nil {
		return false, fmt.Errorf("failed to ensure pool %s: %w", group, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// InTx runs fn inside one transaction.
func (s *PoolStore) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&poolTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Contributions returns the most recent contribution records.
func (s *PoolStore) Contributions(
	ctx context.Context,
	group domain.Group,
	limit int,
) ([]*domain.ContributionRecord, error) {
	var rows []struct {
		ID        int64     `db:"id"`
		Group     string    `db:"jackpot_group"`
		GameID    string    `db:"game_id"`
		Wager     int64     `db:"wager"`
		Amount    int64     `db:"amount"`
		BalanceAt int64     `db:"balance_after"`
		OpID      string    `db:"op_id"`
		CreatedAt time.Time `db:"created_at"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, jackpot_group, game_id, wager, amount, balance_after, op_id, created_at
		FROM jackpot_contributions
		WHERE jackpot_group = $1
		ORDER BY id DESC LIMIT $2`,
		string(group), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list contributions: %w", err)
	}

	recs := make([]*domain.ContributionRecord, 0, len(rows))
	for _, r := range rows {
		recs = append(recs, &domain.ContributionRecord{
			ID:        r.ID,
			Group:     domain.Group(r.Group),
			GameID:    r.GameID,
			Wager:     r.Wager,
			Amount:    r.Amount,
			BalanceAt: r.BalanceAt,
			OpID:      r.OpID,
			CreatedAt: r.CreatedAt,
		})
	}
	return recs, nil
}

// Wins returns the most recent win records.
func (s *PoolStore) Wins(
	ctx context.Context,
	group domain.Group,
	limit int,
) ([]*domain.WinRecord, error) {
	var rows []struct {
		ID        int64     `db:"id"`
		Group     string    `db:"jackpot_group"`
		GameID    string    `db:"game_id"`
		UserID    string    `db:"user_id"`
		Amount    int64     `db:"amount"`
		BalanceAt int64     `db:"balance_after"`
		OpID      string    `db:"op_id"`
		CreatedAt time.Time `db:"created_at"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, jackpot_group, game_id, user_id, amount, balance_after, op_id, created_at
		FROM jackpot_wins
		WHERE jackpot_group = $1
		ORDER BY id DESC LIMIT $2`,
		string(group), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list wins: %w", err)
	}

	recs := make([]*domain.WinRecord, 0, len(rows))
	for _, r := range rows {
		recs = append(recs, &domain.WinRecord{
			ID:        r.ID,
			Group:     domain.Group(r.Group),
			GameID:    r.GameID,
			UserID:    r.UserID,
			Amount:    r.Amount,
			BalanceAt: r.BalanceAt,
			OpID:      r.OpID,
			CreatedAt: r.CreatedAt,
		})
	}
	return recs, nil
}

// Health checks the database connection.
func (s *PoolStore) Health(ctx context.Context) error {
	return s.db.Health(ctx)
}
