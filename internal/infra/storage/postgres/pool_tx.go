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

// poolTx implements storage.Tx over one open *sqlx.Tx. Guarded updates use
// `WHERE version = expected` so a stale expectation matches zero rows and
// surfaces as storage.ErrVersionConflict instead of a lost update.
type poolTx struct {
	tx *sqlx.Tx
}

// GetPool reads a pool row within the transaction.
func (t *poolTx) GetPool(ctx context.Context, group domain.Group) (*domain.Pool, error) {
	return getPool(ctx, t.tx, group)
}

// LockPool reads a pool row under FOR UPDATE and stamps the lock holder
// token. The token is observability only; the row lock is what excludes
// concurrent writers until commit.
func (t *poolTx) LockPool(
	ctx context.Context,
	group domain.Group,
	holder string,
) (*domain.Pool, error) {
	var row poolRow
	err := t.tx.GetContext(ctx, &row,
		`SELECT `+poolColumns+` FROM jackpot_pools WHERE jackpot_group = $1 FOR UPDATE`,
		string(group))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrPoolNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock pool %s: %w", group, err)
	}

	_, err = t.tx.ExecContext(ctx,
		`UPDATE jackpot_pools SET lock_holder = $2 WHERE jackpot_group = $1`,
		string(group), holder)
	if err != nil {
		return nil, fmt.Errorf("failed to stamp lock holder: %w", err)
	}

	row.LockHolder = holder
	return row.toDomain(), nil
}

// AddContribution applies a relative increment to the pool, guarded by the
// expected version.
func (t *poolTx) AddContribution(
	ctx context.Context,
	group domain.Group,
	delta, expectedVersion int64,
) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE jackpot_pools SET
			current_amount      = current_amount + $3,
			total_contributions = total_contributions + $3,
			version             = version + 1,
			updated_at          = now()
		WHERE jackpot_group = $1 AND version = $2`,
		string(group), expectedVersion, delta)
	if err != nil {
		return fmt.Errorf("failed to add contribution to %s: %w", group, err)
	}
	return guarded(res)
}

// ApplyWin debits the pool and records the win on the row, guarded by the
// expected version. The check constraint on current_amount backs up the
// business validation: an overdraw can never commit.
func (t *poolTx) ApplyWin(
	ctx context.Context,
	group domain.Group,
	amount, expectedVersion int64,
	userID string,
	wonAt time.Time,
) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE jackpot_pools SET
			current_amount      = current_amount - $3,
			total_wins          = total_wins + $3,
			last_won_amount     = $3,
			last_won_at         = $4,
			last_won_by_user_id = $5,
			lock_holder         = '',
			version             = version + 1,
			updated_at          = now()
		WHERE jackpot_group = $1 AND version = $2`,
		string(group), expectedVersion, amount, wonAt, userID)
	if err != nil {
		return fmt.Errorf("failed to apply win on %s: %w", group, err)
	}
	return guarded(res)
}

// SetConfig updates rate/seed/cap for a group, guarded by the expected
// version.
func (t *poolTx) SetConfig(
	ctx context.Context,
	group domain.Group,
	cfg domain.GroupConfig,
	expectedVersion int64,
) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE jackpot_pools SET
			contribution_rate = $3,
			seed_amount       = $4,
			max_amount        = $5,
			version           = version + 1,
			updated_at        = now()
		WHERE jackpot_group = $1 AND version = $2`,
		string(group), expectedVersion, cfg.Rate, cfg.SeedAmount, cfg.MaxAmount)
	if err != nil {
		return fmt.Errorf("failed to set config on %s: %w", group, err)
	}
	return guarded(res)
}

// ResetPool drains the pool back to its seed amount, guarded by the expected
// version.
func (t *poolTx) ResetPool(
	ctx context.Context,
	group domain.Group,
	expectedVersion int64,
) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE jackpot_pools SET
			current_amount = seed_amount,
			lock_holder    = '',
			version        = version + 1,
			updated_at     = now()
		WHERE jackpot_group = $1 AND version = $2`,
		string(group), expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to reset pool %s: %w", group, err)
	}
	return guarded(res)
}

// RecordContribution appends a contribution to the history table.
func (t *poolTx) RecordContribution(ctx context.Context, rec *domain.ContributionRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO jackpot_contributions
			(jackpot_group, game_id, wager, amount, balance_after, op_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(rec.Group), rec.GameID, rec.Wager, rec.Amount, rec.BalanceAt, rec.OpID)
	if err != nil {
		return fmt.Errorf("failed to record contribution: %w", err)
	}
	return nil
}

// RecordWin appends a win to the history table.
func (t *poolTx) RecordWin(ctx context.Context, rec *domain.WinRecord) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO jackpot_wins
			(jackpot_group, game_id, user_id, amount, balance_after, op_id)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(rec.Group), rec.GameID, rec.UserID, rec.Amount, rec.BalanceAt, rec.OpID)
	if err != nil {
		return fmt.Errorf("failed to record win: %w", err)
	}
	return nil
}

// guarded maps a zero-row guarded update onto ErrVersionConflict.
func guarded(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrVersionConflict
	}
	return nil
}
