package postgres

import (
	"context"
	"fmt"

	"github.com/vietddude/jackpotd/internal/infra/storage"
)

// AuditRepo implements storage.AuditRepository using PostgreSQL.
type AuditRepo struct {
	db *DB
}

// NewAuditRepo creates a new PostgreSQL audit repository.
func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// SaveEvent appends one audit event. Called off the mutation path only.
func (r *AuditRepo) SaveEvent(ctx context.Context, event *storage.AuditEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jackpot_audit
			(op_id, correlation_id, operation, jackpot_group, user_id, game_id,
			 amount, success, error_code, retry_count, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		event.OperationID, event.CorrelationID, event.Operation, event.Group,
		event.UserID, event.GameID, event.Amount, event.Success,
		event.ErrorCode, event.RetryCount, event.OccurredAt)
	if err != nil {
		return fmt.Errorf("failed to save audit event: %w", err)
	}
	return nil
}
