package fault

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Postgres SQLSTATE codes that matter to the taxonomy.
const (
	sqlstateSerializationFailure = "40001"
	sqlstateDeadlockDetected     = "40P01"
	sqlstateLockNotAvailable     = "55P03"
	sqlstateQueryCanceled        = "57014"
	sqlstateUniqueViolation      = "23505"
	sqlstateCheckViolation       = "23514"
	sqlstateConnectionClass      = "08"
)

// Classify maps an arbitrary error onto the taxonomy. Already-typed errors
// pass through unchanged; driver errors are mapped by SQLSTATE; everything
// else falls back to message pattern matching.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}

	if code, ok := sqlstateCode(err); ok {
		return Wrap(code, "store operation failed", err)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return Wrap(CodeDatabaseNotFound, "row not found", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(CodeDatabaseTimeout, "operation deadline exceeded", err)
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(CodeSystemInternal, "operation canceled", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Wrap(CodeNetworkTimeout, "network timeout", err)
		}
		return Wrap(CodeNetworkFailure, "network failure", err)
	}

	return classifyMessage(err)
}

// sqlstateCode extracts a structured driver error code, checking pgx first
// and lib/pq second.
func sqlstateCode(err error) (Code, bool) {
	var state string

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		state = pgErr.Code
	} else {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			state = string(pqErr.Code)
		}
	}

	if state == "" {
		return "", false
	}

	switch state {
	case sqlstateSerializationFailure:
		return CodeDatabaseSerialization, true
	case sqlstateDeadlockDetected:
		return CodeDatabaseDeadlock, true
	case sqlstateLockNotAvailable:
		return CodeConcurrencyLockTimeout, true
	case sqlstateQueryCanceled:
		return CodeDatabaseTimeout, true
	case sqlstateUniqueViolation, sqlstateCheckViolation:
		return CodeDatabaseConstraint, true
	}
	if strings.HasPrefix(state, sqlstateConnectionClass) {
		return CodeDatabaseConnection, true
	}
	return CodeDatabaseQuery, true
}

// classifyMessage is the fallback for errors with no structured code.
func classifyMessage(err error) *Error {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "deadlock"):
		return Wrap(CodeDatabaseDeadlock, "deadlock detected", err)
	case strings.Contains(msg, "serialization"),
		strings.Contains(msg, "could not serialize"):
		return Wrap(CodeDatabaseSerialization, "serialization failure", err)
	case strings.Contains(msg, "version conflict"),
		strings.Contains(msg, "version mismatch"):
		return Wrap(CodeConcurrencyVersionConflict, "version conflict", err)
	case strings.Contains(msg, "lock timeout"),
		strings.Contains(msg, "could not obtain lock"),
		strings.Contains(msg, "lock not available"):
		return Wrap(CodeConcurrencyLockTimeout, "lock wait timed out", err)
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "timed out"):
		return Wrap(CodeDatabaseTimeout, "operation timed out", err)
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "bad connection"):
		return Wrap(CodeDatabaseConnection, "connection failed", err)
	case strings.Contains(msg, "constraint"),
		strings.Contains(msg, "duplicate key"):
		return Wrap(CodeDatabaseConstraint, "constraint violation", err)
	default:
		return Wrap(CodeSystemInternal, "unclassified failure", err)
	}
}
