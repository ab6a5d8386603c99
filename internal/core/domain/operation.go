package domain

import (
	"time"

	"github.com/google/uuid"
)

// OperationContext carries identifiers threaded through an operation for
// error attribution and audit. It never affects correctness.
type OperationContext struct {
	OperationID   string
	CorrelationID string
	UserID        string
	GameID        string
	Group         Group
}

// NewOperationContext creates a context with a fresh operation ID. The
// correlation ID defaults to the operation ID when the caller has none.
func NewOperationContext(correlationID string) OperationContext {
	opID := uuid.NewString()
	if correlationID == "" {
		correlationID = opID
	}
	return OperationContext{
		OperationID:   opID,
		CorrelationID: correlationID,
	}
}

// ContributionRecord is one accepted contribution, externalized to an
// append-only table rather than inlined on the pool row.
type ContributionRecord struct {
	ID        int64
	Group     Group
	GameID    string
	Wager     int64
	Amount    int64
	BalanceAt int64 // pool balance after the contribution
	OpID      string
	CreatedAt time.Time
}

// WinRecord is one successful jackpot win.
type WinRecord struct {
	ID        int64
	Group     Group
	GameID    string
	UserID    string
	Amount    int64
	BalanceAt int64 // pool balance after the payout
	OpID      string
	CreatedAt time.Time
}

// ContributionResult is the caller-facing outcome of a Contribute call.
type ContributionResult struct {
	Contributions     map[Group]int64
	TotalContribution int64
}

// WinResult is the caller-facing outcome of a ProcessWin call.
type WinResult struct {
	Group      Group
	Amount     int64
	PoolAfter  int64
	WonAt      time.Time
	WonByUser  string
	RetryCount int
}

// PoolStats is a read-only snapshot of one group used by stats endpoints.
type PoolStats struct {
	Group              Group
	CurrentAmount      int64
	SeedAmount         int64
	MaxAmount          *int64
	ContributionRate   float64
	TotalContributions int64
	TotalWins          int64
	LastWonAmount      *int64
	LastWonAt          *time.Time
	Version            int64
}
