package domain

import (
	"time"
)

// Group identifies one of the three jackpot pools.
type Group string

const (
	GroupMinor Group = "minor"
	GroupMajor Group = "major"
	GroupMega  Group = "mega"
)

// Groups lists every jackpot group in a stable order.
var Groups = []Group{GroupMinor, GroupMajor, GroupMega}

// Valid reports whether g names a known jackpot group.
func (g Group) Valid() bool {
	switch g {
	case GroupMinor, GroupMajor, GroupMega:
		return true
	}
	return false
}

// Pool is the persisted state of one jackpot group.
// All monetary amounts are integer minor currency units (cents).
type Pool struct {
	Group              Group
	CurrentAmount      int64 // invariant: >= 0
	SeedAmount         int64 // invariant: > 0
	MaxAmount          *int64
	ContributionRate   float64 // in [0, 1]
	TotalContributions int64
	TotalWins          int64
	LastWonAmount      *int64
	LastWonAt          *time.Time
	LastWonByUserID    *string
	LockHolder         string // observability only, not a lock
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Headroom returns how much the pool can still grow, or -1 when uncapped.
func (p *Pool) Headroom() int64 {
	if p.MaxAmount == nil {
		return -1
	}
	room := *p.MaxAmount - p.CurrentAmount
	if room < 0 {
		return 0
	}
	return room
}

// GroupConfig is the admin-mutable configuration for one group.
// It seeds new pool rows and validates config updates.
type GroupConfig struct {
	Rate       float64 `yaml:"rate"`
	SeedAmount int64   `yaml:"seed_amount"`
	MaxAmount  *int64  `yaml:"max_amount"`
}

// ConfigPatch is a partial config update for one group. Nil fields are
// left untouched.
type ConfigPatch struct {
	Rate       *float64
	SeedAmount *int64
	MaxAmount  *int64
}
