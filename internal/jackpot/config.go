package jackpot

import (
	"sync"

	"github.com/vietddude/jackpotd/internal/core/domain"
	"github.com/vietddude/jackpotd/internal/core/fault"
)

// configMirror is the in-memory view of per-group configuration. The
// persisted row is the source of truth once initialized; the mirror seeds
// new rows and validates updates.
type configMirror struct {
	mu   sync.RWMutex
	cfgs map[domain.Group]domain.GroupConfig
}

func newConfigMirror(cfgs map[domain.Group]domain.GroupConfig) *configMirror {
	copied := make(map[domain.Group]domain.GroupConfig, len(cfgs))
	for g, c := range cfgs {
		copied[g] = c
	}
	return &configMirror{cfgs: copied}
}

func (c *configMirror) get(group domain.Group) (domain.GroupConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg, ok := c.cfgs[group]
	return cfg, ok
}

func (c *configMirror) set(group domain.Group, cfg domain.GroupConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfgs[group] = cfg
}

// applyPatch merges a partial update over the current config. Nil fields
// keep the current value.
func applyPatch(current domain.GroupConfig, p domain.ConfigPatch) domain.GroupConfig {
	next := current
	if p.Rate != nil {
		next.Rate = *p.Rate
	}
	if p.SeedAmount != nil {
		next.SeedAmount = *p.SeedAmount
	}
	if p.MaxAmount != nil {
		next.MaxAmount = p.MaxAmount
	}
	return next
}

// validateGroupConfig enforces the config schema: rate in [0,1], positive
// seed, cap above seed when set.
func validateGroupConfig(group domain.Group, cfg domain.GroupConfig) error {
	if cfg.Rate < 0 || cfg.Rate > 1 {
		return fault.Newf(fault.CodeConfigurationInvalid,
			"contribution rate for %s must be in [0,1], got %g", group, cfg.Rate)
	}
	if cfg.SeedAmount <= 0 {
		return fault.Newf(fault.CodeConfigurationInvalid,
			"seed amount for %s must be positive, got %d", group, cfg.SeedAmount)
	}
	if cfg.MaxAmount != nil && *cfg.MaxAmount <= cfg.SeedAmount {
		return fault.Newf(fault.CodeConfigurationInvalid,
			"max amount for %s must exceed seed amount %d, got %d",
			group, cfg.SeedAmount, *cfg.MaxAmount)
	}
	return nil
}
