package config

import (
	"github.com/vietddude/jackpotd/internal/core/domain"
	redisclient "github.com/vietddude/jackpotd/internal/infra/redis"
	"github.com/vietddude/jackpotd/internal/infra/storage/postgres"
	"github.com/vietddude/jackpotd/internal/jackpot"
	"github.com/vietddude/jackpotd/internal/resilience"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Database postgres.Config    `yaml:"database"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
	Jackpot  JackpotConfig      `yaml:"jackpot"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// JackpotConfig holds the business configuration.
type JackpotConfig struct {
	Groups   map[string]domain.GroupConfig       `yaml:"groups"`
	Games    map[string][]string                 `yaml:"games"`
	SafeOps  jackpot.SafeOpsConfig               `yaml:"safe_ops"`
	Retry    resilience.Policy                   `yaml:"retry"`
	Breakers map[string]resilience.BreakerConfig `yaml:"breakers"`
	AuditBuf int                                 `yaml:"audit_buffer"`
}

// ManagerConfig converts the YAML view into the manager's typed config.
func (c JackpotConfig) ManagerConfig() jackpot.ManagerConfig {
	groups := make(map[domain.Group]domain.GroupConfig, len(c.Groups))
	for name, cfg := range c.Groups {
		groups[domain.Group(name)] = cfg
	}
	games := make(map[string][]domain.Group, len(c.Games))
	for game, targets := range c.Games {
		for _, t := range targets {
			games[game] = append(games[game], domain.Group(t))
		}
	}
	return jackpot.ManagerConfig{
		Groups:  groups,
		Games:   games,
		SafeOps: c.SafeOps,
	}
}
