package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/jackpotd/internal/core/domain"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Jackpot.AuditBuf == 0 {
		cfg.Jackpot.AuditBuf = 1024
	}
	if cfg.Jackpot.Groups == nil {
		cfg.Jackpot.Groups = make(map[string]domain.GroupConfig)
	}

	// Every group gets a pool even when the file omits it.
	defaults := map[string]domain.GroupConfig{
		string(domain.GroupMinor): {Rate: 0.01, SeedAmount: 10_000},
		string(domain.GroupMajor): {Rate: 0.005, SeedAmount: 100_000},
		string(domain.GroupMega):  {Rate: 0.001, SeedAmount: 1_000_000},
	}
	for name, d := range defaults {
		if _, ok := cfg.Jackpot.Groups[name]; !ok {
			cfg.Jackpot.Groups[name] = d
		}
	}
}

func validate(cfg *AppConfig) error {
	for name, g := range cfg.Jackpot.Groups {
		if !domain.Group(name).Valid() {
			return fmt.Errorf("unknown jackpot group %q in config", name)
		}
		if g.Rate < 0 || g.Rate > 1 {
			return fmt.Errorf("group %s: contribution rate must be in [0,1], got %g", name, g.Rate)
		}
		if g.SeedAmount <= 0 {
			return fmt.Errorf("group %s: seed amount must be positive, got %d", name, g.SeedAmount)
		}
		if g.MaxAmount != nil && *g.MaxAmount <= g.SeedAmount {
			return fmt.Errorf("group %s: max amount must exceed seed amount", name)
		}
	}
	for game, targets := range cfg.Jackpot.Games {
		if game == "" {
			return fmt.Errorf("empty game id in games mapping")
		}
		for _, t := range targets {
			if !domain.Group(t).Valid() {
				return fmt.Errorf("game %s: unknown jackpot group %q", game, t)
			}
		}
	}
	return nil
}
