// Package config loads the process-wide configuration from YAML with
// sane defaults for every field, so a missing file or empty section
// still yields a runnable setup.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Dicklesworthstone/quorum/internal/dispatch"
	"github.com/Dicklesworthstone/quorum/internal/ensemble"
	"github.com/Dicklesworthstone/quorum/internal/history"
	"github.com/Dicklesworthstone/quorum/internal/plan"
	"github.com/Dicklesworthstone/quorum/internal/score"
	"github.com/Dicklesworthstone/quorum/internal/task"
)

// DefaultPath is where Load looks when no path is given.
const DefaultPath = "quorum.yaml"

// Config is the full process configuration.
type Config struct {
	// CatalogPath points at the TOML responder catalog; empty means the
	// built-in catalog.
	CatalogPath string `yaml:"catalog_path"`

	// HistoryPath is the SQLite file for outcome history; empty means
	// an in-memory store.
	HistoryPath string `yaml:"history_path"`

	Planner  PlannerConfig  `yaml:"planner"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	Ensemble EnsembleConfig `yaml:"ensemble"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// PlannerConfig mirrors plan.Config.
type PlannerConfig struct {
	LowBudgetFloor  float64       `yaml:"low_budget_floor"`
	HighBudgetFloor float64       `yaml:"high_budget_floor"`
	TournamentSize  int           `yaml:"tournament_size"`
	MaxCost         float64       `yaml:"max_cost"`
	MaxWallClock    time.Duration `yaml:"max_wall_clock"`
}

// ScoringConfig mirrors score.Thresholds plus the cost normalizer.
type ScoringConfig struct {
	MinConfidence  float64 `yaml:"min_confidence"`
	MaxRetries     int     `yaml:"max_retries"`
	CostNormalizer float64 `yaml:"cost_normalizer"`
	RecentWindow   int     `yaml:"recent_window"`
}

// EnsembleConfig mirrors ensemble.Thresholds.
type EnsembleConfig struct {
	MergeThreshold float64 `yaml:"merge_threshold"`
	DiffThreshold  float64 `yaml:"diff_threshold"`
}

// DispatchConfig holds fan-out settings.
type DispatchConfig struct {
	CandidateTimeout time.Duration `yaml:"candidate_timeout"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a fully populated configuration.
func Default() Config {
	pc := plan.DefaultConfig()
	st := score.DefaultThresholds()
	et := ensemble.DefaultThresholds()
	return Config{
		HistoryPath: history.InMemoryDSN,
		Planner: PlannerConfig{
			LowBudgetFloor:  pc.LowBudgetFloor,
			HighBudgetFloor: pc.HighBudgetFloor,
			TournamentSize:  pc.TournamentSize,
			MaxCost:         pc.DefaultBudget.MaxCost,
			MaxWallClock:    pc.DefaultBudget.MaxWallClock,
		},
		Scoring: ScoringConfig{
			MinConfidence:  st.MinConfidence,
			MaxRetries:     st.MaxRetries,
			CostNormalizer: score.DefaultCostNormalizer,
			RecentWindow:   history.DefaultRecentWindow,
		},
		Ensemble: EnsembleConfig{
			MergeThreshold: et.MergeThreshold,
			DiffThreshold:  et.DiffThreshold,
		},
		Dispatch: DispatchConfig{
			CandidateTimeout: dispatch.DefaultCandidateTimeout,
		},
		Server:  ServerConfig{Addr: ":8787"},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

// Load reads the YAML file at path, overlaying it on Default. A missing
// file at the default path is not an error; a missing explicit path is.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings that would misbehave at runtime.
func (c Config) Validate() error {
	if c.Planner.LowBudgetFloor < 0 || c.Planner.HighBudgetFloor < c.Planner.LowBudgetFloor {
		return fmt.Errorf("planner budget floors invalid: low=%.3f high=%.3f",
			c.Planner.LowBudgetFloor, c.Planner.HighBudgetFloor)
	}
	if c.Planner.TournamentSize < 1 {
		return fmt.Errorf("tournament_size %d must be at least 1", c.Planner.TournamentSize)
	}
	if err := c.ScoreThresholds().Validate(); err != nil {
		return err
	}
	if err := c.EnsembleThresholds().Validate(); err != nil {
		return err
	}
	if c.Dispatch.CandidateTimeout <= 0 {
		return fmt.Errorf("candidate_timeout must be positive")
	}
	return nil
}

// PlannerConfigFor converts to the planner's own config type.
func (c Config) PlannerConfigFor() plan.Config {
	return plan.Config{
		LowBudgetFloor:  c.Planner.LowBudgetFloor,
		HighBudgetFloor: c.Planner.HighBudgetFloor,
		TournamentSize:  c.Planner.TournamentSize,
		MinConfidence:   c.Scoring.MinConfidence,
		DefaultBudget: task.Budget{
			MaxCost:      c.Planner.MaxCost,
			MaxWallClock: c.Planner.MaxWallClock,
		},
	}
}

// ScoreThresholds converts to the scorer's threshold type.
func (c Config) ScoreThresholds() score.Thresholds {
	return score.Thresholds{
		MinConfidence: c.Scoring.MinConfidence,
		MaxRetries:    c.Scoring.MaxRetries,
	}
}

// EnsembleThresholds converts to the merger's threshold type.
func (c Config) EnsembleThresholds() ensemble.Thresholds {
	return ensemble.Thresholds{
		MergeThreshold: c.Ensemble.MergeThreshold,
		DiffThreshold:  c.Ensemble.DiffThreshold,
	}
}
