// Package config loads and validates nanotrack configuration: the
// orchestration settings from nanotrack.yaml merged over built-in defaults,
// and the static registry of the eight workflow stages.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Config is the umbrella configuration object returned by Initialize and
// threaded through the application.
type Config struct {
	configDir string

	Orchestrator *OrchestratorConfig
	Stages       *StageRegistry
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string { return c.configDir }

// yamlFile mirrors the nanotrack.yaml structure.
type yamlFile struct {
	Orchestrator *OrchestratorConfig     `yaml:"orchestrator"`
	Stages       map[string]*StageConfig `yaml:"stages"`
}

// Initialize loads, merges, and validates configuration from configDir.
// A missing nanotrack.yaml is not an error; built-in defaults apply.
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)

	file, err := loadYAML(filepath.Join(configDir, "nanotrack.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	orch := DefaultOrchestratorConfig()
	if file.Orchestrator != nil {
		if err := mergo.Merge(orch, file.Orchestrator, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge orchestrator config: %w", err)
		}
	}

	stages, err := NewStageRegistry(file.Stages)
	if err != nil {
		return nil, fmt.Errorf("invalid stage overrides: %w", err)
	}

	cfg := &Config{
		configDir:    configDir,
		Orchestrator: orch,
		Stages:       stages,
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized",
		"stages", stages.Len(),
		"reconcile_interval", orch.ReconcileInterval,
		"max_in_flight_per_stage", orch.MaxInFlightPerStage)
	return cfg, nil
}

// loadYAML reads and parses a YAML file after env expansion. A missing file
// yields an empty structure.
func loadYAML(path string) (*yamlFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &yamlFile{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var file yamlFile
	if err := yaml.Unmarshal(ExpandEnv(data), &file); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &file, nil
}

func validate(cfg *Config) error {
	o := cfg.Orchestrator
	if o.ReconcileInterval <= 0 {
		return errors.New("reconcile_interval must be positive")
	}
	if o.MaxInFlightPerStage <= 0 {
		return errors.New("max_in_flight_per_stage must be positive")
	}
	if o.LeaseTTLMultiplier <= 0 {
		return errors.New("lease_ttl_multiplier must be positive")
	}
	if o.RetryAttempts < 1 {
		return errors.New("retry_attempts must be at least 1")
	}
	if o.RetryBaseDelay <= 0 {
		return errors.New("retry_base_delay must be positive")
	}
	if o.VisibilityTimeout <= 0 {
		return errors.New("visibility_timeout must be positive")
	}
	return nil
}
