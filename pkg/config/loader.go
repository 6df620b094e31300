package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the frgpt.yaml structure.
type fileConfig struct {
	Engine      EngineConfig           `yaml:"engine"`
	Store       StoreConfig            `yaml:"store"`
	LLM         *LLMConfig             `yaml:"llm"`
	MarketData  MarketDataConfig       `yaml:"market_data"`
	Predictions PredictionsConfig      `yaml:"predictions"`
	Agents      map[string]AgentConfig `yaml:"agents"`
}

// Initialize loads, merges, validates, and returns ready-to-use
// configuration. This is the primary entry point.
//
// Steps performed:
//  1. Read frgpt.yaml from configDir (optional: built-ins alone are valid)
//  2. Expand environment variables
//  3. Merge built-in defaults under the user configuration
//  4. Resolve duration strings and workspace-relative paths
//  5. Validate everything
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized",
		"agents", stats.Agents,
		"tools", stats.Tools,
		"llm_enabled", stats.LLMEnabled)
	return cfg, nil
}

func load(configDir string) (*Config, error) {
	user := fileConfig{}
	path := filepath.Join(configDir, FileName)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Warn("No configuration file found, using built-in defaults", "path", path)
	case err != nil:
		return nil, NewLoadError(FileName, err)
	default:
		if err := yaml.Unmarshal(ExpandEnv(data), &user); err != nil {
			return nil, NewLoadError(FileName, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
		}
	}

	builtin := getBuiltinConfig()

	// Built-in defaults fill whatever the user left empty.
	if err := mergo.Merge(&user.Engine, builtin.Engine); err != nil {
		return nil, fmt.Errorf("failed to merge engine defaults: %w", err)
	}
	if err := mergo.Merge(&user.Store, builtin.Store); err != nil {
		return nil, fmt.Errorf("failed to merge store defaults: %w", err)
	}
	llm := builtin.LLM
	if user.LLM != nil {
		llm = *user.LLM
		if err := mergo.Merge(&llm, builtin.LLM); err != nil {
			return nil, fmt.Errorf("failed to merge llm defaults: %w", err)
		}
	}
	if err := mergo.Merge(&user.MarketData, builtin.MarketData); err != nil {
		return nil, fmt.Errorf("failed to merge market data defaults: %w", err)
	}

	cfg := &Config{
		Engine:      user.Engine,
		Store:       user.Store,
		LLM:         llm,
		MarketData:  user.MarketData,
		Predictions: user.Predictions,
		Agents:      mergeAgents(builtin.Agents, user.Agents),
	}
	cfg.buildAgentOrder()

	if err := resolveDurations(&cfg.Engine); err != nil {
		return nil, err
	}
	resolvePaths(cfg)
	return cfg, nil
}

// mergeAgents merges built-in and user-defined agents. A user definition
// with the same id replaces the built-in entirely.
func mergeAgents(builtinAgents map[string]AgentConfig, userAgents map[string]AgentConfig) map[string]*AgentConfig {
	result := make(map[string]*AgentConfig, len(builtinAgents)+len(userAgents))
	for id, a := range builtinAgents {
		agentCopy := a
		agentCopy.Keywords = append([]string(nil), a.Keywords...)
		agentCopy.RequiredFields = append([]string(nil), a.RequiredFields...)
		agentCopy.Tools = append([]string(nil), a.Tools...)
		result[id] = &agentCopy
	}
	for id, a := range userAgents {
		agentCopy := a
		result[id] = &agentCopy
	}
	return result
}

func resolveDurations(e *EngineConfig) error {
	var err error
	if e.TaskTimeoutD, err = parseDuration("engine", "task_timeout", e.TaskTimeout); err != nil {
		return err
	}
	if e.DependencyPollIntervalD, err = parseDuration("engine", "dependency_poll_interval", e.DependencyPollInterval); err != nil {
		return err
	}
	if e.DependencyWaitTimeoutD, err = parseDuration("engine", "dependency_wait_timeout", e.DependencyWaitTimeout); err != nil {
		return err
	}
	return nil
}

func parseDuration(component, field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, NewValidationError(component, "", field, fmt.Errorf("%w: %v", ErrInvalidValue, err))
	}
	return d, nil
}

// resolvePaths anchors relative store paths in the workspace directory.
func resolvePaths(cfg *Config) {
	if cfg.Store.Path != "" && !filepath.IsAbs(cfg.Store.Path) {
		cfg.Store.Path = filepath.Join(cfg.Engine.Workspace, cfg.Store.Path)
	}
	if cfg.MarketData.Path != "" && !filepath.IsAbs(cfg.MarketData.Path) {
		cfg.MarketData.Path = filepath.Join(cfg.Engine.Workspace, cfg.MarketData.Path)
	}
}
