// Package config loads, merges, and validates the engine configuration:
// engine tuning, task store backend, LLM provider, worker data sources, and
// the agent registry definitions. Built-in defaults are merged under the
// user's frgpt.yaml; environment variables are expanded in place.
package config

import (
	"sort"
	"time"

	"github.com/aj002fr/frgpt/pkg/agent"
	"github.com/aj002fr/frgpt/pkg/extract"
)

// FileName is the single configuration file read from the config directory.
const FileName = "frgpt.yaml"

// EngineConfig tunes planning and execution. Duration fields are YAML
// strings ("2m", "200ms") resolved during load.
type EngineConfig struct {
	Workspace              string `yaml:"workspace"`
	MaxSubtasks            int    `yaml:"max_subtasks"`
	MaxParallel            int    `yaml:"max_parallel"`
	TaskTimeout            string `yaml:"task_timeout"`
	DependencyPollInterval string `yaml:"dependency_poll_interval"`
	DependencyWaitTimeout  string `yaml:"dependency_wait_timeout"`
	SkipValidation         bool   `yaml:"skip_validation"`

	// Resolved durations, populated by the loader.
	TaskTimeoutD            time.Duration `yaml:"-"`
	DependencyPollIntervalD time.Duration `yaml:"-"`
	DependencyWaitTimeoutD  time.Duration `yaml:"-"`
}

// StoreConfig selects the task store backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "sqlite" (default) or "postgres"
	Path   string `yaml:"path"`   // sqlite file, relative to workspace when not absolute
	DSN    string `yaml:"dsn"`    // postgres connection string
}

// LLMConfig configures the planner collaborator. Disabled (rather than
// enabled) keeps the zero value merge-safe: the collaborator is on unless
// explicitly switched off.
type LLMConfig struct {
	Disabled    bool    `yaml:"disabled"`
	Model       string  `yaml:"model"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// Enabled reports whether the LLM collaborator should be constructed.
func (l LLMConfig) Enabled() bool {
	return !l.Disabled
}

// MarketDataConfig points the market data worker at its database.
type MarketDataConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	Path   string `yaml:"path"`   // sqlite file
	DSN    string `yaml:"dsn"`    // postgres connection string
}

// PredictionsConfig points the prediction market worker at its API.
type PredictionsConfig struct {
	BaseURL string `yaml:"base_url"`
}

// AgentConfig defines one registry entry.
type AgentConfig struct {
	Description    string   `yaml:"description"`
	Keywords       []string `yaml:"keywords"`
	RequiredFields []string `yaml:"required_fields"`
	Extractor      string   `yaml:"extractor"` // sql | prediction | generic
	Tools          []string `yaml:"tools"`
}

// Config is the fully loaded, validated configuration.
type Config struct {
	Engine      EngineConfig
	Store       StoreConfig
	LLM         LLMConfig
	MarketData  MarketDataConfig
	Predictions PredictionsConfig
	Agents      map[string]*AgentConfig

	agentOrder []string
}

// Stats summarizes the loaded configuration for health reporting.
type Stats struct {
	Agents     int  `json:"agents"`
	Tools      int  `json:"tools"`
	LLMEnabled bool `json:"llm_enabled"`
}

// Stats returns configuration statistics.
func (c *Config) Stats() Stats {
	toolCount := 0
	for _, a := range c.Agents {
		toolCount += len(a.Tools)
	}
	return Stats{Agents: len(c.Agents), Tools: toolCount, LLMEnabled: c.LLM.Enabled()}
}

// AgentOrder returns agent ids in registration order: built-ins first, then
// user-defined agents sorted by id.
func (c *Config) AgentOrder() []string {
	return c.agentOrder
}

// AgentRegistry builds the process-scoped agent registry from the merged
// agent definitions.
func (c *Config) AgentRegistry() (*agent.Registry, error) {
	descriptors := make([]*agent.Descriptor, 0, len(c.Agents))
	for _, id := range c.agentOrder {
		a := c.Agents[id]
		descriptors = append(descriptors, &agent.Descriptor{
			ID:             id,
			Description:    a.Description,
			Keywords:       a.Keywords,
			RequiredFields: a.RequiredFields,
			Tools:          a.Tools,
		})
	}
	return agent.NewRegistry(descriptors)
}

// Extractors maps each agent id to its configured parameter extractor.
func (c *Config) Extractors() map[string]extract.Extractor {
	out := make(map[string]extract.Extractor, len(c.Agents))
	for id, a := range c.Agents {
		out[id] = extract.ForKind(extract.Kind(a.Extractor))
	}
	return out
}

// buildAgentOrder fixes registration order after merging.
func (c *Config) buildAgentOrder() {
	builtin := builtinAgentOrder()
	seen := make(map[string]bool, len(c.Agents))
	c.agentOrder = c.agentOrder[:0]
	for _, id := range builtin {
		if _, ok := c.Agents[id]; ok {
			c.agentOrder = append(c.agentOrder, id)
			seen[id] = true
		}
	}
	var rest []string
	for id := range c.Agents {
		if !seen[id] {
			rest = append(rest, id)
		}
	}
	sort.Strings(rest)
	c.agentOrder = append(c.agentOrder, rest...)
}
