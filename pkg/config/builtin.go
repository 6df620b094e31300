package config

import "sync"

// builtinConfig provides the default engine settings and agent registry.
// User configuration overrides built-ins per key.
type builtinConfig struct {
	Engine      EngineConfig
	Store       StoreConfig
	LLM         LLMConfig
	MarketData  MarketDataConfig
	Predictions PredictionsConfig
	Agents      map[string]AgentConfig
	AgentOrder  []string
}

var (
	builtin     *builtinConfig
	builtinOnce sync.Once
)

func getBuiltinConfig() *builtinConfig {
	builtinOnce.Do(initBuiltinConfig)
	return builtin
}

func builtinAgentOrder() []string {
	return getBuiltinConfig().AgentOrder
}

func initBuiltinConfig() {
	builtin = &builtinConfig{
		Engine: EngineConfig{
			Workspace:              "./workspace",
			MaxSubtasks:            5,
			TaskTimeout:            "2m",
			DependencyPollInterval: "200ms",
			DependencyWaitTimeout:  "5m",
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "orchestrator_results.db",
		},
		LLM: LLMConfig{
			Model:       "claude-sonnet-4-5",
			APIKeyEnv:   "ANTHROPIC_API_KEY",
			MaxTokens:   2048,
			Temperature: 0.2,
		},
		MarketData: MarketDataConfig{
			Driver: "sqlite",
			Path:   "market_data.db",
		},
		Predictions: PredictionsConfig{},
		Agents:      initBuiltinAgents(),
		AgentOrder:  []string{"market-data", "predictions", "historical"},
	}
}

func initBuiltinAgents() map[string]AgentConfig {
	return map[string]AgentConfig{
		"market-data": {
			Description:    "Executes parameterized SQL queries over daily market data",
			Keywords:       []string{"market", "price", "prices", "symbol", "option", "options", "closing", "volume", "trading"},
			RequiredFields: []string{"conditions", "values"},
			Extractor:      "sql",
			Tools:          []string{"market-data.query"},
		},
		"predictions": {
			Description:    "Searches active prediction markets by topic",
			Keywords:       []string{"prediction", "predictions", "forecast", "odds", "probability", "betting"},
			RequiredFields: []string{"query"},
			Extractor:      "prediction",
			Tools:          []string{"predictions.search"},
		},
		"historical": {
			Description:    "Aggregates per-symbol price history",
			Keywords:       []string{"historical", "history", "trend", "aggregate", "analyze", "analysis"},
			RequiredFields: []string{"query"},
			Extractor:      "generic",
			Tools:          []string{"historical.analyze"},
		},
	}
}
