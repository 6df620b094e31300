package config

import (
	"fmt"
)

// validate checks the merged configuration before the engine starts.
func validate(cfg *Config) error {
	if err := validateEngine(&cfg.Engine); err != nil {
		return err
	}
	if err := validateStore(&cfg.Store); err != nil {
		return err
	}
	if err := validateLLM(&cfg.LLM); err != nil {
		return err
	}
	return validateAgents(cfg.Agents)
}

func validateEngine(e *EngineConfig) error {
	if e.Workspace == "" {
		return NewValidationError("engine", "", "workspace", ErrMissingRequiredField)
	}
	if e.MaxSubtasks < 1 {
		return NewValidationError("engine", "", "max_subtasks",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if e.MaxParallel < 0 {
		return NewValidationError("engine", "", "max_parallel",
			fmt.Errorf("%w: cannot be negative", ErrInvalidValue))
	}
	if e.TaskTimeoutD <= 0 {
		return NewValidationError("engine", "", "task_timeout",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if e.DependencyPollIntervalD <= 0 {
		return NewValidationError("engine", "", "dependency_poll_interval",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if e.DependencyWaitTimeoutD < e.TaskTimeoutD {
		return NewValidationError("engine", "", "dependency_wait_timeout",
			fmt.Errorf("%w: must not be shorter than task_timeout", ErrInvalidValue))
	}
	return nil
}

func validateStore(s *StoreConfig) error {
	switch s.Driver {
	case "sqlite":
		if s.Path == "" {
			return NewValidationError("store", "", "path", ErrMissingRequiredField)
		}
	case "postgres":
		if s.DSN == "" {
			return NewValidationError("store", "", "dsn", ErrMissingRequiredField)
		}
	default:
		return NewValidationError("store", "", "driver",
			fmt.Errorf("%w: %q (want sqlite or postgres)", ErrInvalidValue, s.Driver))
	}
	return nil
}

func validateLLM(l *LLMConfig) error {
	if l.Disabled {
		return nil
	}
	if l.Model == "" {
		return NewValidationError("llm", "", "model", ErrMissingRequiredField)
	}
	if l.APIKeyEnv == "" {
		return NewValidationError("llm", "", "api_key_env", ErrMissingRequiredField)
	}
	if l.MaxTokens < 1 {
		return NewValidationError("llm", "", "max_tokens",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	return nil
}

func validateAgents(agents map[string]*AgentConfig) error {
	if len(agents) == 0 {
		return NewValidationError("agents", "", "",
			fmt.Errorf("%w: at least one agent is required", ErrInvalidValue))
	}
	for id, a := range agents {
		if len(a.Tools) == 0 {
			return NewValidationError("agent", id, "tools", ErrMissingRequiredField)
		}
		if len(a.Keywords) == 0 {
			return NewValidationError("agent", id, "keywords", ErrMissingRequiredField)
		}
		switch a.Extractor {
		case "", "sql", "prediction", "generic":
		default:
			return NewValidationError("agent", id, "extractor",
				fmt.Errorf("%w: %q", ErrInvalidValue, a.Extractor))
		}
	}
	return nil
}
