package config

import (
	"fmt"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateMCPServers(); err != nil {
		return fmt.Errorf("MCP server validation failed: %w", err)
	}
	if err := v.validateLLM(); err != nil {
		return fmt.Errorf("LLM validation failed: %w", err)
	}
	if err := v.validateServices(); err != nil {
		return fmt.Errorf("service validation failed: %w", err)
	}
	if err := v.validateWorkflow(); err != nil {
		return fmt.Errorf("workflow validation failed: %w", err)
	}
	if err := v.validateValidation(); err != nil {
		return fmt.Errorf("validation tunables failed: %w", err)
	}
	if err := v.validateQueue(); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}
	return nil
}

func (v *ConfigValidator) validateMCPServers() error {
	for id, server := range v.cfg.MCPServerRegistry.GetAll() {
		if !server.Transport.Type.IsValid() {
			return NewValidationError("mcp_server", id, "transport.type",
				fmt.Errorf("%w: %q", ErrInvalidValue, server.Transport.Type))
		}
		switch server.Transport.Type {
		case TransportStdio:
			if server.Transport.Command == "" {
				return NewValidationError("mcp_server", id, "transport.command", ErrMissingRequiredField)
			}
		case TransportHTTP:
			if server.Transport.URL == "" {
				return NewValidationError("mcp_server", id, "transport.url", ErrMissingRequiredField)
			}
		}
		if server.ToolTimeout < 0 {
			return NewValidationError("mcp_server", id, "tool_timeout",
				fmt.Errorf("%w: must not be negative", ErrInvalidValue))
		}
	}
	return nil
}

func (v *ConfigValidator) validateLLM() error {
	llm := v.cfg.LLM
	if llm.Endpoint == "" {
		return NewValidationError("llm", "llm", "endpoint",
			fmt.Errorf("%w: set llm.endpoint or %s", ErrMissingRequiredField, EnvLLMAPIEndpoint))
	}
	if llm.Model == "" {
		return NewValidationError("llm", "llm", "model", ErrMissingRequiredField)
	}
	if llm.RequestTimeout <= 0 {
		return NewValidationError("llm", "llm", "request_timeout",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateServices() error {
	for name, svc := range v.cfg.ServiceRegistry.GetAll() {
		if svc.MaxConcurrent < 1 {
			return NewValidationError("service", name, "max_concurrent",
				fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
		}
		if svc.BurstLimit < 1 || svc.BurstWindow <= 0 {
			return NewValidationError("service", name, "burst",
				fmt.Errorf("%w: burst_limit and burst_window must be positive", ErrInvalidValue))
		}
		if svc.QueueDepth < 1 {
			return NewValidationError("service", name, "queue_depth",
				fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
		}
		if svc.MaxRetries < 0 {
			return NewValidationError("service", name, "max_retries",
				fmt.Errorf("%w: must not be negative", ErrInvalidValue))
		}
		if svc.Breaker.FailureThreshold < 1 || svc.Breaker.SuccessThreshold < 1 {
			return NewValidationError("service", name, "breaker",
				fmt.Errorf("%w: thresholds must be at least 1", ErrInvalidValue))
		}
	}
	return nil
}

func (v *ConfigValidator) validateWorkflow() error {
	wf := v.cfg.Workflow
	if wf.HandlerTimeout <= 0 || wf.TransitionTimeout <= 0 {
		return NewValidationError("workflow", "workflow", "timeouts",
			fmt.Errorf("%w: handler_timeout and transition_timeout must be positive", ErrInvalidValue))
	}
	if wf.BlockedCheckThreshold < 1 {
		return NewValidationError("workflow", "workflow", "blocked_check_threshold",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if wf.MaxAttempts < 1 {
		return NewValidationError("workflow", "workflow", "max_attempts",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if wf.ItemPacing < 0 {
		return NewValidationError("workflow", "workflow", "item_pacing",
			fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateQueue() error {
	q := v.cfg.Queue
	if q.WorkerCount < 1 {
		return NewValidationError("queue", "queue", "worker_count",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if q.Depth < 1 {
		return NewValidationError("queue", "queue", "depth",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if q.TurnTimeout <= 0 {
		return NewValidationError("queue", "queue", "turn_timeout",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if q.PollInterval <= 0 || q.PollIntervalJitter < 0 {
		return NewValidationError("queue", "queue", "poll_interval",
			fmt.Errorf("%w: interval must be positive, jitter must not be negative", ErrInvalidValue))
	}
	if q.GracefulShutdownTimeout <= 0 {
		return NewValidationError("queue", "queue", "graceful_shutdown_timeout",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateValidation() error {
	val := v.cfg.Validation
	if val.HistoryMaxSize < 1 || val.AntiRepetitionWindow < 1 {
		return NewValidationError("validation", "validation", "history",
			fmt.Errorf("%w: history sizes must be at least 1", ErrInvalidValue))
	}
	if val.SimilarityThreshold < 0 || val.SimilarityThreshold > 1 {
		return NewValidationError("validation", "validation", "similarity_threshold",
			fmt.Errorf("%w: must be within [0, 1]", ErrInvalidValue))
	}
	if val.MinSuccessRate < 0 || val.MinSuccessRate > 1 {
		return NewValidationError("validation", "validation", "min_success_rate",
			fmt.Errorf("%w: must be within [0, 1]", ErrInvalidValue))
	}
	if val.MCPCacheTTL <= 0 {
		return NewValidationError("validation", "validation", "mcp_cache_ttl",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}
