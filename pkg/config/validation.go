package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Environment variables recognized by the validation configuration.
const (
	EnvValidationHistoryMaxSize      = "VALIDATION_HISTORY_MAX_SIZE"
	EnvValidationAntiRepetition      = "VALIDATION_ANTI_REPETITION_WINDOW"
	EnvValidationMaxFailures         = "VALIDATION_MAX_FAILURES_BEFORE_BLOCK"
	EnvValidationMinSuccessRate      = "VALIDATION_MIN_SUCCESS_RATE"
	EnvValidationMCPCacheTTL         = "VALIDATION_MCP_CACHE_TTL"
	EnvValidationSimilarityThreshold = "VALIDATION_SIMILARITY_THRESHOLD"
)

// ValidationConfig contains the tunables of the validation pipeline and the
// tool history guards.
type ValidationConfig struct {
	// HistoryMaxSize is the tool-execution history ring size.
	HistoryMaxSize int `yaml:"history_max_size"`

	// AntiRepetitionWindow is how many recent executions the repetition
	// guard inspects.
	AntiRepetitionWindow int `yaml:"anti_repetition_window"`

	// MaxFailuresBeforeBlock is the failure count at which the history
	// stage blocks re-attempting an identical call.
	MaxFailuresBeforeBlock int `yaml:"max_failures_before_block"`

	// MinSuccessRate is the warn threshold for a tool's success rate.
	MinSuccessRate float64 `yaml:"min_success_rate"`

	// MCPCacheTTL bounds the MCP-sync stage's live-catalog cache.
	MCPCacheTTL time.Duration `yaml:"mcp_cache_ttl"`

	// SimilarityThreshold is the fuzzy auto-correct cutoff. Matches below
	// it surface as suggestions only.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// MaxTotalCalls is the per-(server, tool) call count above which the
	// repetition inspector requires approval.
	MaxTotalCalls int `yaml:"max_total_calls"`

	// EnableLLMStage turns on the optional semantic/safety stage.
	EnableLLMStage bool `yaml:"enable_llm_stage"`

	// SlowValidationThreshold marks pipeline runs counted as slow.
	SlowValidationThreshold time.Duration `yaml:"slow_validation_threshold"`
}

// DefaultValidationConfig returns the built-in validation defaults.
func DefaultValidationConfig() *ValidationConfig {
	return &ValidationConfig{
		HistoryMaxSize:          100,
		AntiRepetitionWindow:    100,
		MaxFailuresBeforeBlock:  3,
		MinSuccessRate:          0.3,
		MCPCacheTTL:             60 * time.Second,
		SimilarityThreshold:     0.8,
		MaxTotalCalls:           10,
		EnableLLMStage:          false,
		SlowValidationThreshold: time.Second,
	}
}

// ApplyEnv overlays the recognized VALIDATION_* environment variables onto
// the config. Invalid values are logged and ignored, keeping the previous
// value.
func (c *ValidationConfig) ApplyEnv() {
	if n, ok := envInt(EnvValidationHistoryMaxSize); ok {
		c.HistoryMaxSize = n
	}
	if n, ok := envInt(EnvValidationAntiRepetition); ok {
		c.AntiRepetitionWindow = n
	}
	if n, ok := envInt(EnvValidationMaxFailures); ok {
		c.MaxFailuresBeforeBlock = n
	}
	if f, ok := envFloat(EnvValidationMinSuccessRate); ok {
		c.MinSuccessRate = f
	}
	if n, ok := envInt(EnvValidationMCPCacheTTL); ok {
		// The env var is in milliseconds.
		c.MCPCacheTTL = time.Duration(n) * time.Millisecond
	}
	if f, ok := envFloat(EnvValidationSimilarityThreshold); ok {
		c.SimilarityThreshold = f
	}
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("Ignoring invalid env var", "name", name, "value", v)
		return 0, false
	}
	return n, true
}

func envFloat(name string) (float64, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 || f > 1 {
		slog.Warn("Ignoring invalid env var", "name", name, "value", v)
		return 0, false
	}
	return f, true
}
