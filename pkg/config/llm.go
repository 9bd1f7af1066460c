package config

import (
	"os"
	"time"
)

// Environment variables recognized by the LLM configuration. The env values
// win over maestro.yaml so deployments can swap endpoints without editing
// config files.
const (
	EnvLLMAPIEndpoint = "LLM_API_ENDPOINT"
	EnvMCPLLMAPIKey   = "MCP_LLM_API_KEY"
	EnvLLMAPIKey      = "LLM_API_KEY"
	EnvLLMAuthHeader  = "MCP_LLM_AUTH_HEADER"
)

// LLMConfig configures the outbound OpenAI-compatible chat-completions
// endpoint shared by the planner, verifier, and summarizer personas.
type LLMConfig struct {
	// Endpoint is the base URL of the chat-completions service.
	Endpoint string `yaml:"endpoint"`

	// Model is the model name sent with every request.
	Model string `yaml:"model"`

	// APIKey is normally populated from the environment, not YAML.
	APIKey string `yaml:"api_key,omitempty"`

	// AuthHeader is the header carrying the API key. Default Authorization
	// (with a Bearer prefix); some gateways require a custom name.
	AuthHeader string `yaml:"auth_header,omitempty"`

	// Optional extra headers some gateways inspect.
	Referer string `yaml:"referer,omitempty"`
	Title   string `yaml:"title,omitempty"`

	Temperature *float64 `yaml:"temperature,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`

	// RequestTimeout bounds a single chat-completions round trip.
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
}

// DefaultLLMConfig returns the built-in LLM defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		Model:          "gpt-4o-mini",
		AuthHeader:     "Authorization",
		RequestTimeout: 60 * time.Second,
	}
}

// ApplyEnv overlays the recognized environment variables onto the config.
// MCP_LLM_API_KEY wins over LLM_API_KEY when both are set.
func (c *LLMConfig) ApplyEnv() {
	if v := os.Getenv(EnvLLMAPIEndpoint); v != "" {
		c.Endpoint = v
	}
	if v := os.Getenv(EnvMCPLLMAPIKey); v != "" {
		c.APIKey = v
	} else if v := os.Getenv(EnvLLMAPIKey); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv(EnvLLMAuthHeader); v != "" {
		c.AuthHeader = v
	}
}
