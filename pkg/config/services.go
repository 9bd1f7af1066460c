package config

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Well-known outbound service names. Every outbound HTTP call is paced
// through the queue of exactly one of these services.
const (
	ServiceLLM     = "llm"
	ServiceTTS     = "tts"
	ServiceVision  = "vision"
	ServiceMCPHTTP = "mcp_http"
)

// BreakerConfig configures the circuit breaker guarding one service.
type BreakerConfig struct {
	// FailureThreshold consecutive failures trip the breaker open.
	FailureThreshold int `yaml:"failure_threshold"`

	// ResetTimeout is how long the breaker stays open before admitting
	// half-open probes.
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// SuccessThreshold consecutive half-open successes close the breaker.
	SuccessThreshold int `yaml:"success_threshold"`
}

// ServiceConfig configures the rate-limited queue for one outbound service.
type ServiceConfig struct {
	// MaxConcurrent bounds in-flight requests.
	MaxConcurrent int `yaml:"max_concurrent"`

	// MinInterval is the minimum delay between request starts, measured
	// from the completion of the previous request. Grows exponentially on
	// failure and resets on success.
	MinInterval time.Duration `yaml:"min_interval"`

	// Burst window: at most BurstLimit requests per BurstWindow.
	BurstLimit  int           `yaml:"burst_limit"`
	BurstWindow time.Duration `yaml:"burst_window"`

	// BlockOnBurst selects blocking instead of a RateLimitExceeded error
	// when the burst window is exhausted.
	BlockOnBurst bool `yaml:"block_on_burst"`

	// QueueDepth bounds waiting submissions; excess fails fast.
	QueueDepth int `yaml:"queue_depth"`

	// QueueTimeout bounds how long a submission may wait for dispatch.
	QueueTimeout time.Duration `yaml:"queue_timeout"`

	// Retry policy for 429/500/503 responses.
	MaxRetries   int           `yaml:"max_retries"`
	RetryBase    time.Duration `yaml:"retry_base"`
	RetryMax     time.Duration `yaml:"retry_max"`
	RetryJitter  time.Duration `yaml:"retry_jitter"`
	RetryAfterLo time.Duration `yaml:"retry_after_min"` // Retry-After clamp floor
	RetryAfterHi time.Duration `yaml:"retry_after_max"` // Retry-After clamp ceiling

	// RequestTimeout bounds a single attempt.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// DefaultServiceConfig returns the baseline limits shared by every service.
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		MaxConcurrent:  2,
		MinInterval:    2 * time.Second,
		BurstLimit:     10,
		BurstWindow:    time.Minute,
		QueueDepth:     32,
		QueueTimeout:   2 * time.Minute,
		MaxRetries:     3,
		RetryBase:      1 * time.Second,
		RetryMax:       30 * time.Second,
		RetryJitter:    100 * time.Millisecond,
		RetryAfterLo:   1 * time.Second,
		RetryAfterHi:   60 * time.Second,
		RequestTimeout: 60 * time.Second,
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     60 * time.Second,
			SuccessThreshold: 2,
		},
	}
}

// builtinServiceConfigs returns the per-service defaults. The LLM service is
// fully serialized with the tightest pacing; the rest allow small bursts of
// parallelism.
func builtinServiceConfigs() map[string]*ServiceConfig {
	llm := DefaultServiceConfig()
	llm.MaxConcurrent = 1
	llm.MinInterval = 1 * time.Second

	tts := DefaultServiceConfig()
	vision := DefaultServiceConfig()

	mcpHTTP := DefaultServiceConfig()
	mcpHTTP.MaxConcurrent = 3
	mcpHTTP.MinInterval = 1 * time.Second

	return map[string]*ServiceConfig{
		ServiceLLM:     llm,
		ServiceTTS:     tts,
		ServiceVision:  vision,
		ServiceMCPHTTP: mcpHTTP,
	}
}

// ServiceRegistry stores outbound service configurations with thread-safe access.
type ServiceRegistry struct {
	services map[string]*ServiceConfig
	mu       sync.RWMutex
}

// NewServiceRegistry creates a new outbound service registry.
func NewServiceRegistry(services map[string]*ServiceConfig) *ServiceRegistry {
	copied := make(map[string]*ServiceConfig, len(services))
	for k, v := range services {
		copied[k] = v
	}
	return &ServiceRegistry{services: copied}
}

// Get retrieves a service configuration by name (thread-safe)
func (r *ServiceRegistry) Get(name string) (*ServiceConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	svc, exists := r.services[name]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}
	return svc, nil
}

// GetAll returns all service configurations (thread-safe, returns copy)
func (r *ServiceRegistry) GetAll() map[string]*ServiceConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*ServiceConfig, len(r.services))
	for k, v := range r.services {
		result[k] = v
	}
	return result
}

// Has checks if a service exists in the registry (thread-safe)
func (r *ServiceRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.services[name]
	return exists
}

// Names returns the sorted service names (thread-safe)
func (r *ServiceRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of services in the registry (thread-safe)
func (r *ServiceRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.services)
}
