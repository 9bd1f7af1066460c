package config

// Config is the umbrella configuration object returned by Initialize and
// passed through the composition root. Registries are safe for concurrent
// use; the scalar sections are read-only after Initialize.
type Config struct {
	configDir string

	System     *SystemConfig
	LLM        *LLMConfig
	Workflow   *WorkflowConfig
	Validation *ValidationConfig
	Queue      *QueueConfig

	MCPServerRegistry *MCPServerRegistry
	ServiceRegistry   *ServiceRegistry
}

// Stats contains statistics about loaded configuration
type Stats struct {
	MCPServers int
	Services   int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.MCPServerRegistry != nil {
		s.MCPServers = c.MCPServerRegistry.Len()
	}
	if c.ServiceRegistry != nil {
		s.Services = c.ServiceRegistry.Len()
	}
	return s
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetMCPServer retrieves an MCP server configuration by ID.
func (c *Config) GetMCPServer(serverID string) (*MCPServerConfig, error) {
	return c.MCPServerRegistry.Get(serverID)
}

// GetService retrieves an outbound service configuration by name.
func (c *Config) GetService(name string) (*ServiceConfig, error) {
	return c.ServiceRegistry.Get(name)
}

// AllMCPServerIDs returns a sorted list of all configured MCP server IDs.
func (c *Config) AllMCPServerIDs() []string {
	return c.MCPServerRegistry.ServerIDs()
}
