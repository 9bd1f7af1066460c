package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the single YAML file the loader reads from the config
// directory.
const ConfigFileName = "maestro.yaml"

// MaestroYAMLConfig represents the complete maestro.yaml file structure
type MaestroYAMLConfig struct {
	System     *SystemConfig             `yaml:"system"`
	LLM        *LLMConfig                `yaml:"llm"`
	Workflow   *WorkflowConfig           `yaml:"workflow"`
	Validation *ValidationConfig         `yaml:"validation"`
	Queue      *QueueConfig              `yaml:"queue"`
	MCPServers map[string]MCPServerConfig `yaml:"mcp_servers"`
	Services   map[string]*ServiceConfig `yaml:"services"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load maestro.yaml from configDir
//  2. Expand environment variables
//  3. Merge built-in + user-defined configurations
//  4. Overlay recognized environment variables (env wins)
//  5. Build in-memory registries
//  6. Validate all configuration
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"mcp_servers", stats.MCPServers,
		"services", stats.Services)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	fileCfg, err := loader.loadMaestroYAML()
	if err != nil {
		return nil, NewLoadError(ConfigFileName, err)
	}

	builtin := GetBuiltinConfig()

	// Merge built-in + user-defined components (user overrides built-in)
	mcpServers := mergeMCPServers(builtin.MCPServers, fileCfg.MCPServers)
	services := mergeServices(builtin.Services, fileCfg.Services)

	// Resolve scalar sections: defaults first, user YAML merged on top so
	// unset fields keep their defaults.
	system := DefaultSystemConfig()
	if fileCfg.System != nil {
		if err := mergo.Merge(system, fileCfg.System, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge system config: %w", err)
		}
	}
	llm := DefaultLLMConfig()
	if fileCfg.LLM != nil {
		if err := mergo.Merge(llm, fileCfg.LLM, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge llm config: %w", err)
		}
	}
	workflow := DefaultWorkflowConfig()
	if fileCfg.Workflow != nil {
		if err := mergo.Merge(workflow, fileCfg.Workflow, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge workflow config: %w", err)
		}
	}
	validation := DefaultValidationConfig()
	if fileCfg.Validation != nil {
		if err := mergo.Merge(validation, fileCfg.Validation, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge validation config: %w", err)
		}
	}
	queue := DefaultQueueConfig()
	if fileCfg.Queue != nil {
		if err := mergo.Merge(queue, fileCfg.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge queue config: %w", err)
		}
	}

	// Environment wins over the file for the recognized variables.
	system.ApplyEnv()
	llm.ApplyEnv()
	validation.ApplyEnv()

	return &Config{
		configDir:         configDir,
		System:            system,
		LLM:               llm,
		Workflow:          workflow,
		Validation:        validation,
		Queue:             queue,
		MCPServerRegistry: NewMCPServerRegistry(mcpServers),
		ServiceRegistry:   NewServiceRegistry(services),
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// ExpandEnv passes the original data through on template errors so the
	// YAML parser produces the clearer message.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

func (l *configLoader) loadMaestroYAML() (*MaestroYAMLConfig, error) {
	var config MaestroYAMLConfig

	// Initialize maps to avoid nil maps
	config.MCPServers = make(map[string]MCPServerConfig)
	config.Services = make(map[string]*ServiceConfig)

	if err := l.loadYAML(ConfigFileName, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// mergeMCPServers merges built-in and user-defined MCP server configurations.
// User-defined servers override built-in servers with the same ID.
func mergeMCPServers(builtinServers map[string]MCPServerConfig, userServers map[string]MCPServerConfig) map[string]*MCPServerConfig {
	result := make(map[string]*MCPServerConfig)

	for id, server := range builtinServers {
		serverCopy := server
		result[id] = &serverCopy
	}
	for id, userServer := range userServers {
		serverCopy := userServer
		result[id] = &serverCopy
	}
	return result
}

// mergeServices merges built-in and user-defined service configurations.
// User YAML only needs the fields it overrides; the rest keep defaults.
func mergeServices(builtinServices map[string]*ServiceConfig, userServices map[string]*ServiceConfig) map[string]*ServiceConfig {
	result := make(map[string]*ServiceConfig)

	for name, svc := range builtinServices {
		svcCopy := *svc
		result[name] = &svcCopy
	}
	for name, userSvc := range userServices {
		if userSvc == nil {
			continue
		}
		base, ok := result[name]
		if !ok {
			d := DefaultServiceConfig()
			base = d
			result[name] = base
		}
		if err := mergo.Merge(base, userSvc, mergo.WithOverride); err != nil {
			slog.Warn("Failed to merge service config, keeping defaults", "service", name, "error", err)
		}
	}
	return result
}
