package config

import (
	"os"
	"path/filepath"
)

// Environment variables for file locations.
const (
	EnvConfigDir = "MAESTRO_CONFIG"
	EnvDataDir   = "MAESTRO_DATA_DIR"
)

// SystemConfig groups process-wide infrastructure settings.
type SystemConfig struct {
	// DataDir holds the transient files: pidfile, per-session logs, the
	// advisory catalog cache, and the history journal.
	DataDir string `yaml:"data_dir,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level,omitempty"`

	// HistoryJournal enables the append-only JSONL journal of tool
	// executions under DataDir.
	HistoryJournal bool `yaml:"history_journal,omitempty"`

	// CatalogCache enables the advisory on-disk tool catalog cache.
	CatalogCache bool `yaml:"catalog_cache,omitempty"`
}

// DefaultSystemConfig returns the built-in system defaults.
func DefaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		DataDir:  defaultDataDir(),
		LogLevel: "info",
	}
}

// ApplyEnv overlays MAESTRO_DATA_DIR onto the config.
func (c *SystemConfig) ApplyEnv() {
	if v := os.Getenv(EnvDataDir); v != "" {
		c.DataDir = v
	}
}

func defaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".maestro")
	}
	return filepath.Join(os.TempDir(), "maestro")
}

// ConfigDirFromEnv resolves the configuration directory: MAESTRO_CONFIG if
// set, otherwise the given fallback.
func ConfigDirFromEnv(fallback string) string {
	if v := os.Getenv(EnvConfigDir); v != "" {
		return v
	}
	return fallback
}
