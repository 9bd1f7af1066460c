package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/maestro-agent/maestro/pkg/config"
	"github.com/maestro-agent/maestro/pkg/version"
)

// Exit codes, stable for scripting and service managers.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeInternal indicates an internal error: invalid configuration,
	// a failed startup stage, a required MCP server that would not come up.
	ExitCodeInternal = 2
	// ExitCodePermission indicates missing OS permissions on the pidfile,
	// the data directory, or a server spawn.
	ExitCodePermission = 3
)

var (
	// flagConfigDir overrides the configuration directory. Empty means
	// MAESTRO_CONFIG or ./config.
	flagConfigDir string

	// flagDataDir overrides the data directory for the pidfile and the
	// other transient files. Empty means the configured or default one.
	flagDataDir string
)

var rootCmd = &cobra.Command{
	Use:   "maestro",
	Short: "Orchestrate verified tool invocations over MCP servers",
	Long: `maestro runs user requests through a planning, validation, and execution
workflow against locally spawned MCP stdio servers.

The start command runs the orchestrator in the foreground; stop, status,
and restart control a running instance through its pidfile.`,
	Version: version.GitCommit,
	// SilenceUsage keeps handled errors from dumping the usage text.
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "maestro version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the documented exit codes. Anything wrapping
// os.ErrPermission reports as a permission failure, the rest as internal.
func exitCode(err error) int {
	if errors.Is(err, os.ErrPermission) {
		return ExitCodePermission
	}
	return ExitCodeInternal
}

// configDirectory resolves the configuration directory: the --config-dir
// flag when set, otherwise MAESTRO_CONFIG, otherwise ./config.
func configDirectory() string {
	if flagConfigDir != "" {
		return flagConfigDir
	}
	return config.ConfigDirFromEnv("./config")
}

// dataDirectory resolves the data directory for commands that must not
// depend on a loadable configuration: the --data-dir flag when set,
// otherwise MAESTRO_DATA_DIR, otherwise the built-in default. start uses
// the fully loaded configuration instead, with the flag still winning.
func dataDirectory() string {
	if flagDataDir != "" {
		return flagDataDir
	}
	sys := config.DefaultSystemConfig()
	sys.ApplyEnv()
	return sys.DataDir
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "",
		"configuration directory (default $MAESTRO_CONFIG or ./config)")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "",
		"data directory for the pidfile and transient files (default $MAESTRO_DATA_DIR or ~/.maestro)")
}
