package main

import (
	"github.com/spf13/cobra"
)

var flagInteractive bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the orchestrator in the foreground",
	Long: `Start loads the configuration, spawns the configured MCP servers, and runs
the worker pool until SIGTERM or SIGINT. A required MCP server failing its
startup handshake aborts the whole start.

With --interactive, start also attaches a prompt to the running
orchestrator: each line is submitted as a request and its progress frames
render inline. Shutdown is staged either way: the queue stops accepting
work, active turns get the graceful shutdown budget to finish, then the
MCP servers are torn down.`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	return runApp(cmd.Context(), flagInteractive)
}

func init() {
	rootCmd.AddCommand(startCmd)
	startCmd.Flags().BoolVarP(&flagInteractive, "interactive", "i", false,
		"attach an interactive prompt to the running orchestrator")
	restartCmd.Flags().BoolVarP(&flagInteractive, "interactive", "i", false,
		"attach an interactive prompt to the restarted orchestrator")
}
