package main

import (
	"time"

	"github.com/spf13/cobra"
)

var flagRestartTimeout time.Duration

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Stop a running instance and start a new one in the foreground",
	RunE:  runRestart,
}

func runRestart(cmd *cobra.Command, args []string) error {
	path := pidfilePath(dataDirectory())

	if pid, err := readPidfile(path); err == nil && processAlive(pid) {
		if err := terminate(pid, flagRestartTimeout); err != nil {
			return err
		}
		if err := removePidfile(path); err != nil {
			return err
		}
		cmd.Printf("stopped previous instance (pid %d)\n", pid)
	}

	return runStart(cmd, args)
}

func init() {
	rootCmd.AddCommand(restartCmd)
	restartCmd.Flags().DurationVar(&flagRestartTimeout, "timeout", 45*time.Second,
		"how long to wait for the previous instance to exit")
}
