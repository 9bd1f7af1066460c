package main

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var flagStopTimeout time.Duration

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running maestro instance",
	Long: `Stop sends SIGTERM to the process named in the pidfile and waits for it
to exit. The running instance finishes its active turns within its
graceful shutdown budget before terminating.`,
	RunE: runStop,
}

func runStop(cmd *cobra.Command, args []string) error {
	path := pidfilePath(dataDirectory())

	pid, err := readPidfile(path)
	if errors.Is(err, os.ErrNotExist) {
		cmd.Println("maestro is not running")
		return nil
	}
	if err != nil {
		return err
	}

	if !processAlive(pid) {
		if err := removePidfile(path); err != nil {
			return err
		}
		cmd.Printf("maestro is not running, removed stale pidfile %s\n", path)
		return nil
	}

	if err := terminate(pid, flagStopTimeout); err != nil {
		return err
	}
	if err := removePidfile(path); err != nil {
		return err
	}
	cmd.Printf("maestro stopped (pid %d)\n", pid)
	return nil
}

func init() {
	rootCmd.AddCommand(stopCmd)
	stopCmd.Flags().DurationVar(&flagStopTimeout, "timeout", 45*time.Second,
		"how long to wait for the process to exit")
}
