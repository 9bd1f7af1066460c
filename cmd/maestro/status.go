package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether maestro is running",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	path := pidfilePath(dataDirectory())

	pid, err := readPidfile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cmd.Println("maestro is not running")
	case err != nil:
		return err
	case processAlive(pid):
		cmd.Printf("maestro is running (pid %d)\n", pid)
	default:
		cmd.Printf("maestro is not running (stale pidfile %s)\n", path)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
