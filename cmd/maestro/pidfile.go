package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// pidFileName is the pidfile's name under the data directory.
const pidFileName = "maestro.pid"

func pidfilePath(dataDir string) string {
	return filepath.Join(dataDir, pidFileName)
}

// writePidfile records the current process id under dataDir, creating the
// directory if needed. It refuses to overwrite a pidfile whose process is
// still alive and silently replaces a stale one.
func writePidfile(dataDir string) (string, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	path := pidfilePath(dataDir)
	if pid, err := readPidfile(path); err == nil && processAlive(pid) {
		return "", fmt.Errorf("maestro is already running (pid %d, pidfile %s)", pid, path)
	}
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(path, []byte(pid+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write pidfile: %w", err)
	}
	return path, nil
}

// readPidfile parses the pid recorded at path.
func readPidfile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	text := strings.TrimSpace(string(raw))
	pid, err := strconv.Atoi(text)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed pidfile %s: %q", path, text)
	}
	return pid, nil
}

// removePidfile deletes the pidfile. A missing file is not an error: the
// process being stopped removes its own pidfile on a clean exit.
func removePidfile(path string) error {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// processAlive reports whether a process with the given pid exists.
// Signal 0 probes existence without delivering anything; EPERM means the
// process exists but belongs to another user.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

// terminate sends SIGTERM to pid and polls until the process exits or the
// timeout elapses.
func terminate(pid int, timeout time.Duration) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("signal process %d: %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("process %d did not exit within %s", pid, timeout)
}
