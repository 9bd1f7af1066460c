package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/maestro-agent/maestro/pkg/events"
)

// frameLog appends every published frame to a per-session JSONL file under
// the data directory. It is the process's durable trace of a run; live
// consumers subscribe to the fanout directly.
type frameLog struct {
	dir    string
	ch     <-chan events.Event
	cancel func()
	done   chan struct{}
	logger *slog.Logger
}

// newFrameLog subscribes to the fanout firehose and prepares the session
// log directory. A directory that cannot be created disables the log with
// a warning instead of failing startup.
func newFrameLog(dir string, fanout *events.Fanout) *frameLog {
	logger := slog.With("component", "frame_log")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("Session frame log disabled", "dir", dir, "error", err)
		return &frameLog{done: make(chan struct{})}
	}
	ch, cancel := fanout.SubscribeAll()
	return &frameLog{
		dir:    dir,
		ch:     ch,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Start begins draining frames. No-op when the log is disabled.
func (l *frameLog) Start() {
	if l.ch == nil {
		close(l.done)
		return
	}
	go l.run()
}

// Stop cancels the subscription and waits for buffered frames to land.
func (l *frameLog) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	<-l.done
}

func (l *frameLog) run() {
	defer close(l.done)
	for ev := range l.ch {
		l.append(ev)
	}
}

func (l *frameLog) append(ev events.Event) {
	line, err := json.Marshal(ev)
	if err != nil {
		l.logger.Warn("Could not encode frame", "frame_type", ev.Type, "error", err)
		return
	}

	path := filepath.Join(l.dir, sessionFileName(ev.SessionID))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.logger.Warn("Could not append session frame", "path", path, "error", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		l.logger.Warn("Could not append session frame", "path", path, "error", err)
	}
}

// sessionFileName maps a session id to a safe file name. Session ids are
// normally UUIDs, but callers may supply their own, so anything outside a
// conservative character set is replaced.
func sessionFileName(sessionID string) string {
	if sessionID == "" {
		sessionID = "unknown"
	}
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, sessionID)
	return safe + ".jsonl"
}
