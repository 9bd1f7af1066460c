package history

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// journalRecord is the JSONL shape of one entry.
type journalRecord struct {
	Server     string    `json:"server"`
	Tool       string    `json:"tool"`
	ParamsHash string    `json:"params_hash"`
	Success    bool      `json:"success"`
	DurationMs int64     `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
	Error      string    `json:"error,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
}

// Journal appends history entries to a JSONL file. Append failures are
// logged and dropped; the journal is an audit trail, not a dependency of
// the execution path.
type Journal struct {
	mu     sync.Mutex
	file   *os.File
	logger *slog.Logger
}

// OpenJournal opens (creating if needed) the journal file for appending.
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal %s: %w", path, err)
	}
	return &Journal{
		file:   f,
		logger: slog.With("component", "history_journal", "path", path),
	}, nil
}

// Append writes one entry as a JSON line.
func (j *Journal) Append(e Entry) {
	rec := journalRecord{
		Server:     e.Server,
		Tool:       e.Tool,
		ParamsHash: e.ParamsHash,
		Success:    e.Success,
		DurationMs: e.Duration.Milliseconds(),
		Timestamp:  e.Timestamp,
		Error:      e.Error,
		SessionID:  e.SessionID,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		j.logger.Error("Failed to marshal journal entry", "error", err)
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return
	}
	if _, err := j.file.Write(append(line, '\n')); err != nil {
		j.logger.Error("Failed to append journal entry", "error", err)
	}
}

// Close flushes and closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}
