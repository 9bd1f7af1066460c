package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-agent/maestro/pkg/events"
)

func TestFrameLogWritesPerSessionFiles(t *testing.T) {
	dir := t.TempDir()
	fanout := events.NewFanout(8)
	defer fanout.Close()

	fl := newFrameLog(dir, fanout)
	fl.Start()

	fanout.Publish(events.AgentMessage("sess-a", "hello"))
	fanout.Publish(events.Status("sess-a", "PLANNING", ""))
	fanout.Publish(events.AgentMessage("sess-b", "elsewhere"))

	// Stop drains buffered frames before returning.
	fl.Stop()

	raw, err := os.ReadFile(filepath.Join(dir, "sess-a.jsonl"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 2)

	var ev events.Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ev))
	assert.Equal(t, events.FrameAgentMessage, ev.Type)
	assert.Equal(t, "sess-a", ev.SessionID)

	rawB, err := os.ReadFile(filepath.Join(dir, "sess-b.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(rawB), "\n"))
}

func TestFrameLogStopAfterFanoutClose(t *testing.T) {
	dir := t.TempDir()
	fanout := events.NewFanout(8)

	fl := newFrameLog(dir, fanout)
	fl.Start()

	fanout.Publish(events.AgentMessage("sess", "one"))
	fanout.Close()
	fl.Stop()

	_, err := os.Stat(filepath.Join(dir, "sess.jsonl"))
	assert.NoError(t, err)
}

func TestFrameLogDisabledWhenDirUncreatable(t *testing.T) {
	// A file where the directory should be makes MkdirAll fail.
	base := t.TempDir()
	blocked := filepath.Join(base, "taken")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0o644))

	fanout := events.NewFanout(8)
	defer fanout.Close()

	fl := newFrameLog(filepath.Join(blocked, "sessions"), fanout)
	fl.Start()
	fl.Stop() // must not hang or panic
}

func TestSessionFileName(t *testing.T) {
	assert.Equal(t, "ab-12_x.y.jsonl", sessionFileName("ab-12_x.y"))
	assert.Equal(t, "unknown.jsonl", sessionFileName(""))
	assert.Equal(t, "_.jsonl", sessionFileName("/"))
	assert.Equal(t, "_etc_passwd.jsonl", sessionFileName("/etc/passwd"))
	assert.Equal(t, "a_b_c.jsonl", sessionFileName("a b\tc"))
}
