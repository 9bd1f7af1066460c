package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-agent/maestro/pkg/models"
)

func TestToolResultFrame(t *testing.T) {
	result := models.ToolResult{
		Call: models.ToolCall{
			Server:     "filesystem",
			Tool:       "filesystem__read_file",
			Parameters: map[string]any{"path": "/tmp/notes.txt"},
		},
		Text:     "contents",
		Duration: 120 * time.Millisecond,
	}

	ev := ToolResult("sess-1", "item_1", result)

	assert.Equal(t, FrameToolResult, ev.Type)
	assert.Equal(t, "sess-1", ev.SessionID)
	assert.False(t, ev.Timestamp.IsZero())

	payload, ok := ev.Data.(ToolResultPayload)
	require.True(t, ok)
	assert.Equal(t, "item_1", payload.ItemID)
	assert.Equal(t, "filesystem", payload.Server)
	assert.Equal(t, "filesystem__read_file", payload.Tool)
	assert.Equal(t, "contents", payload.Text)
	assert.False(t, payload.IsError)
	assert.Equal(t, 120*time.Millisecond, payload.Duration)
}

func TestSummaryFrameCounts(t *testing.T) {
	ev := Summary("sess-1", "all done", map[models.ItemStatus]int{
		models.ItemCompleted: 2,
		models.ItemSkipped:   1,
	})

	payload, ok := ev.Data.(SummaryPayload)
	require.True(t, ok)
	assert.Equal(t, "all done", payload.Summary)
	assert.Equal(t, map[string]int{"completed": 2, "skipped": 1}, payload.Counts)
}

func TestVerificationFrame(t *testing.T) {
	ev := Verification("sess-1", "item_2", models.Verification{
		Verified:    false,
		Reason:      "file was not created",
		Suggestions: []string{"check the directory exists first"},
	})

	payload, ok := ev.Data.(VerificationPayload)
	require.True(t, ok)
	assert.Equal(t, "item_2", payload.ItemID)
	assert.False(t, payload.Verified)
	assert.Equal(t, "file was not created", payload.Reason)
	assert.Equal(t, []string{"check the directory exists first"}, payload.Suggestions)
}

func TestFrameJSONShape(t *testing.T) {
	ev := Error("sess-1", "handler_timeout", "handler TOOL_PLANNING exceeded its 30s timeout")

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "error", decoded["type"])
	assert.Equal(t, "sess-1", decoded["session_id"])

	data, ok := decoded["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "handler_timeout", data["kind"])
	assert.Contains(t, data["message"], "TOOL_PLANNING")
}

func TestDoneFrame(t *testing.T) {
	ev := Done("sess-1", "WORKFLOW_END", false)
	payload, ok := ev.Data.(DonePayload)
	require.True(t, ok)
	assert.Equal(t, "WORKFLOW_END", payload.State)
	assert.False(t, payload.Aborted)
}
