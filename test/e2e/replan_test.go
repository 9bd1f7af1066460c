package e2e

import (
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-agent/maestro/pkg/events"
	"github.com/maestro-agent/maestro/pkg/models"
)

// A retry decision re-runs the full cycle once; the second failure
// exhausts the per-item budget and fails the item instead of looping.
func TestReplanRetryExhaustsBudget(t *testing.T) {
	app := NewTestApp(t,
		WithMCPServer("notes", map[string]mcpsdk.ToolHandler{
			"append": ErrorToolHandler("disk full"),
		}),
	)

	app.LLM.ExpectText("mode_selection",
		`{"mode":"task","reason":"note keeping"}`)
	app.LLM.ExpectText("todo_planning",
		`{"analysis":"one append","items":[{"id":"item_1","action":"Append today's entry","depends_on":[],"tts_phrases":[]}]}`)
	app.LLM.Always("server_selection",
		`{"servers":["notes"],"prompts":[],"reason":"notes live there"}`)
	app.LLM.Always("tool_planning",
		`{"tool_calls":[{"server":"notes","tool":"notes__append","parameters":{"text":"today"}}],"tts_phrases":[]}`)
	app.LLM.Always("verification",
		`{"verified":false,"reason":"the entry was not appended","suggestions":[]}`)
	app.LLM.Always("replan",
		`{"action":"retry","reason":"could be transient","new_items":[]}`)
	app.LLM.ExpectText("final_summary",
		"Could not append the entry: the notes backend keeps failing.")

	frames := app.RunTurn(t, "e2e-retry-budget", "append today's entry")

	// Two full cycles: the original attempt and the single granted retry.
	starts := toolStarts(frames)
	require.Len(t, starts, 2)
	results := toolResults(frames)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.True(t, res.IsError)
		assert.Contains(t, res.Text, "disk full")
	}

	assertFrameSequence(t, frames, []wantFrame{
		{Type: events.FrameStatus, State: "ITEM_LOOP", ItemID: "item_1", Detail: "working:"},
		{Type: events.FrameVerification, ItemID: "item_1", Verified: boolPtr(false)},
		{Type: events.FrameStatus, State: "REPLAN", ItemID: "item_1", Detail: "retrying, attempt 1 of 1"},
		{Type: events.FrameStatus, State: "ITEM_LOOP", ItemID: "item_1", Detail: "working:"},
		{Type: events.FrameVerification, ItemID: "item_1", Verified: boolPtr(false)},
		{Type: events.FrameStatus, State: "REPLAN", ItemID: "item_1", Detail: "failed: retry budget exhausted"},
		{Type: events.FrameSummary},
		{Type: events.FrameDone, State: "WORKFLOW_END", Aborted: boolPtr(false)},
	})

	assert.Equal(t, 2, app.LLM.CallCount("verification"))
	assert.Equal(t, 2, app.LLM.CallCount("replan"))
	assert.Equal(t, 2, app.LLM.CallCount("tool_planning"))

	summary := summaryFrame(t, frames)
	assert.Equal(t, 1, summary.Counts[string(models.ItemFailed)])

	sess := app.Session(t, "e2e-retry-budget")
	require.Len(t, sess.Todo.Items, 1)
	assert.Equal(t, models.ItemFailed, sess.Todo.Items[0].Status)
	assert.False(t, sess.Aborted)
}

// A new-items decision retires the failed item and splices its
// replacements into the todo, which then run to completion.
func TestReplanReplacesFailedItem(t *testing.T) {
	app := NewTestApp(t,
		WithMCPServer("notes", map[string]mcpsdk.ToolHandler{
			"create_note": StaticToolHandler("created note trip"),
			"append_note": StaticToolHandler("appended to trip"),
		}),
	)

	app.LLM.ExpectText("mode_selection",
		`{"mode":"task","reason":"note keeping"}`)
	app.LLM.ExpectText("todo_planning",
		`{"analysis":"append to the trip note","items":[{"id":"item_1","action":"Append to the trip note","depends_on":[],"tts_phrases":[]}]}`)
	app.LLM.Always("server_selection",
		`{"servers":["notes"],"prompts":[],"reason":"notes live there"}`)
	app.LLM.ExpectText("tool_planning",
		`{"tool_calls":[{"server":"notes","tool":"notes__append_note","parameters":{"note":"trip"}}],"tts_phrases":[]}`,
		`{"tool_calls":[{"server":"notes","tool":"notes__create_note","parameters":{"note":"trip"}}],"tts_phrases":[]}`,
		`{"tool_calls":[{"server":"notes","tool":"notes__append_note","parameters":{"note":"trip","text":"packing list"}}],"tts_phrases":[]}`)
	app.LLM.ExpectText("verification",
		`{"verified":false,"reason":"there is no trip note yet","suggestions":["create the note first"]}`,
		`{"verified":true,"reason":"note created","suggestions":[]}`,
		`{"verified":true,"reason":"entry appended","suggestions":[]}`)
	app.LLM.ExpectText("replan",
		`{"action":"new_items","reason":"the note must exist before appending","new_items":[`+
			`{"id":"item_1a","action":"Create the trip note","depends_on":[],"tts_phrases":[]},`+
			`{"id":"item_1b","action":"Append the packing list","depends_on":["item_1a"],"tts_phrases":[]}]}`)
	app.LLM.ExpectText("final_summary",
		"Created the trip note and appended the packing list.")

	frames := app.RunTurn(t, "e2e-replace", "add the packing list to my trip note")

	assertFrameSequence(t, frames, []wantFrame{
		{Type: events.FrameStatus, State: "ITEM_LOOP", ItemID: "item_1", Detail: "working:"},
		{Type: events.FrameVerification, ItemID: "item_1", Verified: boolPtr(false)},
		{Type: events.FrameStatus, State: "REPLAN", ItemID: "item_1", Detail: "replaced by 2 new items"},
		{Type: events.FrameStatus, State: "ITEM_LOOP", ItemID: "item_1a", Detail: "working:"},
		{Type: events.FrameToolStarted, ItemID: "item_1a", Tool: "notes__create_note"},
		{Type: events.FrameStatus, State: "VERIFICATION", ItemID: "item_1a", Detail: "item completed"},
		{Type: events.FrameStatus, State: "ITEM_LOOP", ItemID: "item_1b", Detail: "working:"},
		{Type: events.FrameToolStarted, ItemID: "item_1b", Tool: "notes__append_note"},
		{Type: events.FrameStatus, State: "VERIFICATION", ItemID: "item_1b", Detail: "item completed"},
		{Type: events.FrameSummary},
		{Type: events.FrameDone, State: "WORKFLOW_END", Aborted: boolPtr(false)},
	})

	assert.Equal(t, 1, app.LLM.CallCount("replan"))
	assert.Equal(t, 3, app.LLM.CallCount("verification"))
	assert.Equal(t, 3, app.LLM.CallCount("tool_planning"))

	summary := summaryFrame(t, frames)
	assert.Equal(t, 2, summary.Counts[string(models.ItemCompleted)])
	assert.Equal(t, 1, summary.Counts[string(models.ItemReplanned)])

	sess := app.Session(t, "e2e-replace")
	require.Len(t, sess.Todo.Items, 3)
	assert.Equal(t, models.ItemReplanned, sess.Todo.Get("item_1").Status)
	for _, id := range []string{"item_1a", "item_1b"} {
		item := sess.Todo.Get(id)
		require.NotNil(t, item, "item %s missing", id)
		assert.Equal(t, models.ItemCompleted, item.Status)
		assert.Equal(t, "item_1", item.ReplannedFrom)
	}
}
