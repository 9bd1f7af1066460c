package e2e

import (
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-agent/maestro/pkg/events"
	"github.com/maestro-agent/maestro/pkg/models"
)

func playwrightApp(t *testing.T) *TestApp {
	t.Helper()
	return NewTestApp(t,
		WithMCPServer("playwright", map[string]mcpsdk.ToolHandler{
			"browser_navigate": StaticToolHandler("navigated to https://example.com"),
			"browser_click":    StaticToolHandler("clicked #submit"),
		}),
	)
}

func scriptNavigationTask(app *TestApp, plannedTool string) {
	app.LLM.ExpectText("mode_selection",
		`{"mode":"task","reason":"browser work"}`)
	app.LLM.ExpectText("todo_planning",
		`{"analysis":"open the page","items":[{"id":"item_1","action":"Open example.com","depends_on":[],"tts_phrases":[]}]}`)
	app.LLM.ExpectText("server_selection",
		`{"servers":["playwright"],"prompts":[],"reason":"browser automation"}`)
	app.LLM.ExpectText("tool_planning",
		`{"tool_calls":[{"server":"playwright","tool":"`+plannedTool+`","parameters":{"url":"https://example.com"}}],"tts_phrases":[]}`)
}

// The planner often emits the bare wire name without the server prefix;
// validation must repair it and execution must use the canonical name.
func TestToolNamePrefixRepair(t *testing.T) {
	app := playwrightApp(t)
	scriptNavigationTask(app, "browser_navigate")
	app.LLM.ExpectText("verification",
		`{"verified":true,"reason":"page opened","suggestions":[]}`)
	app.LLM.ExpectText("final_summary", "Opened example.com.")

	frames := app.RunTurn(t, "e2e-prefix", "open example.com")

	starts := toolStarts(frames)
	require.Len(t, starts, 1)
	assert.Equal(t, "playwright", starts[0].Server)
	assert.Equal(t, "playwright__browser_navigate", starts[0].Tool)

	results := toolResults(frames)
	require.Len(t, results, 1)
	assert.False(t, results[0].IsError)
	assert.Contains(t, results[0].Text, "navigated to")

	require.False(t, doneFrame(t, frames).Aborted)
	assert.Equal(t, models.ItemCompleted, app.Session(t, "e2e-prefix").Todo.Items[0].Status)
}

// A near-miss spelling within the similarity threshold is corrected to the
// closest advertised tool instead of failing the plan.
func TestToolNameFuzzyRepair(t *testing.T) {
	app := playwrightApp(t)
	scriptNavigationTask(app, "playwright__browser_navigat")
	app.LLM.ExpectText("verification",
		`{"verified":true,"reason":"page opened","suggestions":[]}`)
	app.LLM.ExpectText("final_summary", "Opened example.com.")

	frames := app.RunTurn(t, "e2e-fuzzy", "open example.com")

	starts := toolStarts(frames)
	require.Len(t, starts, 1)
	assert.Equal(t, "playwright__browser_navigate", starts[0].Tool)

	require.False(t, doneFrame(t, frames).Aborted)
	assert.Equal(t, models.ItemCompleted, app.Session(t, "e2e-fuzzy").Todo.Items[0].Status)
}

// A tool nothing on the fleet resembles must be rejected, fail the item's
// verification without consulting the verifier, and let replan skip it.
func TestUnknownToolRejected(t *testing.T) {
	app := playwrightApp(t)
	scriptNavigationTask(app, "playwright__teleport")
	app.LLM.ExpectText("replan",
		`{"action":"skip_and_continue","reason":"no such capability on this fleet","new_items":[]}`)
	app.LLM.ExpectText("final_summary", "Could not open the page: the planned tool does not exist.")

	frames := app.RunTurn(t, "e2e-reject", "open example.com")

	assertNoFrame(t, frames, wantFrame{Type: events.FrameToolStarted})

	assertFrameSequence(t, frames, []wantFrame{
		{Type: events.FrameStatus, State: "TOOL_PLANNING"},
		{Type: events.FrameStatus, State: "VERIFICATION"},
		{Type: events.FrameVerification, ItemID: "item_1", Verified: boolPtr(false), Contains: "plan rejected"},
		{Type: events.FrameStatus, State: "REPLAN", ItemID: "item_1", Detail: "skipped: no such capability"},
		{Type: events.FrameSummary},
		{Type: events.FrameDone, State: "WORKFLOW_END", Aborted: boolPtr(false)},
	})

	verdicts := verifications(frames)
	require.Len(t, verdicts, 1)
	assert.Contains(t, verdicts[0].Reason, `tool "playwright__teleport" does not exist on server "playwright"`)

	// The reject came from the pipeline, not the reviewer.
	assert.Equal(t, 0, app.LLM.CallCount("verification"))
	assert.Equal(t, 1, app.LLM.CallCount("replan"))

	summary := summaryFrame(t, frames)
	assert.Equal(t, 1, summary.Counts[string(models.ItemSkipped)])
	assert.Equal(t, models.ItemSkipped, app.Session(t, "e2e-reject").Todo.Items[0].Status)
}
