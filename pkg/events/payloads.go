package events

import (
	"time"

	"github.com/maestro-agent/maestro/pkg/models"
)

// StatusPayload reports workflow progress: the state just entered, or a
// progress note from inside a state.
type StatusPayload struct {
	State      string   `json:"state"`                 // workflow state name
	Detail     string   `json:"detail,omitempty"`      // human-readable progress note
	ItemID     string   `json:"item_id,omitempty"`     // set for item-scoped progress
	TTSPhrases []string `json:"tts_phrases,omitempty"` // short spoken-progress lines from the planner
}

// AgentMessagePayload is conversational output addressed to the user.
type AgentMessagePayload struct {
	Message string `json:"message"`
}

// ToolStartedPayload announces one tool invocation about to run.
type ToolStartedPayload struct {
	ItemID     string         `json:"item_id,omitempty"`
	Server     string         `json:"server"`
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ToolResultPayload reports the outcome of one tool invocation. Text is
// already truncated and masked.
type ToolResultPayload struct {
	ItemID   string        `json:"item_id,omitempty"`
	Server   string        `json:"server"`
	Tool     string        `json:"tool"`
	Text     string        `json:"text,omitempty"`
	IsError  bool          `json:"is_error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// VerificationPayload carries the verifier's verdict for one item.
type VerificationPayload struct {
	ItemID      string   `json:"item_id"`
	Verified    bool     `json:"verified"`
	Reason      string   `json:"reason,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// SummaryPayload is the end-of-run digest. Counts maps item status to how
// many items finished in it.
type SummaryPayload struct {
	Summary string         `json:"summary"`
	Counts  map[string]int `json:"counts,omitempty"`
}

// ErrorPayload reports a workflow abort. Kind is stable and machine
// readable; Message is for humans.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// DonePayload closes a turn's frame stream.
type DonePayload struct {
	State   string `json:"state"` // workflow state at close
	Aborted bool   `json:"aborted,omitempty"`
}

// New builds a frame with the timestamp set. Prefer the typed
// constructors below.
func New(sessionID string, typ FrameType, data any) Event {
	return Event{Type: typ, SessionID: sessionID, Timestamp: time.Now(), Data: data}
}

// Status reports arrival at a workflow state.
func Status(sessionID, state, detail string) Event {
	return New(sessionID, FrameStatus, StatusPayload{State: state, Detail: detail})
}

// ItemStatus reports item-scoped progress inside a state.
func ItemStatus(sessionID, itemID, state, detail string) Event {
	return New(sessionID, FrameStatus, StatusPayload{State: state, Detail: detail, ItemID: itemID})
}

// AgentMessage carries conversational output to the user.
func AgentMessage(sessionID, message string) Event {
	return New(sessionID, FrameAgentMessage, AgentMessagePayload{Message: message})
}

// ToolStarted announces a call about to execute.
func ToolStarted(sessionID, itemID string, call models.ToolCall) Event {
	return New(sessionID, FrameToolStarted, ToolStartedPayload{
		ItemID:     itemID,
		Server:     call.Server,
		Tool:       call.Tool,
		Parameters: call.Parameters,
	})
}

// ToolResult reports a finished call.
func ToolResult(sessionID, itemID string, result models.ToolResult) Event {
	return New(sessionID, FrameToolResult, ToolResultPayload{
		ItemID:   itemID,
		Server:   result.Call.Server,
		Tool:     result.Call.Tool,
		Text:     result.Text,
		IsError:  result.IsError,
		Duration: result.Duration,
	})
}

// Verification carries the verdict for one item.
func Verification(sessionID, itemID string, v models.Verification) Event {
	return New(sessionID, FrameVerification, VerificationPayload{
		ItemID:      itemID,
		Verified:    v.Verified,
		Reason:      v.Reason,
		Suggestions: v.Suggestions,
	})
}

// Summary carries the end-of-run digest.
func Summary(sessionID, summary string, counts map[models.ItemStatus]int) Event {
	var out map[string]int
	if len(counts) > 0 {
		out = make(map[string]int, len(counts))
		for status, n := range counts {
			out[string(status)] = n
		}
	}
	return New(sessionID, FrameSummary, SummaryPayload{Summary: summary, Counts: out})
}

// Error reports a workflow abort with its machine-readable kind.
func Error(sessionID, kind, message string) Event {
	return New(sessionID, FrameError, ErrorPayload{Kind: kind, Message: message})
}

// Done closes the turn's stream.
func Done(sessionID, state string, aborted bool) Event {
	return New(sessionID, FrameDone, DonePayload{State: state, Aborted: aborted})
}
