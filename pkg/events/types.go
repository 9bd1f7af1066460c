// Package events carries the frames the workflow pushes to attached
// clients. The engine publishes through the Publisher interface and never
// waits on delivery; Fanout distributes frames to per-session subscribers
// and drops on the ones that fall behind. Transport (SSE, WebSocket) is
// the web layer's job, built on top of Subscribe.
package events

import "time"

// FrameType discriminates the payload of an Event.
type FrameType string

const (
	FrameStatus       FrameType = "status"
	FrameAgentMessage FrameType = "agent_message"
	FrameToolStarted  FrameType = "tool_started"
	FrameToolResult   FrameType = "tool_result"
	FrameVerification FrameType = "verification"
	FrameSummary      FrameType = "summary"
	FrameError        FrameType = "error"
	FrameDone         FrameType = "done"
)

// Event is one frame pushed to the subscribers of a session. Data holds
// the typed payload matching Type.
type Event struct {
	Type      FrameType `json:"type"`       // frame discriminator
	SessionID string    `json:"session_id"` // session the frame belongs to
	Timestamp time.Time `json:"timestamp"`  // when the frame was produced
	Data      any       `json:"data,omitempty"`
}

// Publisher is the push surface the workflow emits frames through.
// Implementations must not block: the engine treats Publish as fire and
// forget.
type Publisher interface {
	Publish(ev Event)
}

// Discard drops every frame. The engine falls back to it when no
// delivery layer is attached.
type Discard struct{}

func (Discard) Publish(Event) {}

var _ Publisher = Discard{}
