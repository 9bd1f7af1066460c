package e2e

import (
	"fmt"
	"strings"
	"testing"

	"github.com/maestro-agent/maestro/pkg/events"
)

// wantFrame describes one expected frame. Zero-valued fields are not
// checked. State, ItemID, Server, and Tool match exactly; Detail, Kind,
// and Contains match as substrings of the payload's text.
type wantFrame struct {
	Type     events.FrameType
	State    string
	Detail   string
	ItemID   string
	Server   string
	Tool     string
	Kind     string
	Contains string
	Verified *bool
	IsError  *bool
	Aborted  *bool
}

func boolPtr(b bool) *bool { return &b }

func (w wantFrame) String() string {
	parts := []string{string(w.Type)}
	add := func(k, v string) {
		if v != "" {
			parts = append(parts, fmt.Sprintf("%s=%q", k, v))
		}
	}
	add("state", w.State)
	add("detail", w.Detail)
	add("item", w.ItemID)
	add("server", w.Server)
	add("tool", w.Tool)
	add("kind", w.Kind)
	add("contains", w.Contains)
	if w.Verified != nil {
		parts = append(parts, fmt.Sprintf("verified=%t", *w.Verified))
	}
	if w.IsError != nil {
		parts = append(parts, fmt.Sprintf("is_error=%t", *w.IsError))
	}
	if w.Aborted != nil {
		parts = append(parts, fmt.Sprintf("aborted=%t", *w.Aborted))
	}
	return strings.Join(parts, " ")
}

func matchFrame(ev events.Event, w wantFrame) bool {
	if ev.Type != w.Type {
		return false
	}
	switch data := ev.Data.(type) {
	case events.StatusPayload:
		return (w.State == "" || data.State == w.State) &&
			(w.ItemID == "" || data.ItemID == w.ItemID) &&
			strings.Contains(data.Detail, w.Detail)
	case events.AgentMessagePayload:
		return strings.Contains(data.Message, w.Contains)
	case events.ToolStartedPayload:
		return (w.Server == "" || data.Server == w.Server) &&
			(w.Tool == "" || data.Tool == w.Tool) &&
			(w.ItemID == "" || data.ItemID == w.ItemID)
	case events.ToolResultPayload:
		return (w.Server == "" || data.Server == w.Server) &&
			(w.Tool == "" || data.Tool == w.Tool) &&
			(w.ItemID == "" || data.ItemID == w.ItemID) &&
			(w.IsError == nil || data.IsError == *w.IsError) &&
			strings.Contains(data.Text, w.Contains)
	case events.VerificationPayload:
		return (w.ItemID == "" || data.ItemID == w.ItemID) &&
			(w.Verified == nil || data.Verified == *w.Verified) &&
			strings.Contains(data.Reason, w.Contains)
	case events.SummaryPayload:
		return strings.Contains(data.Summary, w.Contains)
	case events.ErrorPayload:
		return (w.Kind == "" || data.Kind == w.Kind) &&
			strings.Contains(data.Message, w.Contains)
	case events.DonePayload:
		return (w.State == "" || data.State == w.State) &&
			(w.Aborted == nil || data.Aborted == *w.Aborted)
	}
	return false
}

// assertFrameSequence checks that the wanted frames appear in order within
// the stream. Extra frames between matches are fine; a missing one fails
// with the full stream dumped.
func assertFrameSequence(t *testing.T, frames []events.Event, wants []wantFrame) {
	t.Helper()

	cursor := 0
	for i, w := range wants {
		found := false
		for ; cursor < len(frames); cursor++ {
			if matchFrame(frames[cursor], w) {
				cursor++
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("frame %d not found: %s\nstream:\n%s", i, w, formatFrames(frames))
		}
	}
}

// assertNoFrame checks that no frame in the stream matches.
func assertNoFrame(t *testing.T, frames []events.Event, w wantFrame) {
	t.Helper()

	for i, ev := range frames {
		if matchFrame(ev, w) {
			t.Fatalf("frame %d unexpectedly matches %s:\n%s", i, w, formatFrames(frames))
		}
	}
}

func formatFrames(frames []events.Event) string {
	var b strings.Builder
	for i, ev := range frames {
		fmt.Fprintf(&b, "%3d  %-13s %s\n", i, ev.Type, describeFrame(ev))
	}
	return b.String()
}

func describeFrame(ev events.Event) string {
	switch data := ev.Data.(type) {
	case events.StatusPayload:
		s := fmt.Sprintf("state=%s detail=%q", data.State, data.Detail)
		if data.ItemID != "" {
			s += " item=" + data.ItemID
		}
		return s
	case events.AgentMessagePayload:
		return fmt.Sprintf("message=%q", data.Message)
	case events.ToolStartedPayload:
		return fmt.Sprintf("item=%s server=%s tool=%s", data.ItemID, data.Server, data.Tool)
	case events.ToolResultPayload:
		return fmt.Sprintf("item=%s server=%s tool=%s is_error=%t text=%q",
			data.ItemID, data.Server, data.Tool, data.IsError, data.Text)
	case events.VerificationPayload:
		return fmt.Sprintf("item=%s verified=%t reason=%q", data.ItemID, data.Verified, data.Reason)
	case events.SummaryPayload:
		return fmt.Sprintf("summary=%q counts=%v", data.Summary, data.Counts)
	case events.ErrorPayload:
		return fmt.Sprintf("kind=%s message=%q", data.Kind, data.Message)
	case events.DonePayload:
		return fmt.Sprintf("state=%s aborted=%t", data.State, data.Aborted)
	}
	return fmt.Sprintf("%#v", ev.Data)
}

// drainFrames empties an already-quiet subscription channel.
func drainFrames(frames <-chan events.Event) []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-frames:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// framesOfType filters the stream by frame type.
func framesOfType(frames []events.Event, typ events.FrameType) []events.Event {
	var out []events.Event
	for _, ev := range frames {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// doneFrame returns the stream's done payload, failing when the stream did
// not close with one.
func doneFrame(t *testing.T, frames []events.Event) events.DonePayload {
	t.Helper()

	if len(frames) == 0 {
		t.Fatal("empty frame stream")
	}
	last := frames[len(frames)-1]
	payload, ok := last.Data.(events.DonePayload)
	if !ok {
		t.Fatalf("last frame is %s, not done:\n%s", last.Type, formatFrames(frames))
	}
	return payload
}

// summaryFrame returns the stream's summary payload, failing when absent.
func summaryFrame(t *testing.T, frames []events.Event) events.SummaryPayload {
	t.Helper()

	for _, ev := range frames {
		if payload, ok := ev.Data.(events.SummaryPayload); ok {
			return payload
		}
	}
	t.Fatalf("no summary frame:\n%s", formatFrames(frames))
	return events.SummaryPayload{}
}

// toolStarts returns every tool_started payload in stream order.
func toolStarts(frames []events.Event) []events.ToolStartedPayload {
	var out []events.ToolStartedPayload
	for _, ev := range framesOfType(frames, events.FrameToolStarted) {
		out = append(out, ev.Data.(events.ToolStartedPayload))
	}
	return out
}

// toolResults returns every tool_result payload in stream order.
func toolResults(frames []events.Event) []events.ToolResultPayload {
	var out []events.ToolResultPayload
	for _, ev := range framesOfType(frames, events.FrameToolResult) {
		out = append(out, ev.Data.(events.ToolResultPayload))
	}
	return out
}

// verifications returns every verification payload in stream order.
func verifications(frames []events.Event) []events.VerificationPayload {
	var out []events.VerificationPayload
	for _, ev := range framesOfType(frames, events.FrameVerification) {
		out = append(out, ev.Data.(events.VerificationPayload))
	}
	return out
}
