package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/maestro-agent/maestro/pkg/events"
	"github.com/maestro-agent/maestro/pkg/mcp"
	"github.com/maestro-agent/maestro/pkg/models"
	"github.com/maestro-agent/maestro/pkg/queue"
)

// console is the interactive prompt attached to a running orchestrator.
// Each line is submitted as one turn on the current session; frames for
// that session render to stdout until the turn's done frame.
type console struct {
	pool    *queue.Pool
	fanout  *events.Fanout
	session string
}

func newConsole(pool *queue.Pool, fanout *events.Fanout) *console {
	return &console{
		pool:    pool,
		fanout:  fanout,
		session: uuid.New().String(),
	}
}

// run enters the prompt loop. It returns on exit/quit, Ctrl+D, or context
// cancellation.
func (c *console) run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "maestro> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".maestro_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("create prompt: %w", err)
	}
	defer rl.Close()

	fmt.Println("Interactive mode. Type a request; 'new' starts a fresh session, 'exit' quits.")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				continue
			}
		} else if err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		switch strings.ToLower(input) {
		case "exit", "quit":
			return nil
		case "new":
			c.session = uuid.New().String()
			fmt.Printf("session %s\n", c.session)
			continue
		}

		c.turn(ctx, input)
	}
}

// turn submits one utterance and renders its frames until the turn closes.
// The subscription opens before the enqueue so no frame is missed.
func (c *console) turn(ctx context.Context, message string) {
	frames, cancel := c.fanout.Subscribe(c.session)
	defer cancel()

	if _, err := c.pool.Enqueue(models.Request{SessionID: c.session, Message: message}); err != nil {
		fmt.Printf("error: %v\n", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-frames:
			if !ok {
				return
			}
			if renderFrame(os.Stdout, ev) {
				return
			}
		}
	}
}

// renderFrame prints one frame and reports whether it closed the turn.
// Status frames stay quiet unless they carry a progress detail.
func renderFrame(w io.Writer, ev events.Event) bool {
	switch ev.Type {
	case events.FrameStatus:
		if p, ok := ev.Data.(events.StatusPayload); ok && p.Detail != "" {
			fmt.Fprintf(w, "  · %s\n", p.Detail)
		}
	case events.FrameAgentMessage:
		if p, ok := ev.Data.(events.AgentMessagePayload); ok {
			fmt.Fprintln(w, p.Message)
		}
	case events.FrameToolStarted:
		if p, ok := ev.Data.(events.ToolStartedPayload); ok {
			fmt.Fprintf(w, "  → %s\n", mcp.Canonical(p.Server, p.Tool))
		}
	case events.FrameToolResult:
		if p, ok := ev.Data.(events.ToolResultPayload); ok {
			mark := "✓"
			if p.IsError {
				mark = "✗"
			}
			fmt.Fprintf(w, "  %s %s (%s)\n", mark, mcp.Canonical(p.Server, p.Tool), p.Duration.Round(time.Millisecond))
		}
	case events.FrameVerification:
		if p, ok := ev.Data.(events.VerificationPayload); ok && !p.Verified {
			fmt.Fprintf(w, "  ? not verified: %s\n", p.Reason)
		}
	case events.FrameSummary:
		if p, ok := ev.Data.(events.SummaryPayload); ok {
			fmt.Fprintln(w, p.Summary)
		}
	case events.FrameError:
		if p, ok := ev.Data.(events.ErrorPayload); ok {
			fmt.Fprintf(w, "error (%s): %s\n", p.Kind, p.Message)
		}
	case events.FrameDone:
		return true
	}
	return false
}
