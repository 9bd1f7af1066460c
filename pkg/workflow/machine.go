// Package workflow drives sessions through the task state machine: a
// fixed transition table, one handler per non-terminal state, and an
// engine that wires the handlers to the planner personas, the MCP layer,
// the validation pipeline, and the event stream.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/maestro-agent/maestro/pkg/events"
	"github.com/maestro-agent/maestro/pkg/models"
)

const (
	defaultHandlerTimeout    = 30 * time.Second
	defaultTransitionTimeout = 30 * time.Second
)

// HandlerResult is a handler's instruction to the machine: transition to
// Next, or stop the turn where it stands.
type HandlerResult struct {
	Next models.WorkflowState

	// EndTurn stops the run without transitioning. The session keeps its
	// current state and the next request resumes there; the DEV password
	// wait uses this.
	EndTurn bool
}

// Handler works one state: inspect the task, call collaborators, decide
// where to go next. Handlers receive a narrow MachineControl rather than
// the machine itself.
type Handler interface {
	Handle(ctx context.Context, mc MachineControl, task *Task) (HandlerResult, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, mc MachineControl, task *Task) (HandlerResult, error)

func (f HandlerFunc) Handle(ctx context.Context, mc MachineControl, task *Task) (HandlerResult, error) {
	return f(ctx, mc, task)
}

// MachineControl is the surface handlers get: publish frames for the
// session being worked and consult the transition graph. Context reads
// and writes go through the Task.
type MachineControl interface {
	Publish(ev events.Event)
	Allowed(from models.WorkflowState) []models.WorkflowState
}

// Machine drives one session at a time through the transition table.
// Handlers are registered once at construction; Run is not safe for
// concurrent use on the same session.
type Machine struct {
	handlers          map[models.WorkflowState]Handler
	publisher         events.Publisher
	handlerTimeout    time.Duration
	transitionTimeout time.Duration
	logger            *slog.Logger
}

// NewMachine builds a machine publishing through pub. Non-positive
// timeouts fall back to the defaults.
func NewMachine(pub events.Publisher, handlerTimeout, transitionTimeout time.Duration) *Machine {
	if pub == nil {
		pub = events.Discard{}
	}
	if handlerTimeout <= 0 {
		handlerTimeout = defaultHandlerTimeout
	}
	if transitionTimeout <= 0 {
		transitionTimeout = defaultTransitionTimeout
	}
	return &Machine{
		handlers:          make(map[models.WorkflowState]Handler),
		publisher:         pub,
		handlerTimeout:    handlerTimeout,
		transitionTimeout: transitionTimeout,
		logger:            slog.With("component", "workflow"),
	}
}

// Register binds a handler to a state. Terminal states take no handler.
func (m *Machine) Register(state models.WorkflowState, h Handler) {
	m.handlers[state] = h
}

// control implements MachineControl for one run.
type control struct {
	m *Machine
}

func (c *control) Publish(ev events.Event) {
	c.m.publisher.Publish(ev)
}

func (c *control) Allowed(from models.WorkflowState) []models.WorkflowState {
	return Allowed(from)
}

// Run drives the session from its current state until a terminal state
// or an end-of-turn. Errors come back typed; the caller decides abort
// semantics. On a terminal arrival or end-of-turn the done frame is
// published before returning.
func (m *Machine) Run(ctx context.Context, task *Task) error {
	sess := task.Session
	mc := &control{m: m}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		state := sess.State
		if state.IsTerminal() {
			m.publisher.Publish(events.Done(sess.ID, state.String(), sess.Aborted))
			return nil
		}

		h, ok := m.handlers[state]
		if !ok {
			return &HandlerNotFound{State: state}
		}

		res, err := m.invoke(ctx, state, h, mc, task)
		if err != nil {
			return err
		}
		if res.EndTurn {
			m.logger.Info("Turn ended, session parked",
				"session_id", sess.ID,
				"state", state)
			m.publisher.Publish(events.Done(sess.ID, state.String(), false))
			return nil
		}

		if err := m.transition(task, state, res.Next); err != nil {
			return err
		}
	}
}

// invoke runs one handler under the per-state timeout. Handler failures
// come back as typed errors: the machine's own kinds pass through,
// deadline expiry becomes HandlerTimeout, everything else is wrapped in
// HandlerError.
func (m *Machine) invoke(ctx context.Context, state models.WorkflowState, h Handler, mc MachineControl, task *Task) (HandlerResult, error) {
	hctx, cancel := context.WithTimeout(ctx, m.handlerTimeout)
	defer cancel()

	res, err := h.Handle(hctx, mc, task)
	if err == nil {
		return res, nil
	}

	if ctx.Err() != nil {
		return HandlerResult{}, ctx.Err()
	}
	if errors.Is(hctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		m.logger.Warn("Handler exceeded its timeout",
			"session_id", task.Session.ID,
			"state", state,
			"timeout", m.handlerTimeout)
		return HandlerResult{}, &HandlerTimeout{State: state, Timeout: m.handlerTimeout}
	}

	var kinded interface{ Kind() string }
	if errors.As(err, &kinded) {
		return HandlerResult{}, err
	}
	return HandlerResult{}, &HandlerError{State: state, ItemID: task.CurrentItemID, Err: err}
}

// transition validates and applies one move: table check first, then the
// state change, the history record, and the status frame. Nothing is
// mutated when the table rejects the move.
func (m *Machine) transition(task *Task, from, to models.WorkflowState) error {
	if !CanTransition(from, to) {
		return &InvalidTransition{From: from, To: to, Allowed: Allowed(from)}
	}

	started := time.Now()
	sess := task.Session
	sess.State = to
	sess.RecordTransition(from, to)
	sess.Touch()
	m.publisher.Publish(events.Status(sess.ID, to.String(), ""))

	if elapsed := time.Since(started); elapsed > m.transitionTimeout {
		return &TransitionTimeout{From: from, To: to, Timeout: m.transitionTimeout}
	}
	return nil
}
