package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maestro-agent/maestro/pkg/models"
)

// Stable machine-readable kinds carried on error frames. Clients branch
// on these, so renaming one is a breaking change.
const (
	KindInvalidTransition = "invalid_transition"
	KindHandlerNotFound   = "handler_not_found"
	KindHandlerError      = "handler_error"
	KindHandlerTimeout    = "handler_timeout"
	KindTransitionTimeout = "transition_timeout"
	KindMissingContext    = "missing_context"
	KindCancelled         = "cancelled"
	KindInternal          = "internal"
)

// InvalidTransition reports a transition outside the table. The machine
// leaves the session state untouched and records nothing.
type InvalidTransition struct {
	From    models.WorkflowState
	To      models.WorkflowState
	Allowed []models.WorkflowState
}

func (e *InvalidTransition) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s, allowed: %v", e.From, e.To, e.Allowed)
}

func (e *InvalidTransition) Kind() string { return KindInvalidTransition }

// HandlerNotFound reports a non-terminal state with no registered
// handler. Always fatal: the machine cannot make progress.
type HandlerNotFound struct {
	State models.WorkflowState
}

func (e *HandlerNotFound) Error() string {
	return fmt.Sprintf("no handler registered for state %s", e.State)
}

func (e *HandlerNotFound) Kind() string { return KindHandlerNotFound }

// HandlerError wraps a handler failure with the state it happened in and
// the item being worked, when there was one.
type HandlerError struct {
	State  models.WorkflowState
	ItemID string
	Err    error
}

func (e *HandlerError) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("handler %s failed on item %s: %v", e.State, e.ItemID, e.Err)
	}
	return fmt.Sprintf("handler %s failed: %v", e.State, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

func (e *HandlerError) Kind() string { return KindHandlerError }

// HandlerTimeout reports a handler that exceeded its per-state budget.
type HandlerTimeout struct {
	State   models.WorkflowState
	Timeout time.Duration
}

func (e *HandlerTimeout) Error() string {
	return fmt.Sprintf("handler %s exceeded its %s timeout", e.State, e.Timeout)
}

func (e *HandlerTimeout) Kind() string { return KindHandlerTimeout }

// TransitionTimeout reports a transition whose bookkeeping and frame
// publication exceeded the transition budget.
type TransitionTimeout struct {
	From    models.WorkflowState
	To      models.WorkflowState
	Timeout time.Duration
}

func (e *TransitionTimeout) Error() string {
	return fmt.Sprintf("transition %s to %s exceeded its %s timeout", e.From, e.To, e.Timeout)
}

func (e *TransitionTimeout) Kind() string { return KindTransitionTimeout }

// MissingContext reports a handler precondition violation: the shared
// task context lacks a field the state requires. Always fatal.
type MissingContext struct {
	State models.WorkflowState
	Field string
}

func (e *MissingContext) Error() string {
	return fmt.Sprintf("state %s requires context field %q", e.State, e.Field)
}

func (e *MissingContext) Kind() string { return KindMissingContext }

// ErrorKind extracts the machine-readable kind from err for the error
// frame. Unrecognized errors report as internal.
func ErrorKind(err error) string {
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	var kinded interface{ Kind() string }
	if errors.As(err, &kinded) {
		return kinded.Kind()
	}
	return KindInternal
}
