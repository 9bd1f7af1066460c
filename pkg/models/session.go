package models

import (
	"time"
)

// Mode is the high-level handling mode chosen for a request.
type Mode string

const (
	ModeChat Mode = "chat"
	ModeTask Mode = "task"
	ModeDev  Mode = "dev"
)

// IsValid reports whether m is a known mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeChat, ModeTask, ModeDev:
		return true
	}
	return false
}

// Request is the decoded form of an incoming user message. The web layer owns
// the wire format; the core consumes only this struct.
type Request struct {
	SessionID string `json:"session_id,omitempty"` // empty = new session
	Message   string `json:"message"`
	Mode      Mode   `json:"mode,omitempty"` // empty = let MODE_SELECTION decide
}

// TransitionRecord is one accepted state transition, kept in the session's
// bounded transition history.
type TransitionRecord struct {
	From WorkflowState `json:"from"`
	To   WorkflowState `json:"to"`
	At   time.Time     `json:"at"`
}

// DefaultTransitionHistorySize bounds the per-session transition history.
const DefaultTransitionHistorySize = 50

// Session is the per-conversation record. The session store owns creation and
// eviction; the workflow engine owns the record while a request is processed,
// so no internal locking is needed here.
type Session struct {
	ID           string        `json:"id"`
	Mode         Mode          `json:"mode,omitempty"`
	State        WorkflowState `json:"state"`
	Todo         *Todo         `json:"todo,omitempty"`
	LastAnalysis string        `json:"last_analysis,omitempty"`

	// AwaitingPassword marks a DEV-mode session waiting for the privileged
	// continuation signal (the next message carrying the password).
	AwaitingPassword bool `json:"awaiting_password,omitempty"`

	// PendingMessage holds the request parked while AwaitingPassword, so
	// the accepted password resumes the original task.
	PendingMessage string `json:"pending_message,omitempty"`

	// DevUnlocked records an accepted password; later DEV requests in this
	// session skip the prompt.
	DevUnlocked bool `json:"dev_unlocked,omitempty"`

	// Aborted is set when a fatal error ended the workflow; the summary
	// step is skipped for aborted sessions.
	Aborted bool `json:"aborted,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`

	Transitions []TransitionRecord `json:"transitions,omitempty"`

	maxTransitions int
}

// NewSession creates a session in WORKFLOW_START with the default transition
// history bound.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:             id,
		State:          StateWorkflowStart,
		CreatedAt:      now,
		LastActiveAt:   now,
		maxTransitions: DefaultTransitionHistorySize,
	}
}

// SetTransitionBound overrides the transition history bound. Non-positive
// values keep the current bound.
func (s *Session) SetTransitionBound(n int) {
	if n > 0 {
		s.maxTransitions = n
	}
}

// RecordTransition appends an accepted transition, evicting the oldest entry
// once the bound is reached.
func (s *Session) RecordTransition(from, to WorkflowState) {
	limit := s.maxTransitions
	if limit <= 0 {
		limit = DefaultTransitionHistorySize
	}
	s.Transitions = append(s.Transitions, TransitionRecord{From: from, To: to, At: time.Now()})
	if len(s.Transitions) > limit {
		s.Transitions = s.Transitions[len(s.Transitions)-limit:]
	}
}

// Touch updates the idle-eviction clock.
func (s *Session) Touch() {
	s.LastActiveAt = time.Now()
}

// Idle reports whether the session has seen no activity for at least d.
func (s *Session) Idle(d time.Duration) bool {
	return time.Since(s.LastActiveAt) >= d
}
