package models

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestModeIsValid(t *testing.T) {
	assert.True(t, ModeChat.IsValid())
	assert.True(t, ModeTask.IsValid())
	assert.True(t, ModeDev.IsValid())
	assert.False(t, Mode("").IsValid())
	assert.False(t, Mode("admin").IsValid())
}

func TestNewSessionStartsAtWorkflowStart(t *testing.T) {
	sess := NewSession("sess-1")
	assert.Equal(t, "sess-1", sess.ID)
	assert.Equal(t, StateWorkflowStart, sess.State)
	assert.False(t, sess.CreatedAt.IsZero())
	assert.Empty(t, sess.Transitions)
}

func TestRecordTransitionEvictsOldest(t *testing.T) {
	sess := NewSession("sess-1")
	for i := 0; i < DefaultTransitionHistorySize+5; i++ {
		from := WorkflowState(fmt.Sprintf("S%d", i))
		to := WorkflowState(fmt.Sprintf("S%d", i+1))
		sess.RecordTransition(from, to)
	}

	assert.Len(t, sess.Transitions, DefaultTransitionHistorySize)
	// the five oldest records are gone
	assert.Equal(t, WorkflowState("S5"), sess.Transitions[0].From)
	last := sess.Transitions[len(sess.Transitions)-1]
	assert.Equal(t, WorkflowState(fmt.Sprintf("S%d", DefaultTransitionHistorySize+5)), last.To)
}

func TestSessionIdle(t *testing.T) {
	sess := NewSession("sess-1")
	sess.LastActiveAt = time.Now().Add(-time.Hour)
	assert.True(t, sess.Idle(30*time.Minute))

	sess.Touch()
	assert.False(t, sess.Idle(30*time.Minute))
}
