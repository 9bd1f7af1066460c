package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-agent/maestro/pkg/events"
	"github.com/maestro-agent/maestro/pkg/models"
)

// capturePublisher records every published frame for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	frames []events.Event
}

func (p *capturePublisher) Publish(ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, ev)
}

func (p *capturePublisher) all() []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Event, len(p.frames))
	copy(out, p.frames)
	return out
}

func (p *capturePublisher) ofType(t events.FrameType) []events.Event {
	var out []events.Event
	for _, ev := range p.all() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func TestTransitionTable(t *testing.T) {
	expected := map[models.WorkflowState][]models.WorkflowState{
		models.StateWorkflowStart:     {models.StateModeSelection},
		models.StateModeSelection:     {models.StateChat, models.StateTask, models.StateDev},
		models.StateChat:              {models.StateWorkflowEnd},
		models.StateDev:               {models.StateDev, models.StateTask, models.StateWorkflowEnd},
		models.StateTask:              {models.StateContextEnrichment},
		models.StateContextEnrichment: {models.StateTodoPlanning},
		models.StateTodoPlanning:      {models.StateItemLoop},
		models.StateItemLoop:          {models.StateServerSelection, models.StateFinalSummary},
		models.StateServerSelection:   {models.StateToolPlanning},
		models.StateToolPlanning:      {models.StateExecution},
		models.StateExecution:         {models.StateVerification},
		models.StateVerification:      {models.StateItemLoop, models.StateReplan},
		models.StateReplan:            {models.StateItemLoop, models.StateFinalSummary},
		models.StateFinalSummary:      {models.StateWorkflowEnd},
	}

	for from, want := range expected {
		assert.Equal(t, want, Allowed(from), "allowed set for %s", from)
	}
	assert.Empty(t, Allowed(models.StateWorkflowEnd), "terminal state leads nowhere")

	// every non-terminal state has an entry
	for _, state := range models.AllWorkflowStates {
		if state.IsTerminal() {
			continue
		}
		assert.NotEmpty(t, Allowed(state), "state %s has no outgoing transitions", state)
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(models.StateModeSelection, models.StateChat))
	assert.True(t, CanTransition(models.StateDev, models.StateDev))
	assert.True(t, CanTransition(models.StateReplan, models.StateFinalSummary))
	assert.False(t, CanTransition(models.StateModeSelection, models.StateExecution))
	assert.False(t, CanTransition(models.StateChat, models.StateTask))
	assert.False(t, CanTransition(models.StateWorkflowEnd, models.StateWorkflowStart))
}

func TestMachineRejectsInvalidTransition(t *testing.T) {
	pub := &capturePublisher{}
	m := NewMachine(pub, time.Second, time.Second)
	m.Register(models.StateModeSelection, HandlerFunc(func(context.Context, MachineControl, *Task) (HandlerResult, error) {
		return HandlerResult{Next: models.StateExecution}, nil
	}))

	sess := models.NewSession("sess-1")
	sess.State = models.StateModeSelection
	task := NewTask(sess, models.Request{Message: "do a thing"})

	err := m.Run(context.Background(), task)

	var invalid *InvalidTransition
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, models.StateModeSelection, invalid.From)
	assert.Equal(t, models.StateExecution, invalid.To)
	assert.Equal(t, []models.WorkflowState{models.StateChat, models.StateTask, models.StateDev}, invalid.Allowed)

	// rejection mutates nothing
	assert.Equal(t, models.StateModeSelection, sess.State)
	assert.Empty(t, sess.Transitions)
	assert.Empty(t, pub.ofType(events.FrameStatus))
}

func TestMachineHandlerNotFound(t *testing.T) {
	m := NewMachine(&capturePublisher{}, time.Second, time.Second)

	sess := models.NewSession("sess-1")
	sess.State = models.StateChat
	err := m.Run(context.Background(), NewTask(sess, models.Request{Message: "hi"}))

	var notFound *HandlerNotFound
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, models.StateChat, notFound.State)
	assert.Equal(t, KindHandlerNotFound, ErrorKind(err))
}

func TestMachineHandlerTimeout(t *testing.T) {
	m := NewMachine(&capturePublisher{}, 20*time.Millisecond, time.Second)
	m.Register(models.StateChat, HandlerFunc(func(ctx context.Context, _ MachineControl, _ *Task) (HandlerResult, error) {
		<-ctx.Done()
		return HandlerResult{}, ctx.Err()
	}))

	sess := models.NewSession("sess-1")
	sess.State = models.StateChat
	err := m.Run(context.Background(), NewTask(sess, models.Request{Message: "hi"}))

	var timeout *HandlerTimeout
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, models.StateChat, timeout.State)
	assert.Equal(t, 20*time.Millisecond, timeout.Timeout)
	assert.Equal(t, KindHandlerTimeout, ErrorKind(err))
}

func TestMachineCancellationWins(t *testing.T) {
	m := NewMachine(&capturePublisher{}, time.Second, time.Second)
	m.Register(models.StateChat, HandlerFunc(func(ctx context.Context, _ MachineControl, _ *Task) (HandlerResult, error) {
		<-ctx.Done()
		return HandlerResult{}, ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	sess := models.NewSession("sess-1")
	sess.State = models.StateChat
	err := m.Run(ctx, NewTask(sess, models.Request{Message: "hi"}))

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, KindCancelled, ErrorKind(err))
}

func TestMachineWrapsHandlerErrors(t *testing.T) {
	m := NewMachine(&capturePublisher{}, time.Second, time.Second)
	boom := errors.New("planner exploded")
	m.Register(models.StateChat, HandlerFunc(func(context.Context, MachineControl, *Task) (HandlerResult, error) {
		return HandlerResult{}, boom
	}))

	sess := models.NewSession("sess-1")
	sess.State = models.StateChat
	err := m.Run(context.Background(), NewTask(sess, models.Request{Message: "hi"}))

	var handlerErr *HandlerError
	require.ErrorAs(t, err, &handlerErr)
	assert.Equal(t, models.StateChat, handlerErr.State)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, KindHandlerError, ErrorKind(err))
}

func TestMachineRunsToTerminal(t *testing.T) {
	pub := &capturePublisher{}
	m := NewMachine(pub, time.Second, time.Second)
	m.Register(models.StateChat, HandlerFunc(func(context.Context, MachineControl, *Task) (HandlerResult, error) {
		return HandlerResult{Next: models.StateWorkflowEnd}, nil
	}))

	sess := models.NewSession("sess-1")
	sess.State = models.StateChat
	err := m.Run(context.Background(), NewTask(sess, models.Request{Message: "hi"}))
	require.NoError(t, err)

	assert.Equal(t, models.StateWorkflowEnd, sess.State)
	require.Len(t, sess.Transitions, 1)
	assert.Equal(t, models.StateChat, sess.Transitions[0].From)
	assert.Equal(t, models.StateWorkflowEnd, sess.Transitions[0].To)

	statuses := pub.ofType(events.FrameStatus)
	require.Len(t, statuses, 1)
	assert.Equal(t, "WORKFLOW_END", statuses[0].Data.(events.StatusPayload).State)

	dones := pub.ofType(events.FrameDone)
	require.Len(t, dones, 1)
	done := dones[0].Data.(events.DonePayload)
	assert.Equal(t, "WORKFLOW_END", done.State)
	assert.False(t, done.Aborted)
}

func TestMachineEndTurnParksSession(t *testing.T) {
	pub := &capturePublisher{}
	m := NewMachine(pub, time.Second, time.Second)
	m.Register(models.StateDev, HandlerFunc(func(context.Context, MachineControl, *Task) (HandlerResult, error) {
		return HandlerResult{EndTurn: true}, nil
	}))

	sess := models.NewSession("sess-1")
	sess.State = models.StateDev
	err := m.Run(context.Background(), NewTask(sess, models.Request{Message: "dev please"}))
	require.NoError(t, err)

	assert.Equal(t, models.StateDev, sess.State)
	assert.Empty(t, sess.Transitions)

	dones := pub.ofType(events.FrameDone)
	require.Len(t, dones, 1)
	assert.Equal(t, "DEV", dones[0].Data.(events.DonePayload).State)
}

func TestMachineTransitionTimeout(t *testing.T) {
	slow := &slowPublisher{delay: 30 * time.Millisecond}
	m := NewMachine(slow, time.Second, time.Millisecond)
	m.Register(models.StateChat, HandlerFunc(func(context.Context, MachineControl, *Task) (HandlerResult, error) {
		return HandlerResult{Next: models.StateWorkflowEnd}, nil
	}))

	sess := models.NewSession("sess-1")
	sess.State = models.StateChat
	err := m.Run(context.Background(), NewTask(sess, models.Request{Message: "hi"}))

	var timeout *TransitionTimeout
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, models.StateChat, timeout.From)
	assert.Equal(t, models.StateWorkflowEnd, timeout.To)
	assert.Equal(t, KindTransitionTimeout, ErrorKind(err))
}

// slowPublisher stalls every publish, standing in for a wedged delivery
// layer.
type slowPublisher struct {
	delay time.Duration
}

func (p *slowPublisher) Publish(events.Event) {
	time.Sleep(p.delay)
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"invalid transition", &InvalidTransition{From: models.StateChat, To: models.StateTask}, KindInvalidTransition},
		{"handler not found", &HandlerNotFound{State: models.StateChat}, KindHandlerNotFound},
		{"handler error", &HandlerError{State: models.StateChat, Err: errors.New("x")}, KindHandlerError},
		{"handler timeout", &HandlerTimeout{State: models.StateChat, Timeout: time.Second}, KindHandlerTimeout},
		{"transition timeout", &TransitionTimeout{From: models.StateChat, To: models.StateWorkflowEnd, Timeout: time.Second}, KindTransitionTimeout},
		{"missing context", &MissingContext{State: models.StateTask, Field: "message"}, KindMissingContext},
		{"cancelled", context.Canceled, KindCancelled},
		{"wrapped cancelled", fmt.Errorf("call failed: %w", context.Canceled), KindCancelled},
		{"plain error", errors.New("whatever"), KindInternal},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ErrorKind(tc.err))
		})
	}
}
