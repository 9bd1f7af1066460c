package workflow

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/maestro-agent/maestro/pkg/config"
	"github.com/maestro-agent/maestro/pkg/events"
	"github.com/maestro-agent/maestro/pkg/history"
	"github.com/maestro-agent/maestro/pkg/llm"
	"github.com/maestro-agent/maestro/pkg/models"
	"github.com/maestro-agent/maestro/pkg/validation"
)

// historyPromptLimit bounds how many recent executions are rendered into
// planner and replanner prompts.
const historyPromptLimit = 10

// Planner is the planning persona the handlers call. *llm.Planner
// satisfies it.
type Planner interface {
	SelectMode(ctx context.Context, message string) (models.Mode, error)
	Chat(ctx context.Context, message string) (string, error)
	PlanTodo(ctx context.Context, req llm.TodoRequest) (*llm.TodoPlan, error)
	SelectServers(ctx context.Context, req llm.ServerSelectionRequest) (*llm.ServerSelection, error)
	PlanTools(ctx context.Context, req llm.ToolPlanRequest) (*llm.ToolPlan, error)
	Replan(ctx context.Context, req llm.ReplanRequest) (*models.ReplanDecision, error)
}

// Verifier judges executed items. *llm.Verifier satisfies it.
type Verifier interface {
	Verify(ctx context.Context, req llm.VerifyRequest) (*models.Verification, error)
}

// Summarizer digests a finished run. *llm.Summarizer satisfies it.
type Summarizer interface {
	Summarize(ctx context.Context, req llm.SummaryRequest) (string, error)
}

// ToolRunner executes calls within one item's server scope.
// *mcp.Executor satisfies it.
type ToolRunner interface {
	Execute(ctx context.Context, call models.ToolCall) (*models.ToolResult, error)
	ListTools(ctx context.Context) ([]models.ToolDefinition, error)
}

// RunnerFunc scopes a tool runner to a session and a server selection.
// The composition root adapts *mcp.ExecutorFactory to it.
type RunnerFunc func(sessionID string, servers []string) ToolRunner

// Validator runs planned calls through the validation pipeline.
// *validation.Pipeline satisfies it.
type Validator interface {
	Validate(ctx context.Context, action string, calls []models.ToolCall) *validation.Result
}

// Inspector gates each call just before execution.
// *history.InspectionManager satisfies it.
type Inspector interface {
	Inspect(call models.ToolCall) history.Inspection
}

// HistoryDigest renders recent executions for prompts. *history.Ring
// satisfies it.
type HistoryDigest interface {
	FormatForPrompt(limit int) string
}

// ServerSource reports which MCP servers accept calls right now.
// *mcp.Manager satisfies it.
type ServerSource interface {
	ReadyServers() []string
}

// SessionStore hands out sessions by id, minting one when the id is
// empty or unknown. *session.Manager satisfies it.
type SessionStore interface {
	GetOrCreate(id string) *models.Session
}

// Deps bundles the engine's collaborators. Publisher may be nil; the
// engine then discards frames.
type Deps struct {
	Sessions   SessionStore
	Planner    Planner
	Verifier   Verifier
	Summarizer Summarizer
	Validator  Validator
	Inspector  Inspector
	History    HistoryDigest
	Runners    RunnerFunc
	Servers    ServerSource
	Publisher  events.Publisher
}

// Engine owns the machine, its state handlers, and the collaborators
// they call. One engine serves all sessions; per-session serialization
// is the queue's job.
type Engine struct {
	machine *Machine
	deps    Deps
	pub     events.Publisher

	pacing      time.Duration
	blockedAt   int
	maxAttempts int
	devPassword string

	logger *slog.Logger
}

// New wires the engine: a machine with every non-terminal state handled.
// A nil cfg means defaults. The privileged-mode password is read from
// the environment variable cfg names; when unset, DEV mode stays
// disabled.
func New(cfg *config.WorkflowConfig, deps Deps) *Engine {
	if cfg == nil {
		cfg = config.DefaultWorkflowConfig()
	}
	pub := deps.Publisher
	if pub == nil {
		pub = events.Discard{}
	}

	e := &Engine{
		deps:        deps,
		pub:         pub,
		pacing:      cfg.ItemPacing,
		blockedAt:   cfg.BlockedCheckThreshold,
		maxAttempts: cfg.MaxAttempts,
		logger:      slog.With("component", "workflow"),
	}
	if e.blockedAt <= 0 {
		e.blockedAt = config.DefaultBlockedCheckThreshold
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = models.DefaultMaxAttempts
	}
	if cfg.DevPasswordEnv != "" {
		e.devPassword = os.Getenv(cfg.DevPasswordEnv)
	}

	m := NewMachine(pub, cfg.HandlerTimeout, cfg.TransitionTimeout)
	m.Register(models.StateWorkflowStart, HandlerFunc(e.handleStart))
	m.Register(models.StateModeSelection, HandlerFunc(e.handleModeSelection))
	m.Register(models.StateChat, HandlerFunc(e.handleChat))
	m.Register(models.StateDev, HandlerFunc(e.handleDev))
	m.Register(models.StateTask, HandlerFunc(e.handleTask))
	m.Register(models.StateContextEnrichment, HandlerFunc(e.handleContextEnrichment))
	m.Register(models.StateTodoPlanning, HandlerFunc(e.handleTodoPlanning))
	m.Register(models.StateItemLoop, HandlerFunc(e.handleItemLoop))
	m.Register(models.StateServerSelection, HandlerFunc(e.handleServerSelection))
	m.Register(models.StateToolPlanning, HandlerFunc(e.handleToolPlanning))
	m.Register(models.StateExecution, HandlerFunc(e.handleExecution))
	m.Register(models.StateVerification, HandlerFunc(e.handleVerification))
	m.Register(models.StateReplan, HandlerFunc(e.handleReplan))
	m.Register(models.StateFinalSummary, HandlerFunc(e.handleFinalSummary))
	e.machine = m
	return e
}

// HandleMessage runs one request to completion: resolve the session,
// prepare the turn, drive the machine. A returned error means the
// workflow aborted; the session is marked and the error, explanation,
// and done frames are already published.
func (e *Engine) HandleMessage(ctx context.Context, req models.Request) error {
	sess := e.deps.Sessions.GetOrCreate(req.SessionID)
	task := NewTask(sess, req)
	e.prepareTurn(task)

	e.logger.Info("Handling message",
		"session_id", sess.ID,
		"state", sess.State,
		"mode", req.Mode)

	err := e.machine.Run(ctx, task)
	if err != nil {
		sess.Aborted = true
		kind := ErrorKind(err)
		e.logger.Error("Workflow aborted",
			"session_id", sess.ID,
			"state", sess.State,
			"kind", kind,
			"error", err)
		e.pub.Publish(events.Error(sess.ID, kind, err.Error()))
		e.pub.Publish(events.AgentMessage(sess.ID, abortMessage(kind)))
		e.pub.Publish(events.Done(sess.ID, sess.State.String(), true))
	}
	sess.Touch()
	return err
}

// prepareTurn resets per-turn state. A session parked in DEV awaiting
// the password resumes there; everything else starts a fresh workflow.
func (e *Engine) prepareTurn(task *Task) {
	sess := task.Session
	sess.Touch()
	if sess.State == models.StateDev && sess.AwaitingPassword {
		return
	}
	sess.State = models.StateWorkflowStart
	sess.Aborted = false
}

// abortMessage is the plain-language explanation published alongside an
// error frame.
func abortMessage(kind string) string {
	switch kind {
	case KindHandlerTimeout, KindTransitionTimeout:
		return "The request took too long and was stopped. You can try again."
	case KindCancelled:
		return "The request was cancelled before it finished."
	default:
		return "Something went wrong and this request was stopped. You can try again or rephrase it."
	}
}
