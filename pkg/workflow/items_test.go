package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-agent/maestro/pkg/config"
	"github.com/maestro-agent/maestro/pkg/events"
	"github.com/maestro-agent/maestro/pkg/history"
	"github.com/maestro-agent/maestro/pkg/llm"
	"github.com/maestro-agent/maestro/pkg/models"
	"github.com/maestro-agent/maestro/pkg/validation"
)

// fakeControl hands helper tests a MachineControl without a machine.
type fakeControl struct {
	pub *capturePublisher
}

func (c *fakeControl) Publish(ev events.Event) {
	c.pub.Publish(ev)
}

func (c *fakeControl) Allowed(from models.WorkflowState) []models.WorkflowState {
	return Allowed(from)
}

func TestRetryThenBudgetExhausted(t *testing.T) {
	f := newEngineFixture()
	wireTaskFlow(f, singleItemTodo("fetch the report"))

	f.verifier.verify = func(llm.VerifyRequest) (*models.Verification, error) {
		return &models.Verification{
			Verified:    false,
			Reason:      "output did not match",
			Suggestions: []string{"try the archive path"},
		}, nil
	}

	var replans int
	f.planner.replan = func(req llm.ReplanRequest) (*models.ReplanDecision, error) {
		replans++
		assert.Contains(t, req.FailureReason, "output did not match")
		return &models.ReplanDecision{Action: models.ReplanRetry}, nil
	}

	var planReqs []llm.ToolPlanRequest
	innerPlan := f.planner.planTools
	f.planner.planTools = func(req llm.ToolPlanRequest) (*llm.ToolPlan, error) {
		planReqs = append(planReqs, req)
		return innerPlan(req)
	}

	e := f.build()
	err := e.HandleMessage(context.Background(), models.Request{SessionID: "sess-1", Message: "fetch the report"})
	require.NoError(t, err)

	sess := f.store.sessions["sess-1"]
	item := sess.Todo.Items[0]
	assert.Equal(t, models.ItemFailed, item.Status)
	assert.Equal(t, 1, item.AttemptCount)
	assert.Equal(t, 2, replans)

	// the retry attempt replanned with the verifier's feedback
	require.Len(t, planReqs, 2)
	assert.Empty(t, planReqs[0].Feedback)
	assert.Contains(t, planReqs[1].Feedback, "output did not match")
	assert.Contains(t, planReqs[1].Feedback, "try the archive path")

	// the run still closes with a summary
	require.Len(t, f.pub.ofType(events.FrameSummary), 1)
	require.Len(t, f.pub.ofType(events.FrameDone), 1)
	assert.Equal(t, models.StateWorkflowEnd, sess.State)
}

func TestReplanNewItemsRewiresDependents(t *testing.T) {
	f := newEngineFixture()
	todo := &models.Todo{Items: []*models.Item{
		{ID: "item_1", Action: "create dir", Status: models.ItemPending, MaxAttempts: 1},
		{ID: "item_2", Action: "write file", DependsOn: []string{"item_1"}, Status: models.ItemPending, MaxAttempts: 1},
	}}
	wireTaskFlow(f, todo)

	f.verifier.verify = func(req llm.VerifyRequest) (*models.Verification, error) {
		if req.Action == "create dir" {
			return &models.Verification{Verified: false, Reason: "directory was not created"}, nil
		}
		return &models.Verification{Verified: true}, nil
	}
	f.planner.replan = func(req llm.ReplanRequest) (*models.ReplanDecision, error) {
		require.Equal(t, "item_1", req.Item.ID)
		return &models.ReplanDecision{
			Action: models.ReplanNewItems,
			NewItems: []*models.Item{{
				ID:          "item_1b",
				Action:      "create dir with elevated path",
				Status:      models.ItemPending,
				MaxAttempts: 1,
			}},
			Reason: "permission problem, try another path",
		}, nil
	}

	e := f.build()
	err := e.HandleMessage(context.Background(), models.Request{SessionID: "sess-1", Message: "set up the workspace"})
	require.NoError(t, err)

	sess := f.store.sessions["sess-1"]
	require.Len(t, sess.Todo.Items, 3)

	original := sess.Todo.Get("item_1")
	replacement := sess.Todo.Get("item_1b")
	dependent := sess.Todo.Get("item_2")

	assert.Equal(t, models.ItemReplanned, original.Status)
	require.NotNil(t, replacement)
	assert.Equal(t, "item_1", replacement.ReplannedFrom)
	assert.Equal(t, models.ItemCompleted, replacement.Status)

	// the dependent waited for the replacement, then ran
	assert.Equal(t, []string{"item_1b"}, dependent.DependsOn)
	assert.Equal(t, models.ItemCompleted, dependent.Status)

	// replacement sits right after the original
	assert.Equal(t, "item_1b", sess.Todo.Items[1].ID)

	summaries := f.pub.ofType(events.FrameSummary)
	require.Len(t, summaries, 1)
	assert.Equal(t, map[string]int{"completed": 2, "replanned": 1},
		summaries[0].Data.(events.SummaryPayload).Counts)
}

func TestReplanSkipAndContinue(t *testing.T) {
	f := newEngineFixture()
	wireTaskFlow(f, singleItemTodo("rotate the credentials"))
	f.verifier.verify = func(llm.VerifyRequest) (*models.Verification, error) {
		return &models.Verification{Verified: false, Reason: "no credentials available"}, nil
	}
	f.planner.replan = func(llm.ReplanRequest) (*models.ReplanDecision, error) {
		return &models.ReplanDecision{
			Action: models.ReplanSkipAndContinue,
			Reason: "cannot proceed without credentials",
		}, nil
	}

	e := f.build()
	err := e.HandleMessage(context.Background(), models.Request{SessionID: "sess-1", Message: "rotate the credentials"})
	require.NoError(t, err)

	item := f.store.sessions["sess-1"].Todo.Items[0]
	assert.Equal(t, models.ItemSkipped, item.Status)
	assert.Equal(t, "cannot proceed without credentials", item.SkipReason)
}

func TestBlockedDependentSkippedAfterThreshold(t *testing.T) {
	f := newEngineFixture()
	todo := &models.Todo{Items: []*models.Item{
		{ID: "item_1", Action: "provision the database", Status: models.ItemPending, MaxAttempts: 1},
		{ID: "item_2", Action: "load the fixtures", DependsOn: []string{"item_1"}, Status: models.ItemPending, MaxAttempts: 1},
	}}
	wireTaskFlow(f, todo)

	f.verifier.verify = func(llm.VerifyRequest) (*models.Verification, error) {
		return &models.Verification{Verified: false, Reason: "database never came up"}, nil
	}
	f.planner.replan = func(llm.ReplanRequest) (*models.ReplanDecision, error) {
		return &models.ReplanDecision{Action: models.ReplanSkipAndContinue, Reason: "unreachable"}, nil
	}

	e := f.build()
	err := e.HandleMessage(context.Background(), models.Request{SessionID: "sess-1", Message: "set up the test db"})
	require.NoError(t, err)

	sess := f.store.sessions["sess-1"]
	first := sess.Todo.Get("item_1")
	second := sess.Todo.Get("item_2")

	assert.Equal(t, models.ItemSkipped, first.Status)
	assert.Equal(t, models.ItemSkipped, second.Status)
	assert.Equal(t, "blocked too many times", second.SkipReason)
	assert.Equal(t, config.DefaultBlockedCheckThreshold, second.BlockedCheckCount)

	// the dependent never entered the inner cycle
	assert.Len(t, f.runner.executedCalls(), 1)
	assert.Equal(t, models.StateWorkflowEnd, sess.State)
}

func TestInspectorDenyBlocksExecution(t *testing.T) {
	f := newEngineFixture()
	wireTaskFlow(f, singleItemTodo("fetch the page"))
	f.inspector.inspect = func(models.ToolCall) history.Inspection {
		return history.Inspection{
			Decision:  history.DecisionDeny,
			Reason:    "4 consecutive identical calls",
			Inspector: "repetition",
		}
	}
	var failureReason string
	f.planner.replan = func(req llm.ReplanRequest) (*models.ReplanDecision, error) {
		failureReason = req.FailureReason
		return &models.ReplanDecision{Action: models.ReplanSkipAndContinue, Reason: "stuck in a loop"}, nil
	}

	e := f.build()
	err := e.HandleMessage(context.Background(), models.Request{SessionID: "sess-1", Message: "fetch the page"})
	require.NoError(t, err)

	// the denied call never ran
	assert.Empty(t, f.runner.executedCalls())
	assert.Empty(t, f.pub.ofType(events.FrameToolStarted))

	assert.Contains(t, failureReason, "execution blocked")
	assert.Contains(t, failureReason, "4 consecutive identical calls")

	item := f.store.sessions["sess-1"].Todo.Items[0]
	assert.Equal(t, models.ItemSkipped, item.Status)
}

func TestApprovalRequiredBlocksExecution(t *testing.T) {
	f := newEngineFixture()
	wireTaskFlow(f, singleItemTodo("clean the workspace"))
	f.inspector.inspect = func(models.ToolCall) history.Inspection {
		return history.Inspection{
			Decision:  history.DecisionRequireApproval,
			Reason:    "10 total calls to filesystem__delete_file",
			Inspector: "volume",
		}
	}
	var failureReason string
	f.planner.replan = func(req llm.ReplanRequest) (*models.ReplanDecision, error) {
		failureReason = req.FailureReason
		return &models.ReplanDecision{Action: models.ReplanSkipAndContinue, Reason: "needs a human"}, nil
	}

	e := f.build()
	err := e.HandleMessage(context.Background(), models.Request{SessionID: "sess-1", Message: "clean the workspace"})
	require.NoError(t, err)

	assert.Empty(t, f.runner.executedCalls())
	assert.Contains(t, failureReason, "approval required")
}

func TestValidationRejectionRoutesToReplan(t *testing.T) {
	f := newEngineFixture()
	wireTaskFlow(f, singleItemTodo("read the changelog"))
	f.validator.validate = func(_ string, calls []models.ToolCall) *validation.Result {
		return &validation.Result{
			Valid:          false,
			Calls:          calls,
			Errors:         []validation.Issue{{Stage: "mcp_sync", Message: "unknown tool ghost__read"}},
			StagesExecuted: []string{"structural", "mcp_sync"},
			RejectedAt:     "mcp_sync",
		}
	}
	var failureReason string
	f.planner.replan = func(req llm.ReplanRequest) (*models.ReplanDecision, error) {
		failureReason = req.FailureReason
		return &models.ReplanDecision{Action: models.ReplanSkipAndContinue, Reason: "tool does not exist"}, nil
	}

	e := f.build()
	err := e.HandleMessage(context.Background(), models.Request{SessionID: "sess-1", Message: "read the changelog"})
	require.NoError(t, err)

	assert.Empty(t, f.runner.executedCalls())
	assert.Contains(t, failureReason, "plan rejected")
	assert.Contains(t, failureReason, "unknown tool ghost__read")
}

func TestNoServersConnectedFailsItem(t *testing.T) {
	f := newEngineFixture()
	f.servers = staticServers{}
	f.planner.selectMode = func(string) (models.Mode, error) { return models.ModeTask, nil }
	f.planner.planTodo = func(llm.TodoRequest) (*llm.TodoPlan, error) {
		return &llm.TodoPlan{Todo: singleItemTodo("list files")}, nil
	}
	// selectServers and planTools stay nil: the cycle must not reach them
	f.planner.replan = func(req llm.ReplanRequest) (*models.ReplanDecision, error) {
		assert.Contains(t, req.FailureReason, "no MCP servers are connected")
		return &models.ReplanDecision{Action: models.ReplanSkipAndContinue, Reason: "nothing to execute with"}, nil
	}
	f.summarizer.summarize = func(llm.SummaryRequest) (string, error) {
		return "Nothing could run.", nil
	}

	e := f.build()
	err := e.HandleMessage(context.Background(), models.Request{SessionID: "sess-1", Message: "list files"})
	require.NoError(t, err)

	item := f.store.sessions["sess-1"].Todo.Items[0]
	assert.Equal(t, models.ItemSkipped, item.Status)
	assert.Empty(t, f.runner.executedCalls())
	assert.Empty(t, f.runner.scopes)
}

func TestToolErrorResultReachesVerifier(t *testing.T) {
	f := newEngineFixture()
	wireTaskFlow(f, singleItemTodo("make the directory"))
	f.runner.execute = func(call models.ToolCall) (*models.ToolResult, error) {
		return &models.ToolResult{
			Call:    call,
			Text:    "mkdir: permission denied",
			IsError: true,
		}, nil
	}

	var seen []models.ToolResult
	f.verifier.verify = func(req llm.VerifyRequest) (*models.Verification, error) {
		seen = req.Results
		return &models.Verification{Verified: false, Reason: "the mkdir call failed"}, nil
	}
	f.planner.replan = func(llm.ReplanRequest) (*models.ReplanDecision, error) {
		return &models.ReplanDecision{Action: models.ReplanSkipAndContinue, Reason: "permissions"}, nil
	}

	e := f.build()
	err := e.HandleMessage(context.Background(), models.Request{SessionID: "sess-1", Message: "make the directory"})
	require.NoError(t, err)

	// the failed call surfaced as a result, not an abort
	require.Len(t, seen, 1)
	assert.True(t, seen[0].IsError)

	results := f.pub.ofType(events.FrameToolResult)
	require.Len(t, results, 1)
	assert.True(t, results[0].Data.(events.ToolResultPayload).IsError)
}

func TestItemPacingSpacesCycles(t *testing.T) {
	f := newEngineFixture()
	f.cfg.ItemPacing = 40 * time.Millisecond
	todo := &models.Todo{Items: []*models.Item{
		{ID: "item_1", Action: "first", Status: models.ItemPending, MaxAttempts: 1},
		{ID: "item_2", Action: "second", Status: models.ItemPending, MaxAttempts: 1},
	}}
	wireTaskFlow(f, todo)

	e := f.build()
	start := time.Now()
	err := e.HandleMessage(context.Background(), models.Request{SessionID: "sess-1", Message: "two quick steps"})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, models.ItemCompleted, todo.Items[0].Status)
	assert.Equal(t, models.ItemCompleted, todo.Items[1].Status)
}

func TestNextItemPrefersResume(t *testing.T) {
	f := newEngineFixture()
	e := f.build()

	todo := &models.Todo{Items: []*models.Item{
		{ID: "a", Status: models.ItemPending},
		{ID: "b", Status: models.ItemInProgress},
	}}
	sess := models.NewSession("sess-1")
	sess.Todo = todo
	task := NewTask(sess, models.Request{})
	task.CurrentItemID = "b"

	assert.Equal(t, "b", e.nextItem(todo, task).ID)

	task.CurrentItemID = ""
	assert.Equal(t, "a", e.nextItem(todo, task).ID)
}

func TestNextItemHonorsDependencies(t *testing.T) {
	f := newEngineFixture()
	e := f.build()

	todo := &models.Todo{Items: []*models.Item{
		{ID: "a", Status: models.ItemCompleted},
		{ID: "b", Status: models.ItemPending, DependsOn: []string{"zzz"}},
		{ID: "c", Status: models.ItemPending, DependsOn: []string{"a"}},
	}}
	sess := models.NewSession("sess-1")
	sess.Todo = todo
	task := NewTask(sess, models.Request{})

	// b waits on an unknown id; c's dependency completed
	assert.Equal(t, "c", e.nextItem(todo, task).ID)
}

func TestChargeBlockedChecksSkipsAtThreshold(t *testing.T) {
	f := newEngineFixture()
	e := f.build()
	pub := &capturePublisher{}

	item := &models.Item{
		ID:                "stuck",
		Status:            models.ItemPending,
		DependsOn:         []string{"missing"},
		BlockedCheckCount: config.DefaultBlockedCheckThreshold - 1,
	}
	todo := &models.Todo{Items: []*models.Item{item}}
	sess := models.NewSession("sess-1")
	sess.Todo = todo
	task := NewTask(sess, models.Request{})

	charged := e.chargeBlockedChecks(&fakeControl{pub: pub}, task, todo)

	assert.Equal(t, 1, charged)
	assert.Equal(t, models.ItemSkipped, item.Status)
	assert.Equal(t, "blocked too many times", item.SkipReason)
	assert.Equal(t, config.DefaultBlockedCheckThreshold, item.BlockedCheckCount)
	require.Len(t, pub.ofType(events.FrameStatus), 1)
}

func TestRewireDependents(t *testing.T) {
	todo := &models.Todo{Items: []*models.Item{
		{ID: "a", Status: models.ItemReplanned},
		{ID: "b", Status: models.ItemPending, DependsOn: []string{"a", "z"}},
		{ID: "d", Status: models.ItemFailed, DependsOn: []string{"a"}},
	}}
	replacements := []*models.Item{{ID: "a1"}, {ID: "a2"}}

	rewireDependents(todo, "a", replacements)

	assert.Equal(t, []string{"a1", "a2", "z"}, todo.Get("b").DependsOn)
	// terminal items keep their history untouched
	assert.Equal(t, []string{"a"}, todo.Get("d").DependsOn)
}

func TestEnsureUniqueItemIDs(t *testing.T) {
	todo := &models.Todo{Items: []*models.Item{
		{ID: "item_1"},
		{ID: "item_2"},
	}}
	// the first id collides with the todo, the second refers to it
	// in-batch, the third has no id at all
	replacements := []*models.Item{
		{ID: "item_2"},
		{ID: "fresh", DependsOn: []string{"item_2"}},
		{ID: "", DependsOn: []string{"fresh"}},
	}

	ensureUniqueItemIDs(todo, "item_1", replacements)

	assert.Equal(t, "item_1_r1", replacements[0].ID)
	assert.Equal(t, "fresh", replacements[1].ID)
	assert.Equal(t, []string{"item_1_r1"}, replacements[1].DependsOn)
	assert.Equal(t, "item_1_r3", replacements[2].ID)
	assert.Equal(t, []string{"fresh"}, replacements[2].DependsOn)
}

func TestRetryFeedback(t *testing.T) {
	item := &models.Item{}
	assert.Empty(t, retryFeedback(item), "no verification yet")

	item.LastVerification = &models.Verification{Verified: false, Reason: "wrong file"}
	assert.Empty(t, retryFeedback(item), "first attempt plans without feedback")

	item.AttemptCount = 1
	assert.Equal(t, "wrong file", retryFeedback(item))

	item.LastVerification.Suggestions = []string{"use the absolute path"}
	feedback := retryFeedback(item)
	assert.Contains(t, feedback, "wrong file")
	assert.Contains(t, feedback, "- use the absolute path")

	item.LastVerification = &models.Verification{Verified: true}
	assert.Empty(t, retryFeedback(item), "a verified verdict carries no feedback")
}

func TestFallbackSummary(t *testing.T) {
	todo := &models.Todo{Items: []*models.Item{
		{ID: "a", Status: models.ItemCompleted},
		{ID: "b", Status: models.ItemCompleted},
		{ID: "c", Status: models.ItemFailed},
		{ID: "d", Status: models.ItemSkipped},
	}}
	assert.Equal(t, "Run finished: 2 of 4 items completed, 1 failed, 1 skipped.", fallbackSummary(todo))
}
