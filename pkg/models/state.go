package models

// WorkflowState identifies one state of the task workflow. The transition
// table over these states lives in pkg/workflow; this enum is shared so that
// sessions, events, and errors can name states without importing the engine.
type WorkflowState string

const (
	StateWorkflowStart     WorkflowState = "WORKFLOW_START"
	StateModeSelection     WorkflowState = "MODE_SELECTION"
	StateChat              WorkflowState = "CHAT"
	StateDev               WorkflowState = "DEV"
	StateTask              WorkflowState = "TASK"
	StateContextEnrichment WorkflowState = "CONTEXT_ENRICHMENT"
	StateTodoPlanning      WorkflowState = "TODO_PLANNING"
	StateItemLoop          WorkflowState = "ITEM_LOOP"
	StateServerSelection   WorkflowState = "SERVER_SELECTION"
	StateToolPlanning      WorkflowState = "TOOL_PLANNING"
	StateExecution         WorkflowState = "EXECUTION"
	StateVerification      WorkflowState = "VERIFICATION"
	StateReplan            WorkflowState = "REPLAN"
	StateFinalSummary      WorkflowState = "FINAL_SUMMARY"
	StateWorkflowEnd       WorkflowState = "WORKFLOW_END"
)

// AllWorkflowStates lists every state in workflow order. Used by the engine
// to validate handler registration and by tests.
var AllWorkflowStates = []WorkflowState{
	StateWorkflowStart,
	StateModeSelection,
	StateChat,
	StateDev,
	StateTask,
	StateContextEnrichment,
	StateTodoPlanning,
	StateItemLoop,
	StateServerSelection,
	StateToolPlanning,
	StateExecution,
	StateVerification,
	StateReplan,
	StateFinalSummary,
	StateWorkflowEnd,
}

// IsValid reports whether s is a known workflow state.
func (s WorkflowState) IsValid() bool {
	for _, known := range AllWorkflowStates {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the workflow stops at s.
func (s WorkflowState) IsTerminal() bool {
	return s == StateWorkflowEnd
}

func (s WorkflowState) String() string {
	return string(s)
}
