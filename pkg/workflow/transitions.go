package workflow

import (
	"slices"

	"github.com/maestro-agent/maestro/pkg/models"
)

// transitions is the sole source of truth for the state graph. A
// transition from → to is accepted exactly when to appears in
// transitions[from]; everything else is rejected before any state
// mutation.
var transitions = map[models.WorkflowState][]models.WorkflowState{
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

// Allowed returns the states reachable from `from`. The slice is a copy;
// callers may keep it.
func Allowed(from models.WorkflowState) []models.WorkflowState {
	return slices.Clone(transitions[from])
}

// CanTransition reports whether from → to is in the table.
func CanTransition(from, to models.WorkflowState) bool {
	return slices.Contains(transitions[from], to)
}
