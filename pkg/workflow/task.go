package workflow

import (
	"strings"
	"time"

	"github.com/maestro-agent/maestro/pkg/llm"
	"github.com/maestro-agent/maestro/pkg/models"
)

// Task is the shared context one request threads through the machine.
// Handlers read and write it; the machine owns its lifecycle. Per-item
// artifacts (plans, results, verdicts) live on the items themselves.
type Task struct {
	Session *models.Session
	Request models.Request

	// Message is the text being worked: the request message, or the
	// stored pending message once a DEV continuation releases it.
	Message string

	// Enrichment snapshot taken before planning.
	ReadyServers   []string
	CatalogSummary string
	HistorySummary string

	// CurrentItemID names the item the inner cycle is working.
	CurrentItemID string

	// Summary is the end-of-run digest.
	Summary string

	// failure carries an inner-cycle problem forward to VERIFICATION,
	// which folds it into the verdict so REPLAN decides what to do.
	failure string

	// cycleEnd is when the last inner cycle returned to the item loop;
	// dispatches are paced against it.
	cycleEnd time.Time
}

// NewTask binds a request to its session for one turn.
func NewTask(sess *models.Session, req models.Request) *Task {
	return &Task{Session: sess, Request: req, Message: req.Message}
}

// CurrentItem resolves the in-flight item, nil when there is none.
func (t *Task) CurrentItem() *models.Item {
	if t.Session == nil || t.Session.Todo == nil || t.CurrentItemID == "" {
		return nil
	}
	return t.Session.Todo.Get(t.CurrentItemID)
}

// Enrichment renders the pre-formatted context blob planner prompts
// consume: connected servers, the tool catalog summary, and recent
// execution outcomes.
func (t *Task) Enrichment() string {
	var sb strings.Builder
	sb.WriteString(llm.FormatServerList(t.ReadyServers, t.CatalogSummary))
	if t.HistorySummary != "" {
		sb.WriteString("\n## Recent Executions\n")
		sb.WriteString(t.HistorySummary)
		if !strings.HasSuffix(t.HistorySummary, "\n") {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
