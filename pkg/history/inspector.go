package history

import (
	"fmt"
	"log/slog"

	"github.com/maestro-agent/maestro/pkg/models"
)

// Decision is the outcome of a pre-execution inspection.
type Decision string

const (
	DecisionAllow           Decision = "ALLOW"
	DecisionDeny            Decision = "DENY"
	DecisionRequireApproval Decision = "REQUIRE_APPROVAL"
)

// severity orders decisions for composition. Higher wins.
func (d Decision) severity() int {
	switch d {
	case DecisionDeny:
		return 2
	case DecisionRequireApproval:
		return 1
	default:
		return 0
	}
}

// Inspection is one inspector's verdict on a pending call.
type Inspection struct {
	Decision  Decision
	Reason    string
	Inspector string
}

func allow(name string) Inspection {
	return Inspection{Decision: DecisionAllow, Inspector: name}
}

// Inspector examines a pending tool call against the execution history.
type Inspector interface {
	Name() string
	Inspect(key CallKey) Inspection
}

// Default inspector thresholds.
const (
	// DefaultConsecutiveThreshold identical calls in a row deny the next one.
	DefaultConsecutiveThreshold = 3

	// DefaultTotalCallsThreshold calls to one tool require approval for more.
	DefaultTotalCallsThreshold = 10
)

// ConsecutiveRepetitionInspector denies a call when the newest history
// entries are already `threshold` copies of it. Success does not matter: a
// planner re-issuing an identical call is looping either way.
type ConsecutiveRepetitionInspector struct {
	ring      *Ring
	threshold int
}

// NewConsecutiveRepetitionInspector creates the loop detector.
func NewConsecutiveRepetitionInspector(ring *Ring, threshold int) *ConsecutiveRepetitionInspector {
	if threshold <= 0 {
		threshold = DefaultConsecutiveThreshold
	}
	return &ConsecutiveRepetitionInspector{ring: ring, threshold: threshold}
}

func (i *ConsecutiveRepetitionInspector) Name() string { return "consecutive_repetition" }

func (i *ConsecutiveRepetitionInspector) Inspect(key CallKey) Inspection {
	n := i.ring.consecutiveMatches(key)
	if n < i.threshold {
		return allow(i.Name())
	}
	return Inspection{
		Decision:  DecisionDeny,
		Inspector: i.Name(),
		Reason: fmt.Sprintf("loop detected: %s already executed %d times in a row",
			key, n),
	}
}

// TotalCallsInspector requires approval once one (server, tool) pair has
// been called `threshold` times in the recorded window, whatever the
// parameters were.
type TotalCallsInspector struct {
	ring      *Ring
	threshold int
}

// NewTotalCallsInspector creates the volume guard.
func NewTotalCallsInspector(ring *Ring, threshold int) *TotalCallsInspector {
	if threshold <= 0 {
		threshold = DefaultTotalCallsThreshold
	}
	return &TotalCallsInspector{ring: ring, threshold: threshold}
}

func (i *TotalCallsInspector) Name() string { return "total_calls" }

func (i *TotalCallsInspector) Inspect(key CallKey) Inspection {
	n := i.ring.totalCalls(key.Server, key.Tool)
	if n < i.threshold {
		return allow(i.Name())
	}
	return Inspection{
		Decision:  DecisionRequireApproval,
		Inspector: i.Name(),
		Reason: fmt.Sprintf("%s__%s called %d times already; approval required to continue",
			key.Server, key.Tool, n),
	}
}

// InspectionManager runs inspectors in order and keeps the most severe
// verdict. DENY dominates REQUIRE_APPROVAL dominates ALLOW.
type InspectionManager struct {
	inspectors []Inspector
	logger     *slog.Logger
}

// NewInspectionManager wires the built-in inspectors against the ring.
func NewInspectionManager(ring *Ring, consecutiveThreshold, totalThreshold int) *InspectionManager {
	return &InspectionManager{
		inspectors: []Inspector{
			NewConsecutiveRepetitionInspector(ring, consecutiveThreshold),
			NewTotalCallsInspector(ring, totalThreshold),
		},
		logger: slog.With("component", "inspection_manager"),
	}
}

// Inspect evaluates a pending call against all inspectors.
func (m *InspectionManager) Inspect(call models.ToolCall) Inspection {
	key := KeyFor(call)

	verdict := allow("")
	for _, ins := range m.inspectors {
		result := ins.Inspect(key)
		if result.Decision.severity() > verdict.Decision.severity() {
			verdict = result
		}
	}

	if verdict.Decision != DecisionAllow {
		m.logger.Warn("Tool call flagged by inspector",
			"inspector", verdict.Inspector,
			"decision", verdict.Decision,
			"server", call.Server,
			"tool", call.Tool,
			"reason", verdict.Reason)
	}
	return verdict
}
