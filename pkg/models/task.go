package models

// ItemStatus is the lifecycle status of a todo item. Statuses move forward
// only: once an item leaves pending it never returns, and replanned is
// terminal for that item id (its replacement items carry ReplannedFrom).
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemInProgress ItemStatus = "in_progress"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
	ItemSkipped    ItemStatus = "skipped"
	ItemReplanned  ItemStatus = "replanned"
)

// IsTerminal reports whether no further execution happens for this item id.
func (s ItemStatus) IsTerminal() bool {
	switch s {
	case ItemCompleted, ItemFailed, ItemSkipped, ItemReplanned:
		return true
	}
	return false
}

// DefaultMaxAttempts is the per-item retry budget before REPLAN gives up on
// retrying and the item fails.
const DefaultMaxAttempts = 1

// Item is one unit of a Todo: the atomic retry/replan scope.
type Item struct {
	ID        string     `json:"id"`
	Action    string     `json:"action"`
	DependsOn []string   `json:"depends_on,omitempty"`
	Status    ItemStatus `json:"status"`

	MaxAttempts       int `json:"max_attempts"`
	AttemptCount      int `json:"attempt_count"`
	BlockedCheckCount int `json:"blocked_check_count"`

	SelectedServers []string `json:"selected_servers,omitempty"`
	SelectedPrompts []string `json:"selected_prompts,omitempty"`

	LastPlan         []ToolCall    `json:"last_plan,omitempty"`
	LastExecution    []ToolResult  `json:"last_execution,omitempty"`
	LastVerification *Verification `json:"last_verification,omitempty"`

	// TTSPhrases are optional spoken-progress phrases emitted with events;
	// the TTS peer consumes them, the core never speaks.
	TTSPhrases []string `json:"tts_phrases,omitempty"`

	// SkipReason is set when Status is skipped.
	SkipReason string `json:"skip_reason,omitempty"`

	// ReplannedFrom links a replacement item to the item it replaced.
	ReplannedFrom string `json:"replanned_from,omitempty"`
}

// Todo is the ordered item list for one task. It is mutated only by the
// workflow engine: created by TODO_PLANNING, appended to by REPLAN.
type Todo struct {
	Items []*Item `json:"items"`
}

// Get returns the item with the given id, or nil.
func (t *Todo) Get(id string) *Item {
	for _, item := range t.Items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

// Has reports whether an item with the given id exists.
func (t *Todo) Has(id string) bool {
	return t.Get(id) != nil
}

// DependenciesCompleted reports whether every dependency of item is
// completed. Dependencies referencing unknown ids count as unsatisfied.
func (t *Todo) DependenciesCompleted(item *Item) bool {
	for _, dep := range item.DependsOn {
		d := t.Get(dep)
		if d == nil || d.Status != ItemCompleted {
			return false
		}
	}
	return true
}

// AllTerminal reports whether every item reached a terminal status.
func (t *Todo) AllTerminal() bool {
	for _, item := range t.Items {
		if !item.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// InsertAfter inserts items immediately after the item with the given id.
// When the id is not found the items are appended.
func (t *Todo) InsertAfter(id string, items []*Item) {
	for i, item := range t.Items {
		if item.ID == id {
			rest := make([]*Item, len(t.Items[i+1:]))
			copy(rest, t.Items[i+1:])
			t.Items = append(t.Items[:i+1], items...)
			t.Items = append(t.Items, rest...)
			return
		}
	}
	t.Items = append(t.Items, items...)
}

// Counts returns the number of items per status.
func (t *Todo) Counts() map[ItemStatus]int {
	counts := make(map[ItemStatus]int)
	for _, item := range t.Items {
		counts[item.Status]++
	}
	return counts
}
