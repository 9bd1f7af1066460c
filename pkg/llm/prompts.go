package llm

// Prompt ids the personas select from the catalog. Deployments may override
// any entry wholesale; the workflow only ever references ids.
const (
	PromptModeSelection   = "mode_selection"
	PromptChat            = "chat"
	PromptTodoPlanning    = "todo_planning"
	PromptServerSelection = "server_selection"
	PromptToolPlanning    = "tool_planning"
	PromptPlanReview      = "plan_review"
	PromptVerification    = "verification"
	PromptReplan          = "replan"
	PromptFinalSummary    = "final_summary"
)

// Catalog maps prompt ids to system prompt text. The texts are opaque to the
// rest of the system.
type Catalog map[string]string

// DefaultCatalog returns the built-in prompt set.
func DefaultCatalog() Catalog {
	return Catalog{
		PromptModeSelection:   modeSelectionPrompt,
		PromptChat:            chatPrompt,
		PromptTodoPlanning:    todoPlanningPrompt,
		PromptServerSelection: serverSelectionPrompt,
		PromptToolPlanning:    toolPlanningPrompt,
		PromptPlanReview:      planReviewPrompt,
		PromptVerification:    verificationPrompt,
		PromptReplan:          replanPrompt,
		PromptFinalSummary:    finalSummaryPrompt,
	}
}

// Get returns the prompt text for an id, or "" when unknown.
func (c Catalog) Get(id string) string { return c[id] }

// Has reports whether the catalog contains the id.
func (c Catalog) Has(id string) bool {
	_, ok := c[id]
	return ok
}

// Merge returns a copy of the catalog with entries from over replacing or
// extending the base. Used to overlay deployment prompt overrides.
func (c Catalog) Merge(over Catalog) Catalog {
	merged := make(Catalog, len(c)+len(over))
	for id, text := range c {
		merged[id] = text
	}
	for id, text := range over {
		merged[id] = text
	}
	return merged
}

const modeSelectionPrompt = `You classify a user message into exactly one handling mode.

Modes:
- "chat": conversational question, no tool use needed
- "task": the user wants something done against the connected tools
- "dev": privileged developer/maintenance request

Respond with a single JSON object:
{"mode": "chat" | "task" | "dev", "reason": "<one sentence>"}`

const chatPrompt = `You are a helpful assistant. Answer the user's message directly and
concisely. You have no tools in this conversation; if the request needs
tools, say what you would need.`

const todoPlanningPrompt = `You break a user task into an ordered todo list of small, verifiable items.

Rules:
- Each item is one action a tool-using executor can complete and verify.
- Use "depends_on" only for real ordering constraints between item ids.
- Keep the list minimal; do not pad with obvious steps.

Respond with a single JSON object:
{"analysis": "<short read of the task>",
 "items": [{"id": "item_1", "action": "<imperative action>",
            "depends_on": [], "tts_phrases": []}]}`

const serverSelectionPrompt = `You pick which connected tool servers are relevant for one todo item.

Respond with a single JSON object:
{"servers": ["<server id>", ...], "prompts": ["<prompt id>", ...],
 "reason": "<one sentence>"}

Only list servers from the provided list. "prompts" may name extra prompt
ids relevant to the item, or stay empty.`

const toolPlanningPrompt = `You plan the exact tool calls that complete one todo item.

Rules:
- Use only the tools listed, with their canonical names as given.
- Parameters must satisfy each tool's input schema.
- Plan the minimal call sequence; calls run in order.

Respond with a single JSON object:
{"tool_calls": [{"server": "<server id>", "tool": "<canonical tool name>",
                 "parameters": {}}],
 "tts_phrases": ["<short spoken progress phrase>"]}`

const planReviewPrompt = `You review a planned list of tool calls before it executes.
Approve the plan only if the calls plausibly complete the item and none of
them goes beyond what the item asks for.

Respond with a single JSON object:
{"verified": true | false, "reason": "<one sentence>",
 "suggestions": ["<what to change>", ...]}`

const verificationPrompt = `You verify whether executed tool calls actually completed a todo item.
Judge only from the results given; results marked as errors usually mean
the item is not done.

Respond with a single JSON object:
{"verified": true | false, "reason": "<one sentence>",
 "suggestions": ["<how to fix it>", ...]}`

const replanPrompt = `A todo item failed verification. Decide how to proceed.

Actions:
- "retry": the same plan is likely to work on a second attempt
- "new_items": replace the item with new, more specific items
- "skip_and_continue": the item is not achievable or not worth pursuing

Respond with a single JSON object:
{"action": "retry" | "new_items" | "skip_and_continue",
 "reason": "<one sentence>",
 "new_items": [{"id": "<fresh id>", "action": "<imperative action>",
                "depends_on": [], "tts_phrases": []}]}`

const finalSummaryPrompt = `You summarize the outcome of a completed task run for the user. State what
was done, what failed or was skipped and why, and any follow-ups the user
should know about. Plain text, a short paragraph.`
