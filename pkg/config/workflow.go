package config

import "time"

// DefaultBlockedCheckThreshold is how many failed eligibility checks an
// item survives before the loop skips it.
const DefaultBlockedCheckThreshold = 10

// WorkflowConfig contains the tunables of the state machine and item loop.
type WorkflowConfig struct {
	// HandlerTimeout bounds one state handler invocation.
	HandlerTimeout time.Duration `yaml:"handler_timeout"`

	// TransitionTimeout bounds one transition (handler dispatch included).
	TransitionTimeout time.Duration `yaml:"transition_timeout"`

	// ItemPacing is the minimum delay between two items in the loop,
	// bounding the outbound API rate of long todos.
	ItemPacing time.Duration `yaml:"item_pacing"`

	// BlockedCheckThreshold skips an item after this many eligibility
	// checks found its dependencies unsatisfied, breaking dependency cycles.
	BlockedCheckThreshold int `yaml:"blocked_check_threshold"`

	// MaxAttempts is the default per-item retry budget.
	MaxAttempts int `yaml:"max_attempts"`

	// SessionIdleTimeout evicts sessions with no activity.
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`

	// SweepInterval is how often the session sweeper runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// TransitionHistorySize bounds the per-session transition history.
	TransitionHistorySize int `yaml:"transition_history_size"`

	// DevPasswordEnv names the environment variable holding the DEV-mode
	// password. Empty disables DEV mode entirely.
	DevPasswordEnv string `yaml:"dev_password_env"`
}

// DefaultWorkflowConfig returns the built-in workflow defaults.
func DefaultWorkflowConfig() *WorkflowConfig {
	return &WorkflowConfig{
		HandlerTimeout:        30 * time.Second,
		TransitionTimeout:     30 * time.Second,
		ItemPacing:            3 * time.Second,
		BlockedCheckThreshold: DefaultBlockedCheckThreshold,
		MaxAttempts:           1,
		SessionIdleTimeout:    30 * time.Minute,
		SweepInterval:         5 * time.Minute,
		TransitionHistorySize: 50,
		DevPasswordEnv:        "MAESTRO_DEV_PASSWORD",
	}
}
