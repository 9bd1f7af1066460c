package config

import "time"

// QueueConfig contains worker pool configuration.
type QueueConfig struct {
	// WorkerCount is the number of worker goroutines draining the queue.
	WorkerCount int `yaml:"worker_count"`

	// Depth bounds requests waiting for a worker; excess submissions
	// fail fast.
	Depth int `yaml:"depth"`

	// TurnTimeout is the maximum time one request may be processed.
	TurnTimeout time.Duration `yaml:"turn_timeout"`

	// PollInterval is the fallback interval at which idle workers
	// recheck the queue.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollIntervalJitter is the random jitter added to PollInterval.
	// Actual interval: PollInterval ± PollIntervalJitter.
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	// GracefulShutdownTimeout is how long shutdown waits for active turns
	// before cancelling them.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             4,
		Depth:                   64,
		TurnTimeout:             15 * time.Minute,
		PollInterval:            200 * time.Millisecond,
		PollIntervalJitter:      100 * time.Millisecond,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}
