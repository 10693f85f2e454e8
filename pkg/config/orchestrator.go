package config

import "time"

// OrchestratorConfig controls scheduling, leasing, and retry behavior.
type OrchestratorConfig struct {
	// ReconcileInterval is the period of the per-stage reconciler scan that
	// re-syncs the in-memory queues with the database.
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`

	// MaxInFlightPerStage is the worker pool size per stage.
	MaxInFlightPerStage int `yaml:"max_in_flight_per_stage"`

	// LeaseTTLMultiplier sizes a step's lease TTL as a multiple of its
	// estimated duration.
	LeaseTTLMultiplier float64 `yaml:"lease_ttl_multiplier"`

	// QueueOrderingStable forces deterministic tie-breaking on
	// (submission_date, sample_number) within a priority rank. Pointer so an
	// explicit false in the YAML survives the defaults merge.
	QueueOrderingStable *bool `yaml:"queue_ordering_stable"`

	// RetryAttempts is the number of persistence attempts for transient
	// backend errors.
	RetryAttempts int `yaml:"retry_attempts"`

	// RetryBaseDelay is the initial backoff, doubled on each retry.
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`

	// VisibilityTimeout is how long a claimed event may stay unacked before
	// it is redelivered.
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`

	// DequeueTimeout bounds a blocking dequeue on an empty stage queue.
	DequeueTimeout time.Duration `yaml:"dequeue_timeout"`

	// GracefulShutdownTimeout is the max time to wait for in-flight workers
	// during shutdown before their leases are revoked.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// AggregateCoalesce bounds submission counter recomputation to at most
	// one per submission per interval. Zero recomputes synchronously.
	AggregateCoalesce time.Duration `yaml:"aggregate_coalesce"`
}

// StableQueueOrdering reports the effective queue ordering mode, defaulting
// to stable when the setting is absent.
func (c *OrchestratorConfig) StableQueueOrdering() bool {
	if c.QueueOrderingStable == nil {
		return true
	}
	return *c.QueueOrderingStable
}

func boolPtr(b bool) *bool { return &b }

// DefaultOrchestratorConfig returns the built-in orchestration defaults.
func DefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		ReconcileInterval:       5 * time.Second,
		MaxInFlightPerStage:     4,
		LeaseTTLMultiplier:      2.0,
		QueueOrderingStable:     boolPtr(true),
		RetryAttempts:           3,
		RetryBaseDelay:          time.Second,
		VisibilityTimeout:       30 * time.Second,
		DequeueTimeout:          500 * time.Millisecond,
		GracefulShutdownTimeout: 30 * time.Second,
		AggregateCoalesce:       time.Second,
	}
}
