package pipeline

import (
	"time"

	"github.com/sells-group/sales-warehouse/internal/resilience"
)

// Provenance unavailability policies.
const (
	PolicyFail              = "fail"
	PolicyAssumeUnprocessed = "assume_unprocessed"
)

// Config holds the sizing and policy knobs of a run.
type Config struct {
	StagingBatchSize int
	ChunkSize        int
	LoadBatchSize    int
	ResolveWorkers   int
	RetryAttempts    int
	ProvenancePolicy string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		StagingBatchSize: 10000,
		ChunkSize:        1000,
		LoadBatchSize:    10000,
		ResolveWorkers:   1,
		RetryAttempts:    3,
		ProvenancePolicy: PolicyFail,
	}
}

// withDefaults fills zero values and raises the load batch to at least one chunk.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StagingBatchSize <= 0 {
		c.StagingBatchSize = d.StagingBatchSize
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = d.ChunkSize
	}
	if c.LoadBatchSize <= 0 {
		c.LoadBatchSize = 10 * c.ChunkSize
	}
	if c.LoadBatchSize < c.ChunkSize {
		c.LoadBatchSize = c.ChunkSize
	}
	if c.ResolveWorkers <= 0 {
		c.ResolveWorkers = d.ResolveWorkers
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.ProvenancePolicy == "" {
		c.ProvenancePolicy = d.ProvenancePolicy
	}
	return c
}

// retryPolicy builds the retry config for one store operation.
type retryPolicy func(component, op string) resilience.RetryConfig

func storeRetry(attempts int) retryPolicy {
	return func(component, op string) resilience.RetryConfig {
		return resilience.StoreRetryConfig(attempts, component, op)
	}
}

// today truncates t to its UTC calendar date.
func today(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
