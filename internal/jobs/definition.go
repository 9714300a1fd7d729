// Package jobs implements the durable parallel job framework: job
// definitions and their registry, the batch manager that persists and
// claims work partitions, the executor that drives worker pools, the
// debounced progress publisher, and the controller that owns job
// lifecycles end to end.
package jobs

import (
	"context"
	"fmt"
	"time"
)

// Defaults applied to a Definition when the corresponding field is unset.
const (
	DefaultBatchSize  = 1000
	DefaultMaxWorkers = 4
	DefaultMaxRetries = 3
)

// Params carries the submission parameters of one job run. Values come
// from JSON, so numbers arrive as float64 and need coercion.
type Params map[string]interface{}

// Int returns the named parameter as an int, or def when absent or not
// numeric.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// Float returns the named parameter as a float64, or def.
func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return def
	}
}

// Bool returns the named parameter as a bool, or def.
func (p Params) Bool(key string, def bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return def
}

// String returns the named parameter as a string, or def.
func (p Params) String(key string, def string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return def
}

// RunContext identifies one job run to discover, process, and finalize
// callbacks.
type RunContext struct {
	JobID     string
	CatalogID string
	Params    Params
}

// BatchOutcome is the result of a single-pass ProcessBatch invocation.
type BatchOutcome struct {
	Success int
	Errors  []string
	Results []map[string]interface{}
}

type (
	// DiscoverFunc enumerates the work items of one run. Items are opaque
	// strings (image ids or file paths) small enough to persist in batch
	// rows.
	DiscoverFunc func(ctx context.Context, rc *RunContext) ([]string, error)

	// ProcessFunc handles one item. A nil error counts the item as a
	// success; the returned map, if any, is carried into Finalize.
	ProcessFunc func(ctx context.Context, rc *RunContext, item string) (map[string]interface{}, error)

	// ProcessBatchFunc handles an entire batch in one call, for jobs
	// whose processing is a single pass over the full item set. A non-nil
	// error fails the batch.
	ProcessBatchFunc func(ctx context.Context, rc *RunContext, items []string) (*BatchOutcome, error)

	// FinalizeFunc runs once after all batches are terminal, with the
	// concatenated per-item results of successful items. Skipped on
	// cancellation. Its error fails the job.
	FinalizeFunc func(ctx context.Context, rc *RunContext, results []map[string]interface{}) (map[string]interface{}, error)
)

// Definition declares one job type. Definitions are immutable after
// registration; the executor reads them without locking.
//
// Retries are on by default; DisableRetry opts a definition out, so the
// zero value keeps the default behavior.
type Definition struct {
	Name         string
	Discover     DiscoverFunc
	Process      ProcessFunc
	ProcessBatch ProcessBatchFunc
	Finalize     FinalizeFunc

	BatchSize      int
	MaxWorkers     int
	DisableRetry   bool
	MaxRetries     int
	TimeoutPerItem time.Duration
}

// normalize returns a copy with defaults applied.
func (d Definition) normalize() Definition {
	if d.BatchSize <= 0 {
		d.BatchSize = DefaultBatchSize
	}
	if d.MaxWorkers <= 0 {
		d.MaxWorkers = DefaultMaxWorkers
	}
	if d.MaxRetries <= 0 {
		d.MaxRetries = DefaultMaxRetries
	}
	return d
}

// validate reports structural problems in a definition.
func (d Definition) validate() error {
	if d.Name == "" {
		return fmt.Errorf("job definition needs a name")
	}
	if d.Discover == nil {
		return fmt.Errorf("job %q needs a discover function", d.Name)
	}
	if d.Process == nil && d.ProcessBatch == nil {
		return fmt.Errorf("job %q needs a process or process-batch function", d.Name)
	}
	return nil
}
