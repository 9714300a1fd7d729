package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/irjudson/lumina/internal/catalog"
	"github.com/irjudson/lumina/internal/database"
	"github.com/irjudson/lumina/internal/events"
	"github.com/irjudson/lumina/internal/logger"
)

const (
	// retryBaseDelay and retryMaxDelay bound the per-item exponential
	// backoff (base × 2^attempt, capped).
	retryBaseDelay = 50 * time.Millisecond
	retryMaxDelay  = 5 * time.Second

	// gatewayRetryDelay spaces the single retry of a transient store
	// failure inside the executor.
	gatewayRetryDelay = 100 * time.Millisecond

	// flushEvery bounds how many items a worker processes between
	// counter flushes; flushes also happen on the heartbeat interval.
	flushEvery = 25

	// maxBatchErrors caps the per-batch error list.
	maxBatchErrors = 100
)

// Executor runs one job instance end to end: discover, partition into
// durable batches, dispatch a worker pool that claims and processes
// them, aggregate, and finalize. Restart resume is the same code path:
// when batches already exist for the job, discovery is skipped and the
// pool picks up whatever is still pending.
type Executor struct {
	store        *catalog.Store
	batches      *BatchManager
	load         *LoadMonitor
	heartbeat    time.Duration
	reclaimAfter time.Duration
	workerPrefix string
}

// NewExecutor creates an executor. The load monitor is optional.
func NewExecutor(store *catalog.Store, batches *BatchManager, load *LoadMonitor, heartbeat, reclaimAfter time.Duration) *Executor {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "lumina"
	}
	if heartbeat <= 0 {
		heartbeat = 5 * time.Second
	}
	if reclaimAfter <= 0 {
		reclaimAfter = 60 * time.Second
	}
	return &Executor{
		store:        store,
		batches:      batches,
		load:         load,
		heartbeat:    heartbeat,
		reclaimAfter: reclaimAfter,
		workerPrefix: fmt.Sprintf("%s-%d", hostname, os.Getpid()),
	}
}

// Run executes the job and returns its result map, or an error that
// fails the job. A ctx error is returned as-is so the controller can
// tell cancellation from failure. Per-item errors never surface here;
// they are carried in the result's error_count and errors fields.
func (e *Executor) Run(ctx context.Context, job *database.Job, def *Definition, pub *Publisher) (database.JSONMap, error) {
	rc := &RunContext{JobID: job.ID, CatalogID: catalogIDOf(job), Params: Params(job.Parameters)}

	agg, err := e.aggregateWithRetry(job.ID)
	if err != nil {
		return nil, err
	}

	totalItems := agg.TotalItems
	if agg.Total == 0 {
		pub.SetPhase(PhaseDiscovering)
		items, err := def.Discover(ctx, rc)
		if err != nil {
			return nil, fmt.Errorf("discover: %w", err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		totalItems = len(items)
		if totalItems == 0 {
			return database.JSONMap{
				"success_count": 0,
				"error_count":   0,
				"total_items":   0,
				"errors":        []string{},
			}, nil
		}
		if _, err := e.batches.CreateBatches(job.ID, rc.CatalogID, job.JobType, items, def.BatchSize); err != nil {
			return nil, err
		}
	} else {
		logger.Info("job %s resuming with %d existing batches (%d pending)", job.ID, agg.Total, agg.Pending)
	}

	pub.SetTotal(int64(totalItems))
	pub.SetPhase(PhaseProcessing)

	workers := def.MaxWorkers
	if e.load != nil {
		workers = e.load.RecommendedWorkers(workers)
	}

	var (
		wg      sync.WaitGroup
		active  atomic.Int64
		errCh   = make(chan error, workers)
		jobType = job.JobType
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if err := e.workerLoop(ctx, rc, def, pub, jobType, idx, def.MaxWorkers, &active); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	var execErr error
	for err := range errCh {
		if execErr == nil {
			execErr = err
		}
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	agg, err = e.aggregateWithRetry(job.ID)
	if err != nil {
		return nil, err
	}
	if !agg.Terminal() {
		if execErr != nil {
			return nil, execErr
		}
		return nil, fmt.Errorf("job %s left %d batches unfinished", job.ID, agg.Pending+agg.Running)
	}
	if agg.Completed == 0 && agg.Failed > 0 {
		if execErr != nil {
			return nil, execErr
		}
		return nil, fmt.Errorf("all %d batches failed", agg.Failed)
	}

	results, errList, err := e.collectResults(job.ID)
	if err != nil {
		return nil, err
	}

	result := database.JSONMap{
		"success_count": agg.Success,
		"error_count":   agg.Errors,
		"total_items":   totalItems,
		"errors":        errList,
	}

	if def.Finalize != nil {
		pub.SetPhase(PhaseFinalizing)
		finalized, err := def.Finalize(ctx, rc, results)
		if err != nil {
			return nil, fmt.Errorf("finalize: %w", err)
		}
		for k, v := range finalized {
			if _, reserved := result[k]; !reserved {
				result[k] = v
			}
		}
	}
	return result, nil
}

// workerLoop claims and runs batches until none remain. Worker zero
// additionally waits out batches still stamped by a dead process,
// reclaiming them once their heartbeat passes the stale window.
func (e *Executor) workerLoop(ctx context.Context, rc *RunContext, def *Definition, pub *Publisher, jobType string, idx, configured int, active *atomic.Int64) error {
	workerID := fmt.Sprintf("%s-w%d", e.workerPrefix, idx)
	for {
		if ctx.Err() != nil {
			return nil
		}
		if idx > 0 && e.load != nil && idx >= e.load.RecommendedWorkers(configured) {
			logger.Debug("worker %s shedding under load", workerID)
			return nil
		}

		batch, err := e.claimWithRetry(rc.JobID, workerID)
		if err != nil {
			return err
		}
		if batch == nil {
			agg, err := e.aggregateWithRetry(rc.JobID)
			if err != nil {
				return err
			}
			foreign := int64(agg.Running) - active.Load()
			if foreign <= 0 || idx != 0 {
				return nil
			}
			if _, err := e.batches.ReclaimStale(rc.JobID, e.reclaimAfter); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(e.heartbeat):
			}
			continue
		}

		active.Add(1)
		e.runBatch(ctx, rc, def, pub, jobType, batch)
		active.Add(-1)
	}
}

// runBatch processes one claimed batch to a terminal state. A panic in
// the batch machinery fails the batch; other batches continue.
func (e *Executor) runBatch(ctx context.Context, rc *RunContext, def *Definition, pub *Publisher, jobType string, batch *database.JobBatch) {
	start := time.Now()
	terminal := ""
	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker panic on batch %s: %v", batch.ID, r)
			if err := e.batches.Fail(batch.ID, fmt.Sprintf("panic: %v", r)); err != nil {
				logger.Error("failed to mark batch %s failed: %v", batch.ID, err)
			}
			terminal = database.BatchStatusFailed
		}
		if terminal != "" {
			metricBatchDuration.WithLabelValues(jobType).Observe(time.Since(start).Seconds())
			pub.BatchTerminal()
			e.publishBatchEvent(rc, batch, terminal)
		}
	}()

	var (
		processed, success, errCount int
		results                      []map[string]interface{}
		errs                         []string
	)

	if def.ProcessBatch != nil {
		outcome, err := def.ProcessBatch(ctx, rc, []string(batch.WorkItems))
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if ferr := e.batches.Fail(batch.ID, err.Error()); ferr != nil {
				logger.Error("failed to mark batch %s failed: %v", batch.ID, ferr)
			}
			terminal = database.BatchStatusFailed
			return
		}
		processed = len(batch.WorkItems)
		success = outcome.Success
		errCount = processed - success
		results = outcome.Results
		errs = outcome.Errors
		if len(errs) > maxBatchErrors {
			errs = errs[:maxBatchErrors]
		}
		metricItemsProcessed.WithLabelValues(jobType, outcomeSuccess).Add(float64(success))
		metricItemsProcessed.WithLabelValues(jobType, outcomeError).Add(float64(errCount))
		pub.Observe(int64(processed), int64(success), int64(errCount))
	} else {
		lastFlush := time.Now()
		flushedP, flushedS, flushedE := 0, 0, 0
		flush := func() {
			if err := e.reportWithRetry(batch.ID, processed, success, errCount); err != nil {
				logger.Warn("failed to report progress for batch %s: %v", batch.ID, err)
			}
			pub.Observe(int64(processed-flushedP), int64(success-flushedS), int64(errCount-flushedE))
			flushedP, flushedS, flushedE = processed, success, errCount
			lastFlush = time.Now()
		}

		for _, item := range batch.WorkItems {
			if ctx.Err() != nil {
				flush()
				return
			}
			itemResult, err := e.processItem(ctx, rc, def, item)
			if ctx.Err() != nil {
				flush()
				return
			}
			processed++
			if err != nil {
				errCount++
				if len(errs) < maxBatchErrors {
					errs = append(errs, fmt.Sprintf("%s: %v", item, err))
				}
				metricItemsProcessed.WithLabelValues(jobType, outcomeError).Inc()
			} else {
				success++
				if itemResult != nil {
					results = append(results, itemResult)
				}
				metricItemsProcessed.WithLabelValues(jobType, outcomeSuccess).Inc()
			}
			if processed-flushedP >= flushEvery || time.Since(lastFlush) >= e.heartbeat {
				flush()
			}
		}
		flush()
	}

	if err := e.reportWithRetry(batch.ID, processed, success, errCount); err != nil {
		logger.Warn("failed to report final counters for batch %s: %v", batch.ID, err)
	}
	if err := e.completeWithRetry(batch.ID, batchResults(results, errs)); err != nil {
		logger.Error("failed to complete batch %s: %v", batch.ID, err)
		if ferr := e.batches.Fail(batch.ID, fmt.Sprintf("complete: %v", err)); ferr != nil {
			logger.Error("failed to mark batch %s failed: %v", batch.ID, ferr)
		}
		terminal = database.BatchStatusFailed
		return
	}
	terminal = database.BatchStatusCompleted
}

// processItem runs one item with retry and optional timeout. Timeouts
// and cancellations are not retried; other failures back off
// exponentially while retries remain.
func (e *Executor) processItem(ctx context.Context, rc *RunContext, def *Definition, item string) (map[string]interface{}, error) {
	attempts := 1
	if !def.DisableRetry {
		attempts += def.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoffDelay(attempt - 1)):
			}
		}
		result, err := e.invokeProcess(ctx, rc, def, item)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

// invokeProcess calls the processor, converting panics into per-item
// errors and enforcing the per-item timeout when configured.
func (e *Executor) invokeProcess(ctx context.Context, rc *RunContext, def *Definition, item string) (map[string]interface{}, error) {
	if def.TimeoutPerItem <= 0 {
		return callProcess(ctx, rc, def, item)
	}

	ictx, cancel := context.WithTimeout(ctx, def.TimeoutPerItem)
	defer cancel()

	type outcome struct {
		result map[string]interface{}
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		result, err := callProcess(ictx, rc, def, item)
		ch <- outcome{result, err}
	}()
	select {
	case out := <-ch:
		return out.result, out.err
	case <-ictx.Done():
		return nil, ictx.Err()
	}
}

func callProcess(ctx context.Context, rc *RunContext, def *Definition, item string) (result map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("panic in %s processor: %v", def.Name, r)
		}
	}()
	return def.Process(ctx, rc, item)
}

// collectResults concatenates per-item results and bounded error lists
// from the job's terminal batches, in batch order.
func (e *Executor) collectResults(jobID string) ([]map[string]interface{}, []string, error) {
	batches, err := e.batches.ListBatches(jobID)
	if err != nil {
		return nil, nil, err
	}

	var results []map[string]interface{}
	errList := make([]string, 0)
	for _, batch := range batches {
		switch batch.Status {
		case database.BatchStatusCompleted:
			if items, ok := batch.Results["items"].([]interface{}); ok {
				for _, item := range items {
					if m, ok := item.(map[string]interface{}); ok {
						results = append(results, m)
					}
				}
			}
			if errs, ok := batch.Results["errors"].([]interface{}); ok {
				for _, e := range errs {
					if s, ok := e.(string); ok && len(errList) < maxBatchErrors {
						errList = append(errList, s)
					}
				}
			}
		case database.BatchStatusFailed:
			if batch.ErrorMessage != nil && len(errList) < maxBatchErrors {
				errList = append(errList, fmt.Sprintf("batch %d: %s", batch.BatchNumber, *batch.ErrorMessage))
			}
		}
	}
	return results, errList, nil
}

func (e *Executor) publishBatchEvent(rc *RunContext, batch *database.JobBatch, status string) {
	eventType := events.EventBatchCompleted
	if status == database.BatchStatusFailed {
		eventType = events.EventBatchFailed
	}
	busEvent := events.NewChannelEvent(eventType, catalog.ChannelFor(rc.CatalogID), "jobs", map[string]interface{}{
		"type":         "batch",
		"job_id":       rc.JobID,
		"batch_id":     batch.ID,
		"batch_number": batch.BatchNumber,
		"status":       status,
	})
	if err := e.store.Publish(catalog.ChannelFor(rc.CatalogID), busEvent); err != nil {
		logger.Debug("failed to publish batch event: %v", err)
	}
}

// Store gateway calls are retried once on transient failures; beyond
// that the error propagates and becomes batch- or job-fatal.

func (e *Executor) claimWithRetry(jobID, workerID string) (*database.JobBatch, error) {
	batch, err := e.batches.ClaimNext(jobID, workerID)
	if err != nil && isTransient(err) {
		time.Sleep(gatewayRetryDelay)
		batch, err = e.batches.ClaimNext(jobID, workerID)
	}
	return batch, err
}

func (e *Executor) aggregateWithRetry(jobID string) (*BatchAggregate, error) {
	agg, err := e.batches.Aggregate(jobID)
	if err != nil && isTransient(err) {
		time.Sleep(gatewayRetryDelay)
		agg, err = e.batches.Aggregate(jobID)
	}
	return agg, err
}

func (e *Executor) reportWithRetry(batchID string, processed, success, errCount int) error {
	err := e.batches.ReportProgress(batchID, processed, success, errCount)
	if err != nil && isTransient(err) {
		time.Sleep(gatewayRetryDelay)
		err = e.batches.ReportProgress(batchID, processed, success, errCount)
	}
	return err
}

func (e *Executor) completeWithRetry(batchID string, results database.JSONMap) error {
	err := e.batches.Complete(batchID, results)
	if err != nil && isTransient(err) {
		time.Sleep(gatewayRetryDelay)
		err = e.batches.Complete(batchID, results)
	}
	return err
}

func batchResults(results []map[string]interface{}, errs []string) database.JSONMap {
	items := make([]interface{}, len(results))
	for i, r := range results {
		items[i] = r
	}
	errList := make([]interface{}, len(errs))
	for i, s := range errs {
		errList[i] = s
	}
	return database.JSONMap{"items": items, "errors": errList}
}

func backoffDelay(attempt int) time.Duration {
	delay := retryBaseDelay << attempt
	if delay > retryMaxDelay || delay <= 0 {
		return retryMaxDelay
	}
	return delay
}

// isTransient recognizes driver-level failures worth one retry:
// lock contention on sqlite and connection hiccups on postgres.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidTransaction) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"database is locked",
		"database table is locked",
		"busy",
		"connection refused",
		"connection reset",
		"broken pipe",
		"bad connection",
		"i/o timeout",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func catalogIDOf(job *database.Job) string {
	if job.CatalogID != nil {
		return *job.CatalogID
	}
	return ""
}
