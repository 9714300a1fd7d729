package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/irjudson/lumina/internal/catalog"
	"github.com/irjudson/lumina/internal/config"
	"github.com/irjudson/lumina/internal/database"
	"github.com/irjudson/lumina/internal/events"
	"github.com/irjudson/lumina/internal/logger"
)

// ErrNotCancellable marks cancel requests against jobs that already
// reached a terminal state.
var ErrNotCancellable = errors.New("job not cancellable")

// ErrUnknownJobType marks submissions naming a job type the registry
// has never seen.
var ErrUnknownJobType = errors.New("unknown job type")

// Controller owns the job lifecycle: it accepts submissions, bounds how
// many jobs run at once, recovers interrupted jobs on start-up, and
// drives each job through the executor to a terminal row.
type Controller struct {
	db       *gorm.DB
	store    *catalog.Store
	registry *Registry
	batches  *BatchManager
	executor *Executor
	load     *LoadMonitor
	cfg      config.JobsConfig

	mu      sync.Mutex
	active  map[string]*jobHandle
	sem     chan struct{}
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// jobHandle tracks one dispatched job. The cancelled flag tells the
// run loop apart a user cancel from a shutdown, which both arrive as
// context cancellation.
type jobHandle struct {
	job       *database.Job
	cancel    context.CancelFunc
	publisher *Publisher
	cancelled atomic.Bool
}

// NewController wires the job subsystem against a database and catalog
// store. The load monitor may be nil when adaptive workers are off.
func NewController(db *gorm.DB, store *catalog.Store, registry *Registry, load *LoadMonitor, cfg config.JobsConfig) *Controller {
	batches := NewBatchManager(db)
	return &Controller{
		db:       db,
		store:    store,
		registry: registry,
		batches:  batches,
		executor: NewExecutor(store, batches, load, cfg.HeartbeatInterval, cfg.ReclaimAfter),
		load:     load,
		cfg:      cfg,
		active:   make(map[string]*jobHandle),
	}
}

// Start freezes the registry, begins load sampling, and re-dispatches
// jobs left behind by a previous process: running jobs resume their
// remaining batches, pending jobs enter the queue.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("job controller already started")
	}
	c.started = true
	c.baseCtx, c.cancel = context.WithCancel(context.Background())
	maxConcurrent := c.cfg.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	c.sem = make(chan struct{}, maxConcurrent)
	c.mu.Unlock()

	c.registry.Freeze()
	if c.load != nil {
		c.load.Start()
	}
	return c.recover()
}

// Stop cancels all running jobs and waits for them to unwind. Rows
// still running stay that way and are resumed on the next Start.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil
	}
	cancel := c.cancel
	c.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if c.load != nil {
		c.load.Stop()
	}
	return err
}

// recover re-dispatches rows interrupted by a crash or restart.
// Batches stamped by the dead process are reclaimed up front so
// resumed workers do not wait out the stale window.
func (c *Controller) recover() error {
	var running []database.Job
	if err := c.db.Where("status = ?", database.JobStatusRunning).Order("created_at ASC").Find(&running).Error; err != nil {
		return fmt.Errorf("scanning interrupted jobs: %w", err)
	}
	for i := range running {
		job := running[i]
		if n, err := c.batches.ReclaimStale(job.ID, c.cfg.ReclaimAfter); err != nil {
			logger.Warn("failed to reclaim batches for job %s: %v", job.ID, err)
		} else if n > 0 {
			logger.Info("reclaimed %d stale batches for job %s", n, job.ID)
		}
		logger.Info("resuming interrupted job %s (%s)", job.ID, job.JobType)
		c.dispatch(&job)
	}

	var pending []database.Job
	if err := c.db.Where("status = ?", database.JobStatusPending).Order("created_at ASC").Find(&pending).Error; err != nil {
		return fmt.Errorf("scanning queued jobs: %w", err)
	}
	for i := range pending {
		job := pending[i]
		logger.Info("requeuing job %s (%s)", job.ID, job.JobType)
		c.dispatch(&job)
	}
	return nil
}

// Submit validates and persists a new job, then queues it for
// execution. The returned row reflects the pending state.
func (c *Controller) Submit(jobType, catalogID string, params map[string]interface{}) (*database.Job, error) {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if !started {
		return nil, errors.New("job controller not started")
	}

	if _, ok := c.registry.Get(jobType); !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownJobType, jobType)
	}
	var catalogRef *string
	if catalogID != "" {
		if _, err := c.store.GetCatalog(catalogID); err != nil {
			return nil, err
		}
		catalogRef = &catalogID
	}
	if params == nil {
		params = map[string]interface{}{}
	}

	job := &database.Job{
		ID:         uuid.NewString(),
		CatalogID:  catalogRef,
		JobType:    jobType,
		Status:     database.JobStatusPending,
		Parameters: database.JSONMap(params),
	}
	if err := c.db.Create(job).Error; err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	metricJobsStarted.WithLabelValues(jobType).Inc()
	c.publishJobEvent(events.EventJobSubmitted, job, "")
	c.dispatch(job)
	return job, nil
}

// Cancel flags the job cancelled, cancels its context, and marks its
// unfinished batches. Cancelling an already cancelled job is a no-op;
// cancelling any other terminal job is an error.
func (c *Controller) Cancel(jobID string) error {
	job, err := c.Get(jobID)
	if err != nil {
		return err
	}

	c.mu.Lock()
	handle := c.active[jobID]
	c.mu.Unlock()
	if handle != nil {
		handle.cancelled.Store(true)
	}

	now := time.Now()
	res := c.db.Model(&database.Job{}).
		Where("id = ? AND status IN ?", jobID, []string{database.JobStatusPending, database.JobStatusRunning}).
		Updates(map[string]interface{}{
			"status":       database.JobStatusCancelled,
			"completed_at": &now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return fmt.Errorf("cancelling job %s: %w", jobID, res.Error)
	}
	if res.RowsAffected == 0 {
		if job.Status == database.JobStatusCancelled {
			return nil
		}
		return fmt.Errorf("job %s already %s: %w", jobID, job.Status, ErrNotCancellable)
	}

	if n, err := c.batches.CancelJobBatches(jobID); err != nil {
		logger.Warn("failed to cancel batches for job %s: %v", jobID, err)
	} else if n > 0 {
		logger.Info("cancelled %d batches for job %s", n, jobID)
	}
	if handle != nil {
		handle.cancel()
	}

	metricJobsCompleted.WithLabelValues(job.JobType, database.JobStatusCancelled).Inc()
	c.publishJobEvent(events.EventJobCancelled, job, "")
	c.trimHistory(job.CatalogID)
	return nil
}

// Get returns a job row by ID.
func (c *Controller) Get(jobID string) (*database.Job, error) {
	var job database.Job
	if err := c.db.First(&job, "id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("job %s: %w", jobID, catalog.ErrNotFound)
		}
		return nil, err
	}
	return &job, nil
}

// List returns jobs newest first, optionally filtered by catalog
// and status.
func (c *Controller) List(catalogID, status string) ([]database.Job, error) {
	query := c.db.Model(&database.Job{}).Order("created_at DESC")
	if catalogID != "" {
		query = query.Where("catalog_id = ?", catalogID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var jobs []database.Job
	if err := query.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// ProgressTail returns up to n recent progress events for a job,
// oldest first. For jobs no longer running, the snapshot mirrored on
// the job row is returned as a single event.
func (c *Controller) ProgressTail(jobID string, n int) ([]ProgressEvent, error) {
	c.mu.Lock()
	handle := c.active[jobID]
	c.mu.Unlock()
	if handle != nil {
		return handle.publisher.Tail(n), nil
	}

	job, err := c.Get(jobID)
	if err != nil {
		return nil, err
	}
	if len(job.Progress) == 0 {
		return nil, nil
	}
	return []ProgressEvent{progressFromMap(jobID, job.Progress)}, nil
}

// dispatch registers the job as active and hands it to the run loop.
// Unknown job types (a definition removed between releases) fail the
// row instead of stranding it.
func (c *Controller) dispatch(job *database.Job) {
	def, ok := c.registry.Get(job.JobType)
	if !ok {
		msg := fmt.Sprintf("unknown job type %q", job.JobType)
		logger.Error("job %s: %s", job.ID, msg)
		c.failJob(job, msg)
		return
	}

	ctx, cancel := context.WithCancel(c.baseCtx)
	handle := &jobHandle{
		job:       job,
		cancel:    cancel,
		publisher: NewPublisher(c.db, c.store, job.ID, catalogIDOf(job)),
	}

	c.mu.Lock()
	c.active[job.ID] = handle
	c.mu.Unlock()

	c.wg.Add(1)
	go c.runJob(ctx, handle, def)
}

// runJob waits for a slot, promotes the row to running, and settles it
// into a terminal state from the executor's outcome. On shutdown the
// row is left running so the next Start resumes it.
func (c *Controller) runJob(ctx context.Context, handle *jobHandle, def *Definition) {
	job := handle.job
	defer c.wg.Done()
	defer func() {
		handle.cancel()
		c.mu.Lock()
		delete(c.active, job.ID)
		c.mu.Unlock()
	}()

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-c.sem }()

	res := c.db.Model(&database.Job{}).
		Where("id = ? AND status IN ?", job.ID, []string{database.JobStatusPending, database.JobStatusRunning}).
		Updates(map[string]interface{}{"status": database.JobStatusRunning, "updated_at": time.Now()})
	if res.Error != nil {
		logger.Error("failed to mark job %s running: %v", job.ID, res.Error)
		return
	}
	if res.RowsAffected == 0 {
		// Cancelled while queued.
		return
	}

	metricJobsRunning.Inc()
	defer metricJobsRunning.Dec()
	logger.Info("job %s (%s) started", job.ID, job.JobType)
	c.publishJobEvent(events.EventJobStarted, job, "")

	handle.publisher.Start()
	result, err := c.executor.Run(ctx, job, def, handle.publisher)
	switch {
	case err == nil:
		c.settleJob(handle, database.JobStatusSuccess, result, "")
	case handle.cancelled.Load() || (errors.Is(err, context.Canceled) && c.baseCtx.Err() == nil):
		// Cancel already settled the row and published the event.
		handle.publisher.SetPhase(database.JobStatusCancelled)
		handle.publisher.Stop()
		logger.Info("job %s (%s) cancelled", job.ID, job.JobType)
	case errors.Is(err, context.Canceled):
		// Shutdown: leave the row running for restart recovery.
		handle.publisher.Stop()
		logger.Info("job %s (%s) interrupted by shutdown", job.ID, job.JobType)
	default:
		c.settleJob(handle, database.JobStatusFailed, nil, err.Error())
	}
}

// settleJob writes the terminal row state and emits the final progress
// event and bus event. A zero-row update means the job was cancelled
// concurrently, in which case the cancel path already settled it.
func (c *Controller) settleJob(handle *jobHandle, status string, result database.JSONMap, errMsg string) {
	job := handle.job
	now := time.Now()
	updates := map[string]interface{}{
		"status":       status,
		"completed_at": &now,
		"updated_at":   now,
	}
	if result != nil {
		updates["result"] = result
	}
	if errMsg != "" {
		updates["error"] = errMsg
	}
	res := c.db.Model(&database.Job{}).
		Where("id = ? AND status = ?", job.ID, database.JobStatusRunning).
		Updates(updates)
	if res.Error != nil {
		logger.Error("failed to settle job %s: %v", job.ID, res.Error)
	}
	settled := res.Error == nil && res.RowsAffected > 0

	finalStatus := status
	if !settled {
		finalStatus = database.JobStatusCancelled
	}
	handle.publisher.SetPhase(finalStatus)
	handle.publisher.Stop()

	if !settled {
		logger.Info("job %s (%s) cancelled", job.ID, job.JobType)
		return
	}

	switch status {
	case database.JobStatusSuccess:
		logger.Info("job %s (%s) completed", job.ID, job.JobType)
		c.publishJobEvent(events.EventJobCompleted, job, "")
	case database.JobStatusFailed:
		logger.Error("job %s (%s) failed: %s", job.ID, job.JobType, errMsg)
		c.publishJobEvent(events.EventJobFailed, job, errMsg)
	}
	metricJobsCompleted.WithLabelValues(job.JobType, status).Inc()
	c.trimHistory(job.CatalogID)
}

// failJob marks a row failed outside the normal run loop, for jobs
// that never reach the executor.
func (c *Controller) failJob(job *database.Job, msg string) {
	now := time.Now()
	err := c.db.Model(&database.Job{}).
		Where("id = ? AND status IN ?", job.ID, []string{database.JobStatusPending, database.JobStatusRunning}).
		Updates(map[string]interface{}{
			"status":       database.JobStatusFailed,
			"error":        msg,
			"completed_at": &now,
			"updated_at":   now,
		}).Error
	if err != nil {
		logger.Error("failed to mark job %s failed: %v", job.ID, err)
		return
	}
	metricJobsCompleted.WithLabelValues(job.JobType, database.JobStatusFailed).Inc()
	c.publishJobEvent(events.EventJobFailed, job, msg)
}

func (c *Controller) publishJobEvent(eventType events.EventType, job *database.Job, errMsg string) {
	data := map[string]interface{}{
		"type":     "job",
		"job_id":   job.ID,
		"job_type": job.JobType,
	}
	if errMsg != "" {
		data["error"] = errMsg
	}
	channel := catalog.ChannelFor(catalogIDOf(job))
	if err := c.store.Publish(channel, events.NewChannelEvent(eventType, channel, "jobs", data)); err != nil {
		logger.Debug("failed to publish job event: %v", err)
	}
}

// trimHistory deletes the oldest terminal jobs of a catalog beyond the
// configured history limit, batches first.
func (c *Controller) trimHistory(catalogID *string) {
	if catalogID == nil || c.cfg.HistoryLimit <= 0 {
		return
	}
	terminal := []string{database.JobStatusSuccess, database.JobStatusFailed, database.JobStatusCancelled}
	var ids []string
	err := c.db.Model(&database.Job{}).
		Where("catalog_id = ? AND status IN ?", *catalogID, terminal).
		Order("created_at DESC").
		Pluck("id", &ids).Error
	if err != nil {
		logger.Warn("failed to scan job history for catalog %s: %v", *catalogID, err)
		return
	}
	if len(ids) <= c.cfg.HistoryLimit {
		return
	}
	stale := ids[c.cfg.HistoryLimit:]
	if err := c.db.Where("parent_job_id IN ?", stale).Delete(&database.JobBatch{}).Error; err != nil {
		logger.Warn("failed to trim batches for catalog %s: %v", *catalogID, err)
		return
	}
	if err := c.db.Where("id IN ?", stale).Delete(&database.Job{}).Error; err != nil {
		logger.Warn("failed to trim jobs for catalog %s: %v", *catalogID, err)
		return
	}
	logger.Debug("trimmed %d jobs from catalog %s history", len(stale), *catalogID)
}

// progressFromMap rebuilds a progress event from the snapshot mirrored
// on the job row. JSON round-trips render numbers as float64.
func progressFromMap(jobID string, m database.JSONMap) ProgressEvent {
	event := ProgressEvent{JobID: jobID}
	if s, ok := m["phase"].(string); ok {
		event.Phase = s
	}
	event.Processed = mapInt64(m, "processed")
	event.Total = mapInt64(m, "total")
	event.Success = mapInt64(m, "success")
	event.Errors = mapInt64(m, "error")
	if f, ok := m["rate_per_sec_ewma"].(float64); ok {
		event.RatePerSec = f
	}
	if f, ok := m["eta_seconds"].(float64); ok {
		event.ETASeconds = f
	}
	return event
}

func mapInt64(m database.JSONMap, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
