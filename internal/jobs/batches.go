package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/irjudson/lumina/internal/database"
)

// errClaimContended reports that another worker won the guarded update
// race for a pending batch.
var errClaimContended = errors.New("batch claim contended")

// claimAttempts bounds retries of the claim race before giving up.
const claimAttempts = 8

// BatchManager owns every job_batches state transition. The table is
// the durable work queue: workers claim rows, stream counters into
// them, and move them to a terminal state exactly once.
type BatchManager struct {
	db *gorm.DB
}

// NewBatchManager creates a batch manager on the given database.
func NewBatchManager(db *gorm.DB) *BatchManager {
	return &BatchManager{db: db}
}

// CreateBatches partitions items into ceil(n/batchSize) pending rows in
// a single transaction and returns the batch count.
func (bm *BatchManager) CreateBatches(jobID, catalogID, jobType string, items []string, batchSize int) (int, error) {
	if batchSize < 1 {
		return 0, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if len(items) == 0 {
		return 0, nil
	}

	total := (len(items) + batchSize - 1) / batchSize
	rows := make([]database.JobBatch, 0, total)
	for i := 0; i < total; i++ {
		lo := i * batchSize
		hi := lo + batchSize
		if hi > len(items) {
			hi = len(items)
		}
		rows = append(rows, database.JobBatch{
			ID:           uuid.NewString(),
			ParentJobID:  jobID,
			CatalogID:    catalogID,
			BatchNumber:  i + 1,
			TotalBatches: total,
			JobType:      jobType,
			Status:       database.BatchStatusPending,
			WorkItems:    database.StringList(items[lo:hi]),
			ItemsCount:   hi - lo,
		})
	}

	err := bm.db.Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(rows, 100).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create batches for job %s: %w", jobID, err)
	}
	return total, nil
}

// ClaimNext atomically hands one pending batch of the job to workerID,
// or returns (nil, nil) when none remain. At most one caller observes a
// given batch in running: postgres takes the row lock with SKIP LOCKED,
// and on every backend the transition itself is a guarded update on
// status = pending, so a lost race affects zero rows and is retried.
func (bm *BatchManager) ClaimNext(jobID, workerID string) (*database.JobBatch, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		var batch database.JobBatch
		err := bm.db.Transaction(func(tx *gorm.DB) error {
			q := tx.Where("parent_job_id = ? AND status = ?", jobID, database.BatchStatusPending).
				Order("batch_number")
			if tx.Dialector.Name() == "postgres" {
				q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
			}
			if err := q.First(&batch).Error; err != nil {
				return err
			}

			now := time.Now().UTC()
			res := tx.Model(&database.JobBatch{}).
				Where("id = ? AND status = ?", batch.ID, database.BatchStatusPending).
				Updates(map[string]interface{}{
					"status":     database.BatchStatusRunning,
					"worker_id":  workerID,
					"started_at": now,
					"updated_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return errClaimContended
			}
			batch.Status = database.BatchStatusRunning
			batch.WorkerID = &workerID
			batch.StartedAt = &now
			return nil
		})
		switch {
		case err == nil:
			return &batch, nil
		case errors.Is(err, gorm.ErrRecordNotFound):
			return nil, nil
		case errors.Is(err, errClaimContended):
			continue
		default:
			return nil, fmt.Errorf("failed to claim batch for job %s: %w", jobID, err)
		}
	}
	return nil, fmt.Errorf("failed to claim batch for job %s: %w", jobID, errClaimContended)
}

// ReportProgress writes the batch's running counters. Counters never
// decrease; stale reports lose to the CASE guard. The write also bumps
// updated_at, which doubles as the claim heartbeat.
func (bm *BatchManager) ReportProgress(batchID string, processed, success, errCount int) error {
	res := bm.db.Model(&database.JobBatch{}).
		Where("id = ? AND status = ?", batchID, database.BatchStatusRunning).
		Updates(map[string]interface{}{
			"processed_count": gorm.Expr("CASE WHEN processed_count < ? THEN ? ELSE processed_count END", processed, processed),
			"success_count":   gorm.Expr("CASE WHEN success_count < ? THEN ? ELSE success_count END", success, success),
			"error_count":     gorm.Expr("CASE WHEN error_count < ? THEN ? ELSE error_count END", errCount, errCount),
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to report progress for batch %s: %w", batchID, res.Error)
	}
	return nil
}

// Complete moves a batch to completed and stores its results. Terminal
// states are sticky, so completing a finished or cancelled batch is a
// no-op.
func (bm *BatchManager) Complete(batchID string, results database.JSONMap) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":       database.BatchStatusCompleted,
		"completed_at": now,
		"updated_at":   now,
	}
	if results != nil {
		updates["results"] = results
	}
	res := bm.db.Model(&database.JobBatch{}).
		Where("id = ? AND status IN ?", batchID, []string{database.BatchStatusPending, database.BatchStatusRunning}).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("failed to complete batch %s: %w", batchID, res.Error)
	}
	return nil
}

// Fail moves a batch to failed with an error message. Idempotent like
// Complete.
func (bm *BatchManager) Fail(batchID, message string) error {
	now := time.Now().UTC()
	res := bm.db.Model(&database.JobBatch{}).
		Where("id = ? AND status IN ?", batchID, []string{database.BatchStatusPending, database.BatchStatusRunning}).
		Updates(map[string]interface{}{
			"status":        database.BatchStatusFailed,
			"error_message": message,
			"completed_at":  now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to fail batch %s: %w", batchID, res.Error)
	}
	return nil
}

// CancelJobBatches moves every non-terminal batch of a job to
// cancelled and returns how many were affected.
func (bm *BatchManager) CancelJobBatches(jobID string) (int64, error) {
	now := time.Now().UTC()
	res := bm.db.Model(&database.JobBatch{}).
		Where("parent_job_id = ? AND status IN ?", jobID, []string{database.BatchStatusPending, database.BatchStatusRunning}).
		Updates(map[string]interface{}{
			"status":       database.BatchStatusCancelled,
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to cancel batches for job %s: %w", jobID, res.Error)
	}
	return res.RowsAffected, nil
}

// BatchAggregate summarizes the batches of one job.
type BatchAggregate struct {
	Total      int
	Pending    int
	Running    int
	Completed  int
	Failed     int
	Cancelled  int
	Processed  int
	Success    int
	Errors     int
	TotalItems int
}

// Terminal reports whether every batch reached a terminal state.
func (a *BatchAggregate) Terminal() bool {
	return a.Pending == 0 && a.Running == 0
}

// Aggregate sums batch counters per status for one job.
func (bm *BatchManager) Aggregate(jobID string) (*BatchAggregate, error) {
	var rows []struct {
		Status    string
		Count     int
		Processed int
		Success   int
		Errs      int
		Items     int
	}
	err := bm.db.Model(&database.JobBatch{}).
		Select("status, COUNT(*) AS count, COALESCE(SUM(processed_count), 0) AS processed, " +
			"COALESCE(SUM(success_count), 0) AS success, COALESCE(SUM(error_count), 0) AS errs, " +
			"COALESCE(SUM(items_count), 0) AS items").
		Where("parent_job_id = ?", jobID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate batches for job %s: %w", jobID, err)
	}

	agg := &BatchAggregate{}
	for _, row := range rows {
		agg.Total += row.Count
		agg.Processed += row.Processed
		agg.Success += row.Success
		agg.Errors += row.Errs
		agg.TotalItems += row.Items
		switch row.Status {
		case database.BatchStatusPending:
			agg.Pending += row.Count
		case database.BatchStatusRunning:
			agg.Running += row.Count
		case database.BatchStatusCompleted:
			agg.Completed += row.Count
		case database.BatchStatusFailed:
			agg.Failed += row.Count
		case database.BatchStatusCancelled:
			agg.Cancelled += row.Count
		}
	}
	return agg, nil
}

// ListBatches returns every batch of a job in batch order.
func (bm *BatchManager) ListBatches(jobID string) ([]database.JobBatch, error) {
	var batches []database.JobBatch
	err := bm.db.Where("parent_job_id = ?", jobID).Order("batch_number").Find(&batches).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list batches for job %s: %w", jobID, err)
	}
	return batches, nil
}

// ReclaimStale returns running batches whose heartbeat is older than
// the window back to pending so surviving workers can re-claim them.
// The worker stamp is cleared; re-processing is safe because per-item
// side effects are idempotent upserts.
func (bm *BatchManager) ReclaimStale(jobID string, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res := bm.db.Model(&database.JobBatch{}).
		Where("parent_job_id = ? AND status = ? AND updated_at < ?", jobID, database.BatchStatusRunning, cutoff).
		Updates(map[string]interface{}{
			"status":     database.BatchStatusPending,
			"worker_id":  nil,
			"started_at": nil,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to reclaim stale batches for job %s: %w", jobID, res.Error)
	}
	return res.RowsAffected, nil
}
