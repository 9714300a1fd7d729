package database

import (
	"time"
)

// Job status values. Terminal states are success, failed, and cancelled;
// transitions are monotonic.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusSuccess   = "success"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// Batch status values
const (
	BatchStatusPending   = "pending"
	BatchStatusRunning   = "running"
	BatchStatusCompleted = "completed"
	BatchStatusFailed    = "failed"
	BatchStatusCancelled = "cancelled"
)

// Image status values
const (
	ImageStatusPending     = "pending"
	ImageStatusAnalyzing   = "analyzing"
	ImageStatusNeedsReview = "needs_review"
	ImageStatusComplete    = "complete"
)

// File types
const (
	FileTypeImage = "image"
	FileTypeVideo = "video"
)

// Duplicate group similarity types
const (
	SimilarityExact      = "exact"
	SimilarityPerceptual = "perceptual"
)

// Burst best-image selection methods
const (
	SelectionQuality = "quality"
	SelectionFirst   = "first"
	SelectionMiddle  = "middle"
)

// Catalog is a logical photo library rooted at one or more source directories
type Catalog struct {
	ID                 string     `gorm:"primaryKey;size:36" json:"id"`
	Name               string     `gorm:"uniqueIndex;not null;size:255" json:"name"`
	SourceDirectories  StringList `gorm:"type:text" json:"source_directories"`
	OrganizedDirectory *string    `json:"organized_directory,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Image is one media file in a catalog. Perceptual hashes, when present,
// are 16 lowercase hex digits (64 bits).
type Image struct {
	ID              string     `gorm:"primaryKey;size:64" json:"id"`
	CatalogID       string     `gorm:"not null;size:36;index:idx_images_catalog_path,priority:1" json:"catalog_id"`
	SourcePath      string     `gorm:"not null;index:idx_images_catalog_path,priority:2" json:"source_path"`
	FileType        string     `gorm:"size:16;default:'image'" json:"file_type"`
	Checksum        string     `gorm:"index;size:64" json:"checksum"`
	SizeBytes       int64      `json:"size_bytes"`
	Dates           JSONMap    `gorm:"type:text" json:"dates,omitempty"`
	Metadata        JSONMap    `gorm:"column:metadata;type:text" json:"metadata,omitempty"`
	ThumbnailPath   *string    `json:"thumbnail_path,omitempty"`
	DHash           *string    `gorm:"column:dhash;size:16" json:"dhash,omitempty"`
	AHash           *string    `gorm:"column:ahash;size:16" json:"ahash,omitempty"`
	WHash           *string    `gorm:"column:whash;size:16" json:"whash,omitempty"`
	QualityScore    *float64   `json:"quality_score,omitempty"`
	Status          string     `gorm:"size:16;default:'pending'" json:"status"`
	ProcessingFlags JSONMap    `gorm:"type:text" json:"processing_flags,omitempty"`
	BurstID         *string    `gorm:"size:36;index" json:"burst_id,omitempty"`
	BurstSequence   *int       `json:"burst_sequence,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Job is one submitted analysis run over a catalog
type Job struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	CatalogID   *string    `gorm:"index;size:36" json:"catalog_id,omitempty"`
	JobType     string     `gorm:"not null;size:64;index" json:"job_type"`
	Status      string     `gorm:"not null;size:16;default:'pending';index" json:"status"`
	Parameters  JSONMap    `gorm:"type:text" json:"parameters,omitempty"`
	Progress    JSONMap    `gorm:"type:text" json:"progress,omitempty"`
	Result      JSONMap    `gorm:"type:text" json:"result,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobBatch is one durable partition of a job's work set. UpdatedAt doubles
// as the claim heartbeat for restart reclaim.
type JobBatch struct {
	ID             string     `gorm:"primaryKey;size:36" json:"id"`
	ParentJobID    string     `gorm:"index;not null;size:36" json:"parent_job_id"`
	CatalogID      string     `gorm:"size:36" json:"catalog_id"`
	BatchNumber    int        `gorm:"not null" json:"batch_number"`
	TotalBatches   int        `gorm:"not null" json:"total_batches"`
	JobType        string     `gorm:"size:64" json:"job_type"`
	Status         string     `gorm:"not null;size:16;default:'pending';index" json:"status"`
	WorkItems      StringList `gorm:"type:text" json:"work_items,omitempty"`
	ItemsCount     int        `json:"items_count"`
	WorkerID       *string    `gorm:"size:64" json:"worker_id,omitempty"`
	ProcessedCount int        `json:"processed_count"`
	SuccessCount   int        `json:"success_count"`
	ErrorCount     int        `json:"error_count"`
	Results        JSONMap    `gorm:"type:text" json:"results,omitempty"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// DuplicateGroup is a set of visually or byte identical images
type DuplicateGroup struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	CatalogID      string    `gorm:"index;not null;size:36" json:"catalog_id"`
	PrimaryImageID string    `gorm:"not null;size:64" json:"primary_image_id"`
	SimilarityType string    `gorm:"not null;size:16" json:"similarity_type"`
	Confidence     int       `json:"confidence"`
	Reviewed       bool      `gorm:"default:false" json:"reviewed"`
	CreatedAt      time.Time `json:"created_at"`
}

// DuplicateMember links an image into a duplicate group
type DuplicateMember struct {
	GroupID         uint   `gorm:"primaryKey;autoIncrement:false" json:"group_id"`
	ImageID         string `gorm:"primaryKey;size:64" json:"image_id"`
	SimilarityScore int    `json:"similarity_score"`
}

// Burst is a rapid same-camera capture sequence
type Burst struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	CatalogID       string    `gorm:"index;not null;size:36" json:"catalog_id"`
	ImageCount      int       `json:"image_count"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationSeconds float64   `json:"duration_seconds"`
	CameraMake      *string   `gorm:"size:128" json:"camera_make,omitempty"`
	CameraModel     *string   `gorm:"size:128" json:"camera_model,omitempty"`
	BestImageID     *string   `gorm:"size:64" json:"best_image_id,omitempty"`
	SelectionMethod string    `gorm:"size:16;default:'quality'" json:"selection_method"`
	CreatedAt       time.Time `json:"created_at"`
}

// Tag is a categorization label scoped to a catalog
type Tag struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CatalogID string    `gorm:"not null;size:36;uniqueIndex:idx_tags_catalog_name,priority:1" json:"catalog_id"`
	Name      string    `gorm:"not null;size:128;uniqueIndex:idx_tags_catalog_name,priority:2" json:"name"`
	Category  *string   `gorm:"size:64" json:"category,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ImageTag links an image to a tag with a confidence score
type ImageTag struct {
	ImageID    string    `gorm:"primaryKey;size:64" json:"image_id"`
	TagID      uint      `gorm:"primaryKey;autoIncrement:false" json:"tag_id"`
	Confidence float64   `gorm:"default:1" json:"confidence"`
	Source     string    `gorm:"size:32" json:"source"`
	CreatedAt  time.Time `json:"created_at"`
}
