// Package catalog is the gateway between job logic and the relational
// store. It owns catalog and image persistence, duplicate and burst
// group replacement, tag storage, and best-effort event publication.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/irjudson/lumina/internal/analysis/bursts"
	"github.com/irjudson/lumina/internal/analysis/duplicates"
	"github.com/irjudson/lumina/internal/database"
	"github.com/irjudson/lumina/internal/events"
)

// ErrNotFound is returned when a catalog or image does not exist
var ErrNotFound = errors.New("not found")

// Store provides catalog-scoped data access for jobs and the API
type Store struct {
	db  *gorm.DB
	bus events.EventBus
}

// NewStore creates a store backed by the given database connection.
// The event bus may be nil; publishes then become no-ops.
func NewStore(db *gorm.DB, bus events.EventBus) *Store {
	return &Store{db: db, bus: bus}
}

// DB exposes the underlying connection for components that manage their
// own queries, such as the batch manager.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// ImageID derives the stable image identifier for a file within a
// catalog. Re-scanning the same path always yields the same id.
func ImageID(catalogID, sourcePath string) string {
	sum := sha256.Sum256([]byte(catalogID + "|" + sourcePath))
	return hex.EncodeToString(sum[:16])
}

// CreateCatalog registers a new catalog with a unique name
func (s *Store) CreateCatalog(name string, sourceDirs []string) (*database.Catalog, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("catalog name is required")
	}
	if len(sourceDirs) == 0 {
		return nil, fmt.Errorf("at least one source directory is required")
	}

	cat := &database.Catalog{
		ID:                uuid.NewString(),
		Name:              name,
		SourceDirectories: sourceDirs,
	}
	if err := s.db.Create(cat).Error; err != nil {
		return nil, fmt.Errorf("failed to create catalog: %w", err)
	}

	if s.bus != nil {
		event := events.NewSystemEvent(events.EventCatalogCreated,
			"Catalog Created",
			fmt.Sprintf("catalog %q created with %d source directories", name, len(sourceDirs)))
		event.Data["catalog_id"] = cat.ID
		s.bus.PublishAsync(event)
	}
	return cat, nil
}

// GetCatalog retrieves a catalog by id
func (s *Store) GetCatalog(id string) (*database.Catalog, error) {
	var cat database.Catalog
	if err := s.db.First(&cat, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("catalog %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return &cat, nil
}

// ListCatalogs returns all catalogs ordered by creation time
func (s *Store) ListCatalogs() ([]database.Catalog, error) {
	var cats []database.Catalog
	if err := s.db.Order("created_at").Find(&cats).Error; err != nil {
		return nil, fmt.Errorf("failed to list catalogs: %w", err)
	}
	return cats, nil
}

// ListSourceDirectories returns the source directories of a catalog
func (s *Store) ListSourceDirectories(catalogID string) ([]string, error) {
	cat, err := s.GetCatalog(catalogID)
	if err != nil {
		return nil, err
	}
	return cat.SourceDirectories, nil
}

// ListImagesWithoutHashes returns ids of images that still need
// perceptual hashes
func (s *Store) ListImagesWithoutHashes(catalogID string) ([]string, error) {
	var ids []string
	err := s.db.Model(&database.Image{}).
		Where("catalog_id = ? AND dhash IS NULL AND file_type = ?", catalogID, database.FileTypeImage).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unhashed images: %w", err)
	}
	return ids, nil
}

// ListImagesWithHashes returns the hash projection used by duplicate
// grouping
func (s *Store) ListImagesWithHashes(catalogID string) ([]duplicates.Image, error) {
	var rows []database.Image
	err := s.db.
		Where("catalog_id = ? AND dhash IS NOT NULL", catalogID).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list hashed images: %w", err)
	}

	out := make([]duplicates.Image, 0, len(rows))
	for _, img := range rows {
		d := duplicates.Image{
			ID:           img.ID,
			Checksum:     img.Checksum,
			SizeBytes:    img.SizeBytes,
			QualityScore: img.QualityScore,
		}
		if img.DHash != nil {
			d.DHash = *img.DHash
		}
		if img.AHash != nil {
			d.AHash = *img.AHash
		}
		if img.WHash != nil {
			d.WHash = *img.WHash
		}
		out = append(out, d)
	}
	return out, nil
}

// ListImagesWithTimestamps returns the time and camera projection used
// by burst detection. The timestamp comes from the image's dates map;
// the camera label joins make and model from its metadata.
func (s *Store) ListImagesWithTimestamps(catalogID string) ([]bursts.Image, error) {
	var rows []database.Image
	err := s.db.
		Where("catalog_id = ? AND file_type = ?", catalogID, database.FileTypeImage).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	out := make([]bursts.Image, 0, len(rows))
	for _, img := range rows {
		b := bursts.Image{
			ID:           img.ID,
			QualityScore: img.QualityScore,
		}
		if ts, ok := SelectedTimestamp(img.Dates); ok {
			b.Timestamp = &ts
		}
		b.Camera = cameraLabel(img.Metadata)
		out = append(out, b)
	}
	return out, nil
}

// GetImage loads one image row
func (s *Store) GetImage(catalogID, imageID string) (*database.Image, error) {
	var img database.Image
	err := s.db.First(&img, "catalog_id = ? AND id = ?", catalogID, imageID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("image %s: %w", imageID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	return &img, nil
}

// GetImagePath returns the source path of an image
func (s *Store) GetImagePath(catalogID, imageID string) (string, error) {
	img, err := s.GetImage(catalogID, imageID)
	if err != nil {
		return "", err
	}
	return img.SourcePath, nil
}

// ListImages returns images in a catalog with optional status filter
// and pagination, for API consumption
func (s *Store) ListImages(catalogID string, status string, limit, offset int) ([]database.Image, error) {
	q := s.db.Where("catalog_id = ?", catalogID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []database.Image
	if err := q.Offset(offset).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	return rows, nil
}

// UpsertImage creates or refreshes an image row. The conflict target is
// the derived primary key, so re-scans are idempotent. Computed fields
// (hashes, thumbnail, quality, burst linkage) survive the upsert.
func (s *Store) UpsertImage(img *database.Image) error {
	if img.ID == "" {
		img.ID = ImageID(img.CatalogID, img.SourcePath)
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"source_path", "file_type", "checksum", "size_bytes",
			"dates", "metadata", "status", "processing_flags", "updated_at",
		}),
	}).Create(img).Error
	if err != nil {
		return fmt.Errorf("failed to upsert image %s: %w", img.ID, err)
	}
	return nil
}

// UpdateImageHashes writes all three perceptual hashes on one row
func (s *Store) UpdateImageHashes(imageID, dhash, ahash, whash string) error {
	err := s.db.Model(&database.Image{}).
		Where("id = ?", imageID).
		Updates(map[string]interface{}{
			"dhash": dhash,
			"ahash": ahash,
			"whash": whash,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to update hashes for %s: %w", imageID, err)
	}
	return nil
}

// UpdateImageQuality writes the quality score of one image
func (s *Store) UpdateImageQuality(imageID string, score float64) error {
	err := s.db.Model(&database.Image{}).
		Where("id = ?", imageID).
		Update("quality_score", score).Error
	if err != nil {
		return fmt.Errorf("failed to update quality for %s: %w", imageID, err)
	}
	return nil
}

// UpdateImageThumbnail records the generated thumbnail path
func (s *Store) UpdateImageThumbnail(imageID, thumbnailPath string) error {
	err := s.db.Model(&database.Image{}).
		Where("id = ?", imageID).
		Update("thumbnail_path", thumbnailPath).Error
	if err != nil {
		return fmt.Errorf("failed to update thumbnail for %s: %w", imageID, err)
	}
	return nil
}

// ListImagesWithoutThumbnails returns ids of images lacking thumbnails
func (s *Store) ListImagesWithoutThumbnails(catalogID string) ([]string, error) {
	var ids []string
	err := s.db.Model(&database.Image{}).
		Where("catalog_id = ? AND thumbnail_path IS NULL AND file_type = ?", catalogID, database.FileTypeImage).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list images without thumbnails: %w", err)
	}
	return ids, nil
}

// ListImagesWithoutQuality returns ids of images lacking quality scores
func (s *Store) ListImagesWithoutQuality(catalogID string) ([]string, error) {
	var ids []string
	err := s.db.Model(&database.Image{}).
		Where("catalog_id = ? AND quality_score IS NULL AND file_type = ?", catalogID, database.FileTypeImage).
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unscored images: %w", err)
	}
	return ids, nil
}

// Publish emits an event on a catalog-scoped channel. Best effort: a
// nil bus or full buffer drops the event without error.
func (s *Store) Publish(channel string, event events.Event) error {
	if s.bus == nil {
		return nil
	}
	event.Channel = channel
	s.bus.PublishAsync(event)
	return nil
}

// ChannelFor names the pub/sub channel of a catalog
func ChannelFor(catalogID string) string {
	return "catalog:" + catalogID
}

// SelectedTimestamp extracts the best capture time from a dates map. A
// precomputed selected_date wins; otherwise the highest-confidence
// source entry is used.
func SelectedTimestamp(dates database.JSONMap) (time.Time, bool) {
	if dates == nil {
		return time.Time{}, false
	}

	if v, ok := dates["selected_date"]; ok {
		if ts, ok := parseTimestamp(v); ok {
			return ts, true
		}
	}

	bestConf := -1.0
	var bestTS time.Time
	found := false
	for key, v := range dates {
		if key == "selected_date" {
			continue
		}
		entry, ok := v.(map[string]interface{})
		if !ok {
			continue
		}
		ts, ok := parseTimestamp(entry["timestamp"])
		if !ok {
			continue
		}
		conf, _ := entry["confidence"].(float64)
		if conf > bestConf {
			bestConf = conf
			bestTS = ts
			found = true
		}
	}
	return bestTS, found
}

func parseTimestamp(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

// cameraLabel joins camera make and model from an image metadata map
func cameraLabel(metadata database.JSONMap) *string {
	if metadata == nil {
		return nil
	}
	mk, _ := metadata["camera_make"].(string)
	mdl, _ := metadata["camera_model"].(string)
	label := strings.TrimSpace(strings.TrimSpace(mk) + " " + strings.TrimSpace(mdl))
	if label == "" {
		return nil
	}
	return &label
}
