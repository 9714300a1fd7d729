package catalog

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/irjudson/lumina/internal/database"
)

// TagRecord is one tag assignment produced by a tagger
type TagRecord struct {
	Name       string
	Category   *string
	Confidence float64
	Source     string
}

// StoreImageTags persists tag assignments for one image. Tags are
// created on first use per catalog; re-tagging an image updates the
// confidence and source of existing assignments.
func (s *Store) StoreImageTags(catalogID, imageID string, tags []TagRecord) (int, error) {
	if len(tags) == 0 {
		return 0, nil
	}

	stored := 0
	err := s.db.Transaction(func(tx *gorm.DB) error {
		for _, t := range tags {
			if t.Name == "" {
				continue
			}

			tag := database.Tag{
				CatalogID: catalogID,
				Name:      t.Name,
				Category:  t.Category,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "catalog_id"}, {Name: "name"}},
				DoNothing: true,
			}).Create(&tag).Error
			if err != nil {
				return fmt.Errorf("failed to upsert tag %q: %w", t.Name, err)
			}
			if tag.ID == 0 {
				// Conflict path: load the existing row for its id
				if err := tx.First(&tag, "catalog_id = ? AND name = ?", catalogID, t.Name).Error; err != nil {
					return fmt.Errorf("failed to load tag %q: %w", t.Name, err)
				}
			}

			link := database.ImageTag{
				ImageID:    imageID,
				TagID:      tag.ID,
				Confidence: t.Confidence,
				Source:     t.Source,
			}
			err = tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "image_id"}, {Name: "tag_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"confidence", "source"}),
			}).Create(&link).Error
			if err != nil {
				return fmt.Errorf("failed to link tag %q to image %s: %w", t.Name, imageID, err)
			}
			stored++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return stored, nil
}

// ListImageTags returns the tags of one image with their confidences
func (s *Store) ListImageTags(imageID string) ([]TagRecord, error) {
	var rows []struct {
		Name       string
		Category   *string
		Confidence float64
		Source     string
	}
	err := s.db.Model(&database.ImageTag{}).
		Select("tags.name, tags.category, image_tags.confidence, image_tags.source").
		Joins("JOIN tags ON tags.id = image_tags.tag_id").
		Where("image_tags.image_id = ?", imageID).
		Order("tags.name").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list image tags: %w", err)
	}

	out := make([]TagRecord, len(rows))
	for i, r := range rows {
		out[i] = TagRecord{Name: r.Name, Category: r.Category, Confidence: r.Confidence, Source: r.Source}
	}
	return out, nil
}

// ListUntaggedImages returns ids of images with no tag assignments
func (s *Store) ListUntaggedImages(catalogID string) ([]string, error) {
	var ids []string
	err := s.db.Model(&database.Image{}).
		Where("catalog_id = ? AND file_type = ?", catalogID, database.FileTypeImage).
		Where("NOT EXISTS (SELECT 1 FROM image_tags WHERE image_tags.image_id = images.id)").
		Order("id").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list untagged images: %w", err)
	}
	return ids, nil
}

// MirrorImageTags copies applied tag names onto the image row itself,
// under metadata "tags" and processing_flags "auto_tagged", so image
// reads carry them without a join.
func (s *Store) MirrorImageTags(imageID string, names []string) error {
	var img database.Image
	if err := s.db.First(&img, "id = ?", imageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("image %s: %w", imageID, ErrNotFound)
		}
		return fmt.Errorf("failed to load image %s: %w", imageID, err)
	}

	if img.Metadata == nil {
		img.Metadata = database.JSONMap{}
	}
	if img.ProcessingFlags == nil {
		img.ProcessingFlags = database.JSONMap{}
	}
	img.Metadata["tags"] = names
	img.ProcessingFlags["auto_tagged"] = true

	err := s.db.Model(&database.Image{}).Where("id = ?", imageID).
		Updates(map[string]interface{}{
			"metadata":         img.Metadata,
			"processing_flags": img.ProcessingFlags,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mirror tags onto image %s: %w", imageID, err)
	}
	return nil
}
