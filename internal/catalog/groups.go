package catalog

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/irjudson/lumina/internal/database"
)

// DuplicateMemberRecord is one image's membership in a duplicate group
type DuplicateMemberRecord struct {
	ImageID         string
	SimilarityScore int
}

// DuplicateGroupRecord is a fully resolved duplicate group ready to
// persist. The primary must appear among the members.
type DuplicateGroupRecord struct {
	PrimaryImageID string
	SimilarityType string
	Confidence     int
	Members        []DuplicateMemberRecord
}

// BurstRecord is a fully resolved burst ready to persist. ImageIDs are
// ordered by capture time; the position becomes the burst sequence.
type BurstRecord struct {
	ImageIDs        []string
	StartTime       time.Time
	EndTime         time.Time
	DurationSeconds float64
	CameraMake      *string
	CameraModel     *string
	BestImageID     *string
	SelectionMethod string
}

// ReplaceDuplicateGroups atomically swaps the catalog's duplicate
// groups for a new set. Groups with fewer than two members are
// rejected, as are groups whose primary is not a member.
func (s *Store) ReplaceDuplicateGroups(catalogID string, groups []DuplicateGroupRecord) error {
	for _, g := range groups {
		if len(g.Members) < 2 {
			return fmt.Errorf("duplicate group must have at least two members, got %d", len(g.Members))
		}
		if !hasMember(g.Members, g.PrimaryImageID) {
			return fmt.Errorf("primary image %s is not a group member", g.PrimaryImageID)
		}
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("group_id IN (?)", tx.Model(&database.DuplicateGroup{}).
				Select("id").Where("catalog_id = ?", catalogID)).
			Delete(&database.DuplicateMember{}).Error; err != nil {
			return fmt.Errorf("failed to clear duplicate members: %w", err)
		}
		if err := tx.Where("catalog_id = ?", catalogID).
			Delete(&database.DuplicateGroup{}).Error; err != nil {
			return fmt.Errorf("failed to clear duplicate groups: %w", err)
		}

		for _, g := range groups {
			row := database.DuplicateGroup{
				CatalogID:      catalogID,
				PrimaryImageID: g.PrimaryImageID,
				SimilarityType: g.SimilarityType,
				Confidence:     g.Confidence,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to insert duplicate group: %w", err)
			}
			for _, m := range g.Members {
				member := database.DuplicateMember{
					GroupID:         row.ID,
					ImageID:         m.ImageID,
					SimilarityScore: m.SimilarityScore,
				}
				if err := tx.Create(&member).Error; err != nil {
					return fmt.Errorf("failed to insert duplicate member %s: %w", m.ImageID, err)
				}
			}
		}
		return nil
	})
}

// ListDuplicateGroups returns the catalog's duplicate groups with
// members attached
func (s *Store) ListDuplicateGroups(catalogID string) ([]database.DuplicateGroup, map[uint][]database.DuplicateMember, error) {
	var groups []database.DuplicateGroup
	if err := s.db.Where("catalog_id = ?", catalogID).Order("id").Find(&groups).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to list duplicate groups: %w", err)
	}

	members := make(map[uint][]database.DuplicateMember)
	if len(groups) == 0 {
		return groups, members, nil
	}

	ids := make([]uint, len(groups))
	for i, g := range groups {
		ids[i] = g.ID
	}
	var rows []database.DuplicateMember
	if err := s.db.Where("group_id IN ?", ids).Order("image_id").Find(&rows).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to list duplicate members: %w", err)
	}
	for _, m := range rows {
		members[m.GroupID] = append(members[m.GroupID], m)
	}
	return groups, members, nil
}

// ReplaceBurstGroups atomically swaps the catalog's bursts for a new
// set, relinking every member image's burst id and sequence.
func (s *Store) ReplaceBurstGroups(catalogID string, records []BurstRecord) error {
	for _, r := range records {
		if len(r.ImageIDs) < 2 {
			return fmt.Errorf("burst must have at least two images, got %d", len(r.ImageIDs))
		}
		if r.EndTime.Before(r.StartTime) {
			return fmt.Errorf("burst end time precedes start time")
		}
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&database.Image{}).
			Where("catalog_id = ?", catalogID).
			Updates(map[string]interface{}{"burst_id": nil, "burst_sequence": nil}).Error; err != nil {
			return fmt.Errorf("failed to clear burst linkage: %w", err)
		}
		if err := tx.Where("catalog_id = ?", catalogID).
			Delete(&database.Burst{}).Error; err != nil {
			return fmt.Errorf("failed to clear bursts: %w", err)
		}

		for _, r := range records {
			row := database.Burst{
				ID:              uuid.NewString(),
				CatalogID:       catalogID,
				ImageCount:      len(r.ImageIDs),
				StartTime:       r.StartTime,
				EndTime:         r.EndTime,
				DurationSeconds: r.DurationSeconds,
				CameraMake:      r.CameraMake,
				CameraModel:     r.CameraModel,
				BestImageID:     r.BestImageID,
				SelectionMethod: r.SelectionMethod,
			}
			if row.SelectionMethod == "" {
				row.SelectionMethod = database.SelectionQuality
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to insert burst: %w", err)
			}

			for seq, imageID := range r.ImageIDs {
				err := tx.Model(&database.Image{}).
					Where("id = ?", imageID).
					Updates(map[string]interface{}{
						"burst_id":       row.ID,
						"burst_sequence": seq,
					}).Error
				if err != nil {
					return fmt.Errorf("failed to link image %s to burst: %w", imageID, err)
				}
			}
		}
		return nil
	})
}

// ListBursts returns the catalog's bursts ordered by start time
func (s *Store) ListBursts(catalogID string) ([]database.Burst, error) {
	var rows []database.Burst
	if err := s.db.Where("catalog_id = ?", catalogID).Order("start_time").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list bursts: %w", err)
	}
	return rows, nil
}

func hasMember(members []DuplicateMemberRecord, imageID string) bool {
	for _, m := range members {
		if m.ImageID == imageID {
			return true
		}
	}
	return false
}
