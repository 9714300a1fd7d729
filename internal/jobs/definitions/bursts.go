package definitions

import (
	"context"
	"fmt"

	"github.com/irjudson/lumina/internal/analysis/bursts"
	"github.com/irjudson/lumina/internal/catalog"
	"github.com/irjudson/lumina/internal/jobs"
)

// Burst clustering needs the catalog's full timestamp order, so the
// batch size is set high enough that everything lands in one batch
// handled by one worker.
const burstBatchSize = 100000

// detectBurstsDefinition finds rapid-fire shot sequences and replaces
// the catalog's stored bursts wholesale.
//
// Parameters: gap_threshold (seconds, default 1.0), min_size (default
// 3), min_duration (seconds, default 0.5), selection_method (quality,
// first, middle; default quality).
func detectBurstsDefinition(deps Deps) jobs.Definition {
	return jobs.Definition{
		Name:       JobDetectBursts,
		BatchSize:  burstBatchSize,
		MaxWorkers: 1,
		Discover: func(ctx context.Context, rc *jobs.RunContext) ([]string, error) {
			images, err := deps.Store.ListImagesWithTimestamps(rc.CatalogID)
			if err != nil {
				return nil, err
			}
			ids := make([]string, len(images))
			for i, img := range images {
				ids[i] = img.ID
			}
			return ids, nil
		},
		ProcessBatch: func(ctx context.Context, rc *jobs.RunContext, items []string) (*jobs.BatchOutcome, error) {
			return clusterBursts(deps, rc, items)
		},
		Finalize: func(ctx context.Context, rc *jobs.RunContext, results []map[string]interface{}) (map[string]interface{}, error) {
			var found, grouped int64
			for _, r := range results {
				found += asInt64(r["bursts"])
				grouped += asInt64(r["burst_images"])
			}
			return map[string]interface{}{
				"bursts_found": found,
				"burst_images": grouped,
			}, nil
		},
	}
}

func clusterBursts(deps Deps, rc *jobs.RunContext, items []string) (*jobs.BatchOutcome, error) {
	projection, err := deps.Store.ListImagesWithTimestamps(rc.CatalogID)
	if err != nil {
		return nil, err
	}

	// The projection is reloaded on resume, so restrict it to this
	// batch's items rather than trusting it to match.
	want := make(map[string]bool, len(items))
	for _, id := range items {
		want[id] = true
	}
	images := make([]bursts.Image, 0, len(items))
	byID := make(map[string]bursts.Image, len(items))
	for _, img := range projection {
		if want[img.ID] {
			images = append(images, img)
			byID[img.ID] = img
		}
	}

	opts := bursts.Options{
		GapThreshold: rc.Params.Float("gap_threshold", bursts.DefaultGapThreshold),
		MinSize:      rc.Params.Int("min_size", bursts.DefaultMinSize),
		MinDuration:  rc.Params.Float("min_duration", bursts.DefaultMinDuration),
	}
	method := rc.Params.String("selection_method", bursts.SelectQuality)

	detected := bursts.Detect(images, opts)

	records := make([]catalog.BurstRecord, 0, len(detected))
	grouped := 0
	for _, b := range detected {
		members := make([]bursts.Image, 0, len(b.ImageIDs))
		for _, id := range b.ImageIDs {
			members = append(members, byID[id])
		}
		best, err := bursts.SelectBest(members, method)
		if err != nil {
			return nil, fmt.Errorf("selecting best of burst: %w", err)
		}
		mk, mdl := burstCamera(deps, rc.CatalogID, b.ImageIDs[0])

		records = append(records, catalog.BurstRecord{
			ImageIDs:        b.ImageIDs,
			StartTime:       b.StartTime,
			EndTime:         b.EndTime,
			DurationSeconds: b.DurationSeconds,
			CameraMake:      mk,
			CameraModel:     mdl,
			BestImageID:     &best,
			SelectionMethod: method,
		})
		grouped += len(b.ImageIDs)
	}

	if err := deps.Store.ReplaceBurstGroups(rc.CatalogID, records); err != nil {
		return nil, err
	}

	return &jobs.BatchOutcome{
		Success: len(items),
		Results: []map[string]interface{}{{
			"bursts":       len(records),
			"burst_images": grouped,
		}},
	}, nil
}

// burstCamera reads make and model off one member's image row. Members
// of a burst share a camera, so the first is as good as any.
func burstCamera(deps Deps, catalogID, imageID string) (*string, *string) {
	img, err := deps.Store.GetImage(catalogID, imageID)
	if err != nil {
		return nil, nil
	}
	return metaString(img.Metadata, "camera_make"), metaString(img.Metadata, "camera_model")
}

func metaString(m map[string]interface{}, key string) *string {
	if m == nil {
		return nil
	}
	if s, ok := m[key].(string); ok && s != "" {
		return &s
	}
	return nil
}
