package definitions

import (
	"context"
	"fmt"

	"github.com/irjudson/lumina/internal/catalog"
	"github.com/irjudson/lumina/internal/jobs"
	"github.com/irjudson/lumina/internal/tagging"
)

// autoTagDefinition runs the configured tagger over untagged images,
// stores the surviving tags, and mirrors their names onto the image
// row.
//
// Parameters: model must name the configured tagger (defaults to it);
// top_k caps tags per image, defaulting to the configured maximum.
func autoTagDefinition(deps Deps) jobs.Definition {
	return jobs.Definition{
		Name: JobAutoTag,
		Discover: func(ctx context.Context, rc *jobs.RunContext) ([]string, error) {
			if deps.Tagger == nil {
				return nil, fmt.Errorf("no tagger configured")
			}
			if model := rc.Params.String("model", deps.Tagger.Name()); model != deps.Tagger.Name() {
				return nil, fmt.Errorf("unknown tagging model %q", model)
			}
			return deps.Store.ListUntaggedImages(rc.CatalogID)
		},
		Process: func(ctx context.Context, rc *jobs.RunContext, item string) (map[string]interface{}, error) {
			return tagImage(ctx, deps, rc, item)
		},
		Finalize: func(ctx context.Context, rc *jobs.RunContext, results []map[string]interface{}) (map[string]interface{}, error) {
			var applied int64
			for _, r := range results {
				applied += asInt64(r["tags"])
			}
			return map[string]interface{}{
				"images_tagged": len(results),
				"tags_applied":  applied,
			}, nil
		},
	}
}

func tagImage(ctx context.Context, deps Deps, rc *jobs.RunContext, imageID string) (map[string]interface{}, error) {
	img, err := deps.Store.GetImage(rc.CatalogID, imageID)
	if err != nil {
		return nil, err
	}

	meta := tagging.ImageMeta{FileType: img.FileType}
	if s := metaString(img.Metadata, "camera_make"); s != nil {
		meta.CameraMake = *s
	}
	if s := metaString(img.Metadata, "camera_model"); s != nil {
		meta.CameraModel = *s
	}
	if ts, ok := catalog.SelectedTimestamp(img.Dates); ok {
		meta.CapturedAt = &ts
	}

	results, err := deps.Tagger.Tag(ctx, img.SourcePath, meta)
	if err != nil {
		return nil, fmt.Errorf("tag %s: %w", img.SourcePath, err)
	}

	topK := rc.Params.Int("top_k", deps.Cfg.Tagging.MaxTags)
	selected := tagging.SelectTop(results, deps.Cfg.Tagging.Threshold, topK)
	if len(selected) == 0 {
		return map[string]interface{}{"tags": 0}, nil
	}

	records := make([]catalog.TagRecord, len(selected))
	names := make([]string, len(selected))
	for i, r := range selected {
		rec := catalog.TagRecord{
			Name:       r.Name,
			Confidence: r.Confidence,
			Source:     deps.Tagger.Name(),
		}
		if r.Category != "" {
			category := r.Category
			rec.Category = &category
		}
		records[i] = rec
		names[i] = r.Name
	}

	stored, err := deps.Store.StoreImageTags(rc.CatalogID, imageID, records)
	if err != nil {
		return nil, err
	}
	if err := deps.Store.MirrorImageTags(imageID, names); err != nil {
		return nil, err
	}
	return map[string]interface{}{"tags": stored}, nil
}
