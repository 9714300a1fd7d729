package definitions

import (
	"context"
	"fmt"

	"github.com/irjudson/lumina/internal/analysis/quality"
	"github.com/irjudson/lumina/internal/jobs"
	"github.com/irjudson/lumina/internal/media"
)

// scoreQualityDefinition rates unscored images on sharpness, exposure,
// and resolution, storing the composite score.
func scoreQualityDefinition(deps Deps) jobs.Definition {
	return jobs.Definition{
		Name: JobScoreQuality,
		Discover: func(ctx context.Context, rc *jobs.RunContext) ([]string, error) {
			return deps.Store.ListImagesWithoutQuality(rc.CatalogID)
		},
		Process: func(ctx context.Context, rc *jobs.RunContext, item string) (map[string]interface{}, error) {
			path, err := deps.Store.GetImagePath(rc.CatalogID, item)
			if err != nil {
				return nil, err
			}
			img, err := media.DecodeImage(path)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
			b, err := quality.Score(img)
			if err != nil {
				return nil, fmt.Errorf("score %s: %w", path, err)
			}
			if err := deps.Store.UpdateImageQuality(item, b.Composite); err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"score":      b.Composite,
				"sharpness":  b.Sharpness,
				"exposure":   b.Exposure,
				"resolution": b.Resolution,
			}, nil
		},
	}
}
