package definitions

import (
	"context"
	"fmt"

	"github.com/irjudson/lumina/internal/jobs"
	"github.com/irjudson/lumina/internal/media"
)

// generateThumbnailsDefinition renders thumbnails for images that have
// none.
//
// Parameters: size_px and quality override the configured thumbnail
// geometry for this run only.
func generateThumbnailsDefinition(deps Deps) jobs.Definition {
	return jobs.Definition{
		Name: JobGenerateThumbnails,
		Discover: func(ctx context.Context, rc *jobs.RunContext) ([]string, error) {
			return deps.Store.ListImagesWithoutThumbnails(rc.CatalogID)
		},
		Process: func(ctx context.Context, rc *jobs.RunContext, item string) (map[string]interface{}, error) {
			path, err := deps.Store.GetImagePath(rc.CatalogID, item)
			if err != nil {
				return nil, err
			}
			thumb, err := runThumbnailer(deps, rc.Params).Generate(path, item)
			if err != nil {
				return nil, fmt.Errorf("thumbnail %s: %w", path, err)
			}
			if err := deps.Store.UpdateImageThumbnail(item, thumb); err != nil {
				return nil, err
			}
			return map[string]interface{}{"thumbnail_path": thumb}, nil
		},
	}
}

// runThumbnailer returns the shared thumbnailer unless the job's
// parameters override its geometry.
func runThumbnailer(deps Deps, params jobs.Params) *media.Thumbnailer {
	sizePx := params.Int("size_px", deps.Cfg.Thumbnails.SizePx)
	quality := params.Int("quality", deps.Cfg.Thumbnails.Quality)
	if deps.Thumbnailer != nil && sizePx == deps.Cfg.Thumbnails.SizePx && quality == deps.Cfg.Thumbnails.Quality {
		return deps.Thumbnailer
	}
	return media.NewThumbnailer(deps.Cfg.Thumbnails.Dir, sizePx, quality)
}
