package definitions

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/irjudson/lumina/internal/catalog"
	"github.com/irjudson/lumina/internal/config"
	"github.com/irjudson/lumina/internal/database"
	"github.com/irjudson/lumina/internal/jobs"
	"github.com/irjudson/lumina/internal/logger"
	"github.com/irjudson/lumina/internal/media"
)

// scanDefinition walks every source directory of the catalog and
// registers the media files it finds. Items are absolute file paths.
//
// Parameters: extract_metadata (default true) probes EXIF dates and
// camera info; generate_thumbnail (default false) renders a thumbnail
// inline instead of leaving it to the generate_thumbnails job.
func scanDefinition(deps Deps) jobs.Definition {
	return jobs.Definition{
		Name:       JobScan,
		BatchSize:  deps.Cfg.Scanner.BatchSize,
		MaxWorkers: deps.Cfg.Scanner.WorkerCount,
		Discover: func(ctx context.Context, rc *jobs.RunContext) ([]string, error) {
			return discoverFiles(ctx, deps, rc.CatalogID)
		},
		Process: func(ctx context.Context, rc *jobs.RunContext, item string) (map[string]interface{}, error) {
			return scanFile(deps, rc, item)
		},
		Finalize: scanSummary,
	}
}

func discoverFiles(ctx context.Context, deps Deps, catalogID string) ([]string, error) {
	dirs, err := deps.Store.ListSourceDirectories(catalogID)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, dir := range dirs {
		found, err := collectFiles(ctx, dir, deps.Cfg.Scanner)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	return files, nil
}

// collectFiles walks one source directory. Unreadable entries are
// logged and skipped so one bad subtree cannot sink the whole scan;
// only context cancellation aborts the walk.
func collectFiles(ctx context.Context, dir string, cfg config.ScannerConfig) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			logger.Warn("scan: cannot read %s: %v", path, walkErr)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && matchesAny(cfg.IgnorePatterns, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if matchesAny(cfg.IgnorePatterns, d.Name()) || !d.Type().IsRegular() || !media.IsMedia(path) {
			return nil
		}
		if cfg.MaxFileSize > 0 {
			info, err := d.Info()
			if err != nil {
				logger.Warn("scan: cannot stat %s: %v", path, err)
				return nil
			}
			if info.Size() > cfg.MaxFileSize {
				logger.Debug("scan: skipping %s (%s exceeds the size cap)",
					path, humanize.Bytes(uint64(info.Size())))
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := filepath.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

func scanFile(deps Deps, rc *jobs.RunContext, path string) (map[string]interface{}, error) {
	fileType, ok := media.Classify(path)
	if !ok {
		return nil, fmt.Errorf("unsupported media type: %s", path)
	}

	checksum, err := media.Checksum(path)
	if err != nil {
		return nil, fmt.Errorf("checksum %s: %w", path, err)
	}

	img := &database.Image{
		ID:         catalog.ImageID(rc.CatalogID, path),
		CatalogID:  rc.CatalogID,
		SourcePath: path,
		FileType:   fileType,
		Checksum:   checksum,
		Status:     database.ImageStatusPending,
	}

	if rc.Params.Bool("extract_metadata", true) && deps.Prober != nil {
		probe, err := deps.Prober.Probe(path)
		if err != nil {
			return nil, fmt.Errorf("probe %s: %w", path, err)
		}
		img.SizeBytes = probe.SizeBytes

		dates := database.JSONMap{}
		for source, d := range probe.Dates {
			dates[source] = d
		}
		if best, ok := probe.BestDate(); ok {
			dates["selected_date"] = best.Format(time.RFC3339)
		}
		img.Dates = dates

		meta := database.JSONMap{}
		if probe.CameraMake != nil {
			meta["camera_make"] = *probe.CameraMake
		}
		if probe.CameraModel != nil {
			meta["camera_model"] = *probe.CameraModel
		}
		if len(meta) > 0 {
			img.Metadata = meta
		}
	} else {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
		img.SizeBytes = info.Size()
		img.Dates = database.JSONMap{
			media.SourceMtime: media.DateInfo{
				Timestamp:  info.ModTime().UTC(),
				Confidence: media.ConfidenceMtime,
			},
		}
	}

	if err := deps.Store.UpsertImage(img); err != nil {
		return nil, fmt.Errorf("upsert %s: %w", path, err)
	}

	// Thumbnail failures do not fail the item; registration already
	// succeeded and the generate_thumbnails job can fill the gap.
	if rc.Params.Bool("generate_thumbnail", false) && fileType == media.TypeImage && deps.Thumbnailer != nil {
		thumb, err := deps.Thumbnailer.Generate(path, img.ID)
		if err != nil {
			logger.Warn("scan: thumbnail for %s: %v", path, err)
		} else if err := deps.Store.UpdateImageThumbnail(img.ID, thumb); err != nil {
			logger.Warn("scan: record thumbnail for %s: %v", path, err)
		}
	}

	return map[string]interface{}{
		"file_type":  fileType,
		"size_bytes": img.SizeBytes,
	}, nil
}

func scanSummary(ctx context.Context, rc *jobs.RunContext, results []map[string]interface{}) (map[string]interface{}, error) {
	var images, videos, totalBytes int64
	for _, r := range results {
		switch r["file_type"] {
		case media.TypeImage:
			images++
		case media.TypeVideo:
			videos++
		}
		totalBytes += asInt64(r["size_bytes"])
	}
	return map[string]interface{}{
		"total_files":      len(results),
		"total_images":     images,
		"total_videos":     videos,
		"total_size_bytes": totalBytes,
	}, nil
}
