// Package definitions declares the standard job types: scanning source
// directories into the catalog, perceptual hashing and duplicate
// grouping, burst detection, thumbnail generation, quality scoring,
// and auto-tagging. Each definition closes over shared services and is
// registered once at startup.
package definitions

import (
	"github.com/irjudson/lumina/internal/catalog"
	"github.com/irjudson/lumina/internal/config"
	"github.com/irjudson/lumina/internal/jobs"
	"github.com/irjudson/lumina/internal/media"
	"github.com/irjudson/lumina/internal/tagging"
)

// Standard job type names accepted by job submission.
const (
	JobScan               = "scan"
	JobDetectDuplicates   = "detect_duplicates"
	JobDetectBursts       = "detect_bursts"
	JobGenerateThumbnails = "generate_thumbnails"
	JobScoreQuality       = "score_quality"
	JobAutoTag            = "auto_tag"
)

// Deps carries the shared services the standard definitions close over.
type Deps struct {
	Store       *catalog.Store
	Prober      *media.Prober
	Thumbnailer *media.Thumbnailer
	Tagger      tagging.Tagger
	Cfg         *config.Config
}

// Register installs the standard job types into reg.
func Register(reg *jobs.Registry, deps Deps) error {
	for _, def := range []jobs.Definition{
		scanDefinition(deps),
		detectDuplicatesDefinition(deps),
		detectBurstsDefinition(deps),
		generateThumbnailsDefinition(deps),
		scoreQualityDefinition(deps),
		autoTagDefinition(deps),
	} {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// asInt64 reads a numeric result field. Values that crossed the batch
// store arrive as float64; values straight from a processor keep their
// Go type.
func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
