// Package tagging derives descriptive tags for catalog images. The
// Tagger interface is the plug point for model-backed taggers; the
// built-in heuristic tagger works from file metadata alone.
package tagging

import (
	"context"
	"sort"
	"time"
)

// Result is one candidate tag with its confidence in [0, 1].
type Result struct {
	Name       string
	Category   string
	Confidence float64
}

// ImageMeta carries what is already known about an image when it is
// tagged. FileType is "image" or "video"; pointer fields are absent
// when the scan learned nothing.
type ImageMeta struct {
	FileType    string
	CameraMake  string
	CameraModel string
	CapturedAt  *time.Time
}

// Tagger produces candidate tags for one image. Implementations must
// be deterministic for identical inputs and safe for concurrent use.
type Tagger interface {
	// Name identifies the tagger; it becomes the tag source on stored
	// assignments and is matched against the "model" job parameter.
	Name() string

	Tag(ctx context.Context, path string, meta ImageMeta) ([]Result, error)
}

// SelectTop filters results to those at or above threshold and keeps
// the topK highest-confidence survivors. topK <= 0 means no cap. Ties
// order by name so repeated calls agree.
func SelectTop(results []Result, threshold float64, topK int) []Result {
	selected := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Confidence >= threshold {
			selected = append(selected, r)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		if selected[i].Confidence != selected[j].Confidence {
			return selected[i].Confidence > selected[j].Confidence
		}
		return selected[i].Name < selected[j].Name
	})
	if topK > 0 && len(selected) > topK {
		selected = selected[:topK]
	}
	return selected
}
