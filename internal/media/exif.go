package media

import (
	"fmt"
	"os"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rwcarlsen/goexif/exif"
)

// Date sources and their confidence weights. EXIF capture times beat
// filesystem modification times.
const (
	SourceEXIF  = "exif"
	SourceMtime = "file_mtime"

	ConfidenceEXIF  = 0.9
	ConfidenceMtime = 0.5
)

// DefaultProbeCacheSize bounds the in-memory probe cache
const DefaultProbeCacheSize = 1024

// DateInfo is one dated observation about a file
type DateInfo struct {
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
}

// Probe is everything metadata extraction learned about a file
type Probe struct {
	Dates       map[string]DateInfo
	CameraMake  *string
	CameraModel *string
	SizeBytes   int64
}

// BestDate returns the highest-confidence timestamp. Ties resolve by
// source name so repeated calls agree.
func (p Probe) BestDate() (time.Time, bool) {
	if len(p.Dates) == 0 {
		return time.Time{}, false
	}
	sources := make([]string, 0, len(p.Dates))
	for s := range p.Dates {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	best := sources[0]
	for _, s := range sources[1:] {
		if p.Dates[s].Confidence > p.Dates[best].Confidence {
			best = s
		}
	}
	return p.Dates[best].Timestamp, true
}

// Camera returns a single display label for the camera, or nil when
// neither make nor model is known.
func (p Probe) Camera() *string {
	switch {
	case p.CameraMake != nil && p.CameraModel != nil:
		label := *p.CameraMake + " " + *p.CameraModel
		return &label
	case p.CameraMake != nil:
		return p.CameraMake
	case p.CameraModel != nil:
		return p.CameraModel
	default:
		return nil
	}
}

// Prober extracts dates and camera info from media files. Probes are
// cached by path and modification time, so re-scans of an unchanged
// library skip the EXIF parse.
type Prober struct {
	cache *lru.Cache[string, Probe]
}

// NewProber creates a prober with the given cache capacity
func NewProber(cacheSize int) (*Prober, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultProbeCacheSize
	}
	cache, err := lru.New[string, Probe](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("probe cache: %w", err)
	}
	return &Prober{cache: cache}, nil
}

// Probe extracts metadata for one file. The modification time is always
// recorded as a date source; EXIF fields are added when the file
// carries a parseable EXIF block.
func (p *Prober) Probe(path string) (Probe, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Probe{}, fmt.Errorf("probe %s: %w", path, err)
	}

	key := fmt.Sprintf("%s|%d", path, fi.ModTime().UnixNano())
	if cached, ok := p.cache.Get(key); ok {
		return cached, nil
	}

	probe := Probe{
		Dates: map[string]DateInfo{
			SourceMtime: {Timestamp: fi.ModTime().UTC(), Confidence: ConfidenceMtime},
		},
		SizeBytes: fi.Size(),
	}

	if fileType, ok := Classify(path); ok && fileType == TypeImage {
		// Missing or malformed EXIF leaves the mtime source in place
		addEXIF(&probe, path)
	}

	p.cache.Add(key, probe)
	return probe, nil
}

func addEXIF(probe *Probe, path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return
	}

	if dt, err := x.DateTime(); err == nil {
		probe.Dates[SourceEXIF] = DateInfo{Timestamp: dt.UTC(), Confidence: ConfidenceEXIF}
	}
	if tag, err := x.Get(exif.Make); err == nil {
		if s, err := tag.StringVal(); err == nil && s != "" {
			probe.CameraMake = &s
		}
	}
	if tag, err := x.Get(exif.Model); err == nil {
		if s, err := tag.StringVal(); err == nil && s != "" {
			probe.CameraModel = &s
		}
	}
}
