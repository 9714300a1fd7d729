// Package bursts detects sequences of images shot in rapid succession.
// Detection is purely timestamp and camera based; no pixel data is read.
package bursts

import (
	"fmt"
	"sort"
	"time"
)

// Detection defaults
const (
	DefaultGapThreshold = 1.0
	DefaultMinSize      = 3
	DefaultMinDuration  = 0.5
)

// Selection methods for the best image of a burst
const (
	SelectQuality = "quality"
	SelectFirst   = "first"
	SelectMiddle  = "middle"
)

// Image is the slim projection burst detection operates on
type Image struct {
	ID           string
	Timestamp    *time.Time
	Camera       *string
	QualityScore *float64
}

// Burst is one detected rapid-fire sequence
type Burst struct {
	ImageIDs        []string
	StartTime       time.Time
	EndTime         time.Time
	DurationSeconds float64
	Camera          *string
}

// Options tune burst detection
type Options struct {
	GapThreshold float64 // max seconds between consecutive shots
	MinSize      int     // minimum images per burst
	MinDuration  float64 // minimum seconds from first to last shot
}

// DefaultOptions returns the standard detection thresholds
func DefaultOptions() Options {
	return Options{
		GapThreshold: DefaultGapThreshold,
		MinSize:      DefaultMinSize,
		MinDuration:  DefaultMinDuration,
	}
}

// Detect finds burst sequences. Images are partitioned by camera (a
// missing camera forms its own partition, distinct from every named
// camera), sorted by timestamp, and split wherever the gap between
// consecutive shots exceeds the threshold. Missing timestamps count as
// an infinite gap.
func Detect(images []Image, opts Options) []Burst {
	if len(images) < opts.MinSize {
		return nil
	}

	type partitionKey struct {
		named  bool
		camera string
	}
	partitions := make(map[partitionKey][]Image)
	var order []partitionKey
	for _, img := range images {
		key := partitionKey{}
		if img.Camera != nil {
			key = partitionKey{named: true, camera: *img.Camera}
		}
		if _, seen := partitions[key]; !seen {
			order = append(order, key)
		}
		partitions[key] = append(partitions[key], img)
	}

	var all []Burst
	for _, key := range order {
		sorted := partitions[key]
		sort.SliceStable(sorted, func(i, j int) bool {
			ti, tj := sorted[i].Timestamp, sorted[j].Timestamp
			if ti == nil {
				return tj != nil
			}
			if tj == nil {
				return false
			}
			return ti.Before(*tj)
		})
		all = append(all, findSequences(sorted, opts)...)
	}
	return all
}

func findSequences(sorted []Image, opts Options) []Burst {
	if len(sorted) < opts.MinSize {
		return nil
	}

	var bursts []Burst
	current := []Image{sorted[0]}

	flush := func() {
		if len(current) >= opts.MinSize {
			if b, ok := makeBurst(current, opts.MinDuration); ok {
				bursts = append(bursts, b)
			}
		}
	}

	for i := 1; i < len(sorted); i++ {
		prev, curr := sorted[i-1], sorted[i]

		within := false
		if prev.Timestamp != nil && curr.Timestamp != nil {
			gap := curr.Timestamp.Sub(*prev.Timestamp).Seconds()
			within = gap <= opts.GapThreshold
		}

		if within {
			current = append(current, curr)
		} else {
			flush()
			current = []Image{curr}
		}
	}
	flush()

	return bursts
}

func makeBurst(images []Image, minDuration float64) (Burst, bool) {
	if len(images) < 2 {
		return Burst{}, false
	}

	var timestamps []time.Time
	for _, img := range images {
		if img.Timestamp != nil {
			timestamps = append(timestamps, *img.Timestamp)
		}
	}
	if len(timestamps) < 2 {
		return Burst{}, false
	}

	start, end := timestamps[0], timestamps[0]
	for _, ts := range timestamps[1:] {
		if ts.Before(start) {
			start = ts
		}
		if ts.After(end) {
			end = ts
		}
	}
	duration := end.Sub(start).Seconds()
	if duration < minDuration {
		return Burst{}, false
	}

	ids := make([]string, len(images))
	for i, img := range images {
		ids[i] = img.ID
	}
	return Burst{
		ImageIDs:        ids,
		StartTime:       start,
		EndTime:         end,
		DurationSeconds: duration,
		Camera:          images[0].Camera,
	}, true
}

// SelectBest picks the representative image of a burst. Methods:
// quality (highest score, missing scores count as zero, earliest wins
// ties), first, and middle (floor of n/2). Unknown methods fall back
// to quality.
func SelectBest(images []Image, method string) (string, error) {
	if len(images) == 0 {
		return "", fmt.Errorf("cannot select best from empty burst")
	}

	switch method {
	case SelectFirst:
		return images[0].ID, nil
	case SelectMiddle:
		return images[len(images)/2].ID, nil
	default:
		best := images[0]
		for _, img := range images[1:] {
			if quality(img) > quality(best) {
				best = img
			}
		}
		return best.ID, nil
	}
}

func quality(img Image) float64 {
	if img.QualityScore == nil {
		return 0
	}
	return *img.QualityScore
}
