// Package quality scores image quality from pixel statistics. The score
// combines sharpness, exposure balance, and resolution into a single
// 0..100 composite. Identical pixels always produce identical scores.
package quality

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
)

// Component weights of the composite score
const (
	weightSharpness  = 0.60
	weightExposure   = 0.25
	weightResolution = 0.15
)

// sharpnessRef is the Laplacian variance that maps to a full sharpness
// score; crisp photos typically land in the hundreds, soft ones below 50.
const sharpnessRef = 300.0

// resolutionRef is the megapixel count that maps to a full resolution
// score.
const resolutionRef = 12.0

// workingSide caps the analysis plane so scoring stays cheap on large
// originals. Resolution is still judged on the original dimensions.
const workingSide = 256

// Breakdown carries the component scores alongside the composite
type Breakdown struct {
	Sharpness  float64 `json:"sharpness"`
	Exposure   float64 `json:"exposure"`
	Resolution float64 `json:"resolution"`
	Composite  float64 `json:"composite"`
}

// Score rates a decoded image on a 0..100 scale
func Score(img image.Image) (Breakdown, error) {
	if img == nil {
		return Breakdown{}, fmt.Errorf("nil image")
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return Breakdown{}, fmt.Errorf("empty image")
	}

	plane, pw, ph := grayPlane(img)

	b := Breakdown{
		Sharpness:  sharpnessScore(plane, pw, ph),
		Exposure:   exposureScore(plane),
		Resolution: resolutionScore(width, height),
	}
	b.Composite = clamp(weightSharpness*b.Sharpness +
		weightExposure*b.Exposure +
		weightResolution*b.Resolution)
	return b, nil
}

// grayPlane returns the luminance plane, downscaled so the longest side
// is at most workingSide.
func grayPlane(img image.Image) ([]float64, int, int) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w > workingSide || h > workingSide {
		if w >= h {
			img = resize.Resize(workingSide, 0, img, resize.Bilinear)
		} else {
			img = resize.Resize(0, workingSide, img, resize.Bilinear)
		}
		bounds = img.Bounds()
		w, h = bounds.Dx(), bounds.Dy()
	}

	plane := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			plane[y*w+x] = (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 257.0
		}
	}
	return plane, w, h
}

// sharpnessScore maps the variance of the 4-neighbour Laplacian onto
// 0..100. Higher variance means more fine detail.
func sharpnessScore(plane []float64, w, h int) float64 {
	if w < 3 || h < 3 {
		return 0
	}

	n := 0
	mean := 0.0
	m2 := 0.0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			lap := 4*plane[y*w+x] -
				plane[(y-1)*w+x] - plane[(y+1)*w+x] -
				plane[y*w+x-1] - plane[y*w+x+1]
			n++
			delta := lap - mean
			mean += delta / float64(n)
			m2 += delta * (lap - mean)
		}
	}
	if n < 2 {
		return 0
	}
	variance := m2 / float64(n)
	return clamp(100 * variance / sharpnessRef)
}

// exposureScore rewards a mean luminance near mid-gray. Pure black or
// pure white frames score zero.
func exposureScore(plane []float64) float64 {
	if len(plane) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range plane {
		sum += v
	}
	mean := sum / float64(len(plane))

	const mid = 127.5
	dist := mean - mid
	if dist < 0 {
		dist = -dist
	}
	return clamp(100 * (1 - dist/mid))
}

// resolutionScore rewards pixel count up to resolutionRef megapixels
func resolutionScore(width, height int) float64 {
	mp := float64(width) * float64(height) / 1e6
	return clamp(100 * mp / resolutionRef)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
