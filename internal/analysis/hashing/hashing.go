// Package hashing computes 64-bit perceptual hashes for images.
//
// Three hash kinds are supported:
//   - dhash (difference hash): gradient based, robust to crops and resizes
//   - ahash (average hash): mean based, simple but effective
//   - whash (wavelet hash): Haar DWT based, most robust to transformations
//
// All hashes are returned as 16 lowercase hex digits. The functions here are
// pure: decoding and file access belong to the media package.
package hashing

import (
	"fmt"
	"image"
	"math/bits"
	"sort"
	"strconv"

	"github.com/corona10/goimagehash"
	"github.com/nfnt/resize"
)

// HashBits is the size of every perceptual hash
const HashBits = 64

// Kind selects which perceptual hash a grouping run compares on
type Kind string

const (
	KindDHash Kind = "dhash"
	KindAHash Kind = "ahash"
	KindWHash Kind = "whash"
)

// ParseKind validates a hash kind parameter
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindDHash, KindAHash, KindWHash:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown hash kind: %q", s)
	}
}

// Hashes holds all three perceptual hashes of one image
type Hashes struct {
	DHash string
	AHash string
	WHash string
}

// Get returns the hash of the requested kind
func (h Hashes) Get(kind Kind) string {
	switch kind {
	case KindAHash:
		return h.AHash
	case KindWHash:
		return h.WHash
	default:
		return h.DHash
	}
}

// ComputeAll computes dhash, ahash, and whash for a decoded image
func ComputeAll(img image.Image) (Hashes, error) {
	dh, err := ComputeDHash(img)
	if err != nil {
		return Hashes{}, err
	}
	ah, err := ComputeAHash(img)
	if err != nil {
		return Hashes{}, err
	}
	wh, err := ComputeWHash(img)
	if err != nil {
		return Hashes{}, err
	}
	return Hashes{DHash: dh, AHash: ah, WHash: wh}, nil
}

// ComputeDHash computes the difference hash: 9x8 luminance grid, one bit per
// adjacent horizontal pixel pair.
func ComputeDHash(img image.Image) (string, error) {
	if img == nil {
		return "", fmt.Errorf("nil image")
	}
	h, err := goimagehash.DifferenceHash(img)
	if err != nil {
		return "", fmt.Errorf("dhash: %w", err)
	}
	return formatHash(h.GetHash()), nil
}

// ComputeAHash computes the average hash: 8x8 luminance grid, one bit per
// pixel above the mean.
func ComputeAHash(img image.Image) (string, error) {
	if img == nil {
		return "", fmt.Errorf("nil image")
	}
	h, err := goimagehash.AverageHash(img)
	if err != nil {
		return "", fmt.Errorf("ahash: %w", err)
	}
	return formatHash(h.GetHash()), nil
}

// ComputeWHash computes the wavelet hash: 32x32 luminance grid, one-level 2-D
// Haar transform, low-frequency approximation reduced to 8x8, one bit per
// coefficient above the median.
func ComputeWHash(img image.Image) (string, error) {
	if img == nil {
		return "", fmt.Errorf("nil image")
	}

	const side = 32
	scaled := resize.Resize(side, side, img, resize.Lanczos3)

	// Luminance plane as float64
	pixels := make([]float64, side*side)
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			r, g, b, _ := scaled.At(scaled.Bounds().Min.X+x, scaled.Bounds().Min.Y+y).RGBA()
			// ITU-R BT.601 luma, 16-bit channels scaled to 0..255
			pixels[y*side+x] = (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 257.0
		}
	}

	// One-level Haar: 32x32 -> 16x16 approximation coefficients
	approx := haarApprox(pixels, side)

	// Reduce the 16x16 approximation to 8x8 by 2x2 area averaging; median
	// thresholding is scale invariant so this matches a further smoothing
	// resize of the coefficient plane.
	const outSide = 8
	coeffs := make([]float64, outSide*outSide)
	for y := 0; y < outSide; y++ {
		for x := 0; x < outSide; x++ {
			sum := approx[(2*y)*16+2*x] + approx[(2*y)*16+2*x+1] +
				approx[(2*y+1)*16+2*x] + approx[(2*y+1)*16+2*x+1]
			coeffs[y*outSide+x] = sum / 4.0
		}
	}

	med := median(coeffs)

	var hash uint64
	for _, c := range coeffs {
		hash <<= 1
		if c > med {
			hash |= 1
		}
	}
	return formatHash(hash), nil
}

// haarApprox computes the approximation band of a one-level 2-D Haar
// transform over a square side x side plane.
func haarApprox(pixels []float64, side int) []float64 {
	half := side / 2

	// Rows: pairwise sums scaled by 1/sqrt(2)
	const invSqrt2 = 0.7071067811865476
	rows := make([]float64, side*half)
	for y := 0; y < side; y++ {
		for x := 0; x < half; x++ {
			rows[y*half+x] = (pixels[y*side+2*x] + pixels[y*side+2*x+1]) * invSqrt2
		}
	}

	// Columns over the row-transformed plane
	out := make([]float64, half*half)
	for y := 0; y < half; y++ {
		for x := 0; x < half; x++ {
			out[y*half+x] = (rows[(2*y)*half+x] + rows[(2*y+1)*half+x]) * invSqrt2
		}
	}
	return out
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2.0
}

func formatHash(h uint64) string {
	return fmt.Sprintf("%016x", h)
}

// ParseHash parses a 16-digit hex hash into its 64-bit value
func ParseHash(h string) (uint64, error) {
	if len(h) != HashBits/4 {
		return 0, fmt.Errorf("invalid hash length %d, want %d hex digits", len(h), HashBits/4)
	}
	v, err := strconv.ParseUint(h, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid hash %q: %w", h, err)
	}
	return v, nil
}

// HammingDistance counts differing bits between two 64-bit hex hashes
func HammingDistance(hash1, hash2 string) (int, error) {
	if len(hash1) != len(hash2) {
		return 0, fmt.Errorf("hash length mismatch: %d vs %d", len(hash1), len(hash2))
	}
	a, err := ParseHash(hash1)
	if err != nil {
		return 0, err
	}
	b, err := ParseHash(hash2)
	if err != nil {
		return 0, err
	}
	return bits.OnesCount64(a ^ b), nil
}

// SimilarityScore converts a Hamming distance into a 0..100 score,
// truncated toward zero. Identical hashes score 100.
func SimilarityScore(hash1, hash2 string) (int, error) {
	distance, err := HammingDistance(hash1, hash2)
	if err != nil {
		return 0, err
	}
	return int(100 * (1 - float64(distance)/float64(HashBits))), nil
}
