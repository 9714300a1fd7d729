package bursts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func at(seconds float64) *time.Time {
	t := epoch.Add(time.Duration(seconds * float64(time.Second)))
	return &t
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

func TestDetectSingleBurst(t *testing.T) {
	canon := strPtr("Canon")
	images := []Image{
		{ID: "a", Timestamp: at(0.0), Camera: canon},
		{ID: "b", Timestamp: at(0.4), Camera: canon},
		{ID: "c", Timestamp: at(0.9), Camera: canon},
		{ID: "d", Timestamp: at(1.4), Camera: canon},
	}

	found := Detect(images, Options{GapThreshold: 1.0, MinSize: 3, MinDuration: 0.5})
	require.Len(t, found, 1)

	b := found[0]
	assert.Equal(t, []string{"a", "b", "c", "d"}, b.ImageIDs)
	assert.Equal(t, *at(0.0), b.StartTime)
	assert.Equal(t, *at(1.4), b.EndTime)
	assert.InDelta(t, 1.4, b.DurationSeconds, 1e-9)
	assert.Equal(t, "Canon", *b.Camera)
}

func TestDetectSplitsOnGap(t *testing.T) {
	cam := strPtr("X100")
	images := []Image{
		{ID: "a", Timestamp: at(0.0), Camera: cam},
		{ID: "b", Timestamp: at(0.5), Camera: cam},
		{ID: "c", Timestamp: at(1.0), Camera: cam},
		{ID: "d", Timestamp: at(10.0), Camera: cam},
		{ID: "e", Timestamp: at(10.3), Camera: cam},
		{ID: "f", Timestamp: at(10.8), Camera: cam},
	}

	found := Detect(images, DefaultOptions())
	require.Len(t, found, 2)
	assert.Equal(t, []string{"a", "b", "c"}, found[0].ImageIDs)
	assert.Equal(t, []string{"d", "e", "f"}, found[1].ImageIDs)
}

func TestDetectSeparatesCameras(t *testing.T) {
	images := []Image{
		{ID: "canon1", Timestamp: at(0.0), Camera: strPtr("Canon")},
		{ID: "nikon1", Timestamp: at(0.2), Camera: strPtr("Nikon")},
		{ID: "canon2", Timestamp: at(0.4), Camera: strPtr("Canon")},
		{ID: "nikon2", Timestamp: at(0.6), Camera: strPtr("Nikon")},
	}

	found := Detect(images, Options{GapThreshold: 1.0, MinSize: 2, MinDuration: 0.1})
	require.Len(t, found, 2)
	assert.Equal(t, []string{"canon1", "canon2"}, found[0].ImageIDs)
	assert.Equal(t, []string{"nikon1", "nikon2"}, found[1].ImageIDs)
}

func TestDetectMissingCameraIsOwnPartition(t *testing.T) {
	// Unknown-camera shots never merge with a camera literally named
	// "unknown", and vice versa.
	images := []Image{
		{ID: "u1", Timestamp: at(0.0)},
		{ID: "n1", Timestamp: at(0.1), Camera: strPtr("unknown")},
		{ID: "u2", Timestamp: at(0.2)},
		{ID: "n2", Timestamp: at(0.3), Camera: strPtr("unknown")},
		{ID: "u3", Timestamp: at(0.4)},
		{ID: "n3", Timestamp: at(0.5), Camera: strPtr("unknown")},
	}

	found := Detect(images, Options{GapThreshold: 1.0, MinSize: 3, MinDuration: 0.1})
	require.Len(t, found, 2)
	assert.Equal(t, []string{"u1", "u2", "u3"}, found[0].ImageIDs)
	assert.Nil(t, found[0].Camera)
	assert.Equal(t, []string{"n1", "n2", "n3"}, found[1].ImageIDs)
	assert.Equal(t, "unknown", *found[1].Camera)
}

func TestDetectMissingTimestampBreaksSequence(t *testing.T) {
	cam := strPtr("Canon")
	images := []Image{
		{ID: "a", Timestamp: at(0.0), Camera: cam},
		{ID: "b", Timestamp: at(0.3), Camera: cam},
		{ID: "c", Camera: cam},
		{ID: "d", Timestamp: at(0.6), Camera: cam},
	}

	found := Detect(images, Options{GapThreshold: 1.0, MinSize: 2, MinDuration: 0.1})
	// nil timestamps sort first and split every run they touch
	require.Len(t, found, 1)
	assert.Equal(t, []string{"a", "b", "d"}, found[0].ImageIDs)
}

func TestDetectTooFewImages(t *testing.T) {
	cam := strPtr("Canon")
	images := []Image{
		{ID: "a", Timestamp: at(0.0), Camera: cam},
		{ID: "b", Timestamp: at(0.2), Camera: cam},
	}
	assert.Empty(t, Detect(images, DefaultOptions()))
}

func TestDetectRejectsShortDuration(t *testing.T) {
	cam := strPtr("Canon")
	images := []Image{
		{ID: "a", Timestamp: at(0.0), Camera: cam},
		{ID: "b", Timestamp: at(0.1), Camera: cam},
		{ID: "c", Timestamp: at(0.2), Camera: cam},
	}

	found := Detect(images, Options{GapThreshold: 1.0, MinSize: 3, MinDuration: 0.5})
	assert.Empty(t, found)
}

func TestDetectUnsortedInput(t *testing.T) {
	cam := strPtr("Canon")
	images := []Image{
		{ID: "c", Timestamp: at(0.9), Camera: cam},
		{ID: "a", Timestamp: at(0.0), Camera: cam},
		{ID: "b", Timestamp: at(0.4), Camera: cam},
	}

	found := Detect(images, DefaultOptions())
	require.Len(t, found, 1)
	assert.Equal(t, []string{"a", "b", "c"}, found[0].ImageIDs)
}

func TestSelectBest(t *testing.T) {
	images := []Image{
		{ID: "a", QualityScore: floatPtr(60)},
		{ID: "b", QualityScore: floatPtr(80)},
		{ID: "c", QualityScore: floatPtr(75)},
		{ID: "d", QualityScore: floatPtr(40)},
	}

	id, err := SelectBest(images, SelectQuality)
	require.NoError(t, err)
	assert.Equal(t, "b", id)

	id, err = SelectBest(images, SelectFirst)
	require.NoError(t, err)
	assert.Equal(t, "a", id)

	id, err = SelectBest(images, SelectMiddle)
	require.NoError(t, err)
	assert.Equal(t, "c", id)
}

func TestSelectBestQualityTies(t *testing.T) {
	images := []Image{
		{ID: "a", QualityScore: floatPtr(70)},
		{ID: "b", QualityScore: floatPtr(70)},
		{ID: "c"},
	}

	id, err := SelectBest(images, SelectQuality)
	require.NoError(t, err)
	assert.Equal(t, "a", id)
}

func TestSelectBestUnknownMethodFallsBackToQuality(t *testing.T) {
	images := []Image{
		{ID: "a", QualityScore: floatPtr(10)},
		{ID: "b", QualityScore: floatPtr(90)},
	}

	id, err := SelectBest(images, "sharpest")
	require.NoError(t, err)
	assert.Equal(t, "b", id)
}

func TestSelectBestEmpty(t *testing.T) {
	_, err := SelectBest(nil, SelectQuality)
	assert.Error(t, err)
}
