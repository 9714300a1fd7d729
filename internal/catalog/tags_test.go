package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irjudson/lumina/internal/database"
)

func TestStoreImageTags(t *testing.T) {
	store, _ := setupStore(t)
	cat := seedCatalog(t, store)
	img := seedImage(t, store, cat.ID, "/photos/a.jpg", nil)

	category := "camera"
	stored, err := store.StoreImageTags(cat.ID, img.ID, []TagRecord{
		{Name: "canon", Category: &category, Confidence: 0.8, Source: "heuristic"},
		{Name: "2024", Confidence: 0.6, Source: "heuristic"},
		{Name: "", Confidence: 0.9, Source: "heuristic"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stored, "empty names are skipped")

	tags, err := store.ListImageTags(img.ID)
	require.NoError(t, err)
	require.Len(t, tags, 2)

	byName := map[string]TagRecord{}
	for _, tag := range tags {
		byName[tag.Name] = tag
	}
	assert.Equal(t, 0.8, byName["canon"].Confidence)
	require.NotNil(t, byName["canon"].Category)
	assert.Equal(t, "camera", *byName["canon"].Category)
	assert.Nil(t, byName["2024"].Category)
}

func TestStoreImageTagsReusesTagRows(t *testing.T) {
	store, _ := setupStore(t)
	cat := seedCatalog(t, store)
	a := seedImage(t, store, cat.ID, "/photos/a.jpg", nil)
	b := seedImage(t, store, cat.ID, "/photos/b.jpg", nil)

	_, err := store.StoreImageTags(cat.ID, a.ID, []TagRecord{{Name: "beach", Confidence: 0.7, Source: "heuristic"}})
	require.NoError(t, err)
	_, err = store.StoreImageTags(cat.ID, b.ID, []TagRecord{{Name: "beach", Confidence: 0.9, Source: "heuristic"}})
	require.NoError(t, err)

	var tagCount int64
	store.DB().Model(&database.Tag{}).Count(&tagCount)
	assert.EqualValues(t, 1, tagCount, "same name resolves to one tag row")

	var linkCount int64
	store.DB().Model(&database.ImageTag{}).Count(&linkCount)
	assert.EqualValues(t, 2, linkCount)
}

func TestStoreImageTagsUpdatesConfidence(t *testing.T) {
	store, _ := setupStore(t)
	cat := seedCatalog(t, store)
	img := seedImage(t, store, cat.ID, "/photos/a.jpg", nil)

	_, err := store.StoreImageTags(cat.ID, img.ID, []TagRecord{{Name: "sunset", Confidence: 0.4, Source: "heuristic"}})
	require.NoError(t, err)
	_, err = store.StoreImageTags(cat.ID, img.ID, []TagRecord{{Name: "sunset", Confidence: 0.9, Source: "manual"}})
	require.NoError(t, err)

	tags, err := store.ListImageTags(img.ID)
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, 0.9, tags[0].Confidence)
	assert.Equal(t, "manual", tags[0].Source)
}

func TestListUntaggedImages(t *testing.T) {
	store, _ := setupStore(t)
	cat := seedCatalog(t, store)

	tagged := seedImage(t, store, cat.ID, "/photos/tagged.jpg", nil)
	untagged := seedImage(t, store, cat.ID, "/photos/untagged.jpg", nil)

	_, err := store.StoreImageTags(cat.ID, tagged.ID, []TagRecord{{Name: "dog", Confidence: 0.9, Source: "heuristic"}})
	require.NoError(t, err)

	ids, err := store.ListUntaggedImages(cat.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{untagged.ID}, ids)
}

func TestMirrorImageTags(t *testing.T) {
	store, _ := setupStore(t)
	cat := seedCatalog(t, store)
	img := seedImage(t, store, cat.ID, "/photos/a.jpg", func(i *database.Image) {
		i.Metadata = database.JSONMap{"camera_make": "Canon"}
	})

	require.NoError(t, store.MirrorImageTags(img.ID, []string{"photo", "canon", "beach"}))

	got, err := store.GetImage(cat.ID, img.ID)
	require.NoError(t, err)

	assert.Equal(t, "Canon", got.Metadata["camera_make"], "existing metadata survives")
	names, ok := got.Metadata["tags"].([]interface{})
	require.True(t, ok, "tags stored as a list, got %T", got.Metadata["tags"])
	assert.Equal(t, []interface{}{"photo", "canon", "beach"}, names)
	assert.Equal(t, true, got.ProcessingFlags["auto_tagged"])
}

func TestMirrorImageTagsUnknownImage(t *testing.T) {
	store, _ := setupStore(t)

	err := store.MirrorImageTags("no-such-image", []string{"photo"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}
