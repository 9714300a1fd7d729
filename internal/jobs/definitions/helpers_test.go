package definitions

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/irjudson/lumina/internal/catalog"
	"github.com/irjudson/lumina/internal/config"
	"github.com/irjudson/lumina/internal/database"
	"github.com/irjudson/lumina/internal/events"
	"github.com/irjudson/lumina/internal/jobs"
	"github.com/irjudson/lumina/internal/media"
	"github.com/irjudson/lumina/internal/tagging"
)

// stubBus satisfies events.EventBus; definition tests only need the
// store to accept publishes.
type stubBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *stubBus) Start(ctx context.Context) error { return nil }
func (b *stubBus) Stop(ctx context.Context) error  { return nil }

func (b *stubBus) Publish(ctx context.Context, event events.Event) error {
	return b.PublishAsync(event)
}

func (b *stubBus) PublishAsync(event events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *stubBus) Subscribe(ctx context.Context, filter events.EventFilter, handler events.EventHandler) (*events.Subscription, error) {
	return nil, nil
}

func (b *stubBus) Unsubscribe(subscriptionID string) error  { return nil }
func (b *stubBus) GetSubscriptions() []*events.Subscription { return nil }
func (b *stubBus) GetStats() events.EventStats              { return events.EventStats{} }
func (b *stubBus) Health() error                            { return nil }

func (b *stubBus) GetEvents(filter events.EventFilter, limit, offset int) ([]events.Event, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]events.Event{}, b.events...), int64(len(b.events)), nil
}

// newDeps builds a Deps over an in-memory database with data and
// thumbnail directories under the test's tempdir.
func newDeps(t *testing.T) (Deps, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// Every :memory: connection is its own database; keep the worker
	// pool on one connection.
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))

	cfg := config.DefaultConfig()
	cfg.Thumbnails.Dir = filepath.Join(t.TempDir(), "thumbnails")

	prober, err := media.NewProber(media.DefaultProbeCacheSize)
	require.NoError(t, err)

	deps := Deps{
		Store:       catalog.NewStore(db, &stubBus{}),
		Prober:      prober,
		Thumbnailer: media.NewThumbnailer(cfg.Thumbnails.Dir, cfg.Thumbnails.SizePx, cfg.Thumbnails.Quality),
		Tagger:      tagging.NewHeuristic(),
		Cfg:         cfg,
	}
	return deps, db
}

func seedCatalog(t *testing.T, deps Deps, sourceDirs ...string) *database.Catalog {
	t.Helper()
	if len(sourceDirs) == 0 {
		sourceDirs = []string{t.TempDir()}
	}
	cat, err := deps.Store.CreateCatalog("test-catalog", sourceDirs)
	require.NoError(t, err)
	return cat
}

func seedImage(t *testing.T, deps Deps, catalogID, path string, mutate func(*database.Image)) *database.Image {
	t.Helper()
	img := &database.Image{
		CatalogID:  catalogID,
		SourcePath: path,
		FileType:   database.FileTypeImage,
		Checksum:   "checksum-" + path,
		SizeBytes:  1000,
		Status:     database.ImageStatusPending,
	}
	if mutate != nil {
		mutate(img)
	}
	require.NoError(t, deps.Store.UpsertImage(img))
	return img
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

func runCtx(catalogID string, params jobs.Params) *jobs.RunContext {
	if params == nil {
		params = jobs.Params{}
	}
	return &jobs.RunContext{JobID: "job-1", CatalogID: catalogID, Params: params}
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

// definitionByName registers the standard definitions and returns one.
func definitionByName(t *testing.T, deps Deps, name string) *jobs.Definition {
	t.Helper()
	reg := jobs.NewRegistry()
	require.NoError(t, Register(reg, deps))
	def, ok := reg.Get(name)
	require.True(t, ok, "definition %s not registered", name)
	return def
}
