package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/irjudson/lumina/internal/catalog"
	"github.com/irjudson/lumina/internal/config"
	"github.com/irjudson/lumina/internal/database"
	"github.com/irjudson/lumina/internal/events"
	"github.com/irjudson/lumina/internal/jobs"
)

// fixture bundles the server with the pieces behind it so tests can
// seed state directly.
type fixture struct {
	srv   *Server
	db    *gorm.DB
	store *catalog.Store
	bus   events.EventBus
	ctrl  *jobs.Controller
}

// newFixture wires a server against an in-memory database, a running
// event bus, and a controller with two registered job types: "noop"
// completes immediately, "wait" blocks until cancelled.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// Every :memory: connection is its own database; keep the worker
	// pool on one connection.
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))

	bus := events.NewEventBus(events.DefaultConfig(), hclog.NewNullLogger())
	require.NoError(t, bus.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = bus.Stop(ctx)
	})

	store := catalog.NewStore(db, bus)

	reg := jobs.NewRegistry()
	reg.MustRegister(jobs.Definition{
		Name: "noop",
		Discover: func(ctx context.Context, rc *jobs.RunContext) ([]string, error) {
			return []string{"one"}, nil
		},
		Process: func(ctx context.Context, rc *jobs.RunContext, item string) (map[string]interface{}, error) {
			return nil, nil
		},
	})
	reg.MustRegister(jobs.Definition{
		Name:         "wait",
		DisableRetry: true,
		Discover: func(ctx context.Context, rc *jobs.RunContext) ([]string, error) {
			return []string{"one"}, nil
		},
		Process: func(ctx context.Context, rc *jobs.RunContext, item string) (map[string]interface{}, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	ctrl := jobs.NewController(db, store, reg, nil, config.JobsConfig{
		MaxConcurrent:     2,
		HeartbeatInterval: 20 * time.Millisecond,
		ReclaimAfter:      time.Minute,
		HistoryLimit:      100,
	})
	require.NoError(t, ctrl.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, ctrl.Stop(ctx))
	})

	cfg := config.DefaultConfig()
	srv := New(cfg, store, ctrl, nil, bus)

	return &fixture{srv: srv, db: db, store: store, bus: bus, ctrl: ctrl}
}

// do runs one request through the router and returns the recorder.
func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.srv.Router().ServeHTTP(w, req)
	return w
}

// decode unmarshals a JSON response body into a generic map.
func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// awaitJobStatus polls the job endpoint until the job reaches the
// wanted status. The condition runs on a polling goroutine, so it
// reports rather than fails on decode problems.
func (f *fixture) awaitJobStatus(t *testing.T, jobID, status string) {
	t.Helper()
	require.Eventually(t, func() bool {
		w := f.do(t, http.MethodGet, "/api/jobs/"+jobID, nil)
		if w.Code != http.StatusOK {
			return false
		}
		var body map[string]interface{}
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			return false
		}
		return body["status"] == status
	}, 5*time.Second, 10*time.Millisecond)
}

// seedCatalog creates a catalog with a single source directory.
func (f *fixture) seedCatalog(t *testing.T) *database.Catalog {
	t.Helper()
	cat, err := f.store.CreateCatalog("test-catalog", []string{t.TempDir()})
	require.NoError(t, err)
	return cat
}

// seedImage registers an image row under the catalog.
func (f *fixture) seedImage(t *testing.T, catalogID, sourcePath string, mutate func(*database.Image)) *database.Image {
	t.Helper()
	img := &database.Image{
		ID:         catalog.ImageID(catalogID, sourcePath),
		CatalogID:  catalogID,
		SourcePath: sourcePath,
		FileType:   database.FileTypeImage,
		Checksum:   "checksum-" + sourcePath,
		SizeBytes:  1000,
		Status:     database.ImageStatusPending,
	}
	if mutate != nil {
		mutate(img)
	}
	require.NoError(t, f.store.UpsertImage(img))
	return img
}
