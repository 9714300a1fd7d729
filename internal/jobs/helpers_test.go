package jobs

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/irjudson/lumina/internal/catalog"
	"github.com/irjudson/lumina/internal/database"
	"github.com/irjudson/lumina/internal/events"
)

// recordingBus implements events.EventBus and captures published events.
type recordingBus struct {
	mu     sync.RWMutex
	events []events.Event
}

func (b *recordingBus) Start(ctx context.Context) error { return nil }
func (b *recordingBus) Stop(ctx context.Context) error  { return nil }

func (b *recordingBus) Publish(ctx context.Context, event events.Event) error {
	return b.PublishAsync(event)
}

func (b *recordingBus) PublishAsync(event events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) Subscribe(ctx context.Context, filter events.EventFilter, handler events.EventHandler) (*events.Subscription, error) {
	return nil, nil
}

func (b *recordingBus) Unsubscribe(subscriptionID string) error  { return nil }
func (b *recordingBus) GetSubscriptions() []*events.Subscription { return nil }

func (b *recordingBus) GetEvents(filter events.EventFilter, limit, offset int) ([]events.Event, int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]events.Event{}, b.events...), int64(len(b.events)), nil
}

func (b *recordingBus) GetStats() events.EventStats { return events.EventStats{} }
func (b *recordingBus) Health() error               { return nil }

func (b *recordingBus) published() []events.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]events.Event{}, b.events...)
}

func (b *recordingBus) publishedOfType(eventType events.EventType) []events.Event {
	var out []events.Event
	for _, e := range b.published() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// setupJobsDB opens an in-memory SQLite database pinned to a single
// connection: every :memory: connection is its own database, and the
// worker pool hits the pool from several goroutines.
func setupJobsDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	return db
}

func setupJobsStore(t *testing.T) (*gorm.DB, *catalog.Store, *recordingBus) {
	t.Helper()
	db := setupJobsDB(t)
	bus := &recordingBus{}
	return db, catalog.NewStore(db, bus), bus
}

// seedJobRow persists a job row in the given status so executors and
// publishers have something to update.
func seedJobRow(t *testing.T, db *gorm.DB, catalogID *string, jobType, status string) *database.Job {
	t.Helper()
	job := &database.Job{
		ID:         uuid.NewString(),
		CatalogID:  catalogID,
		JobType:    jobType,
		Status:     status,
		Parameters: database.JSONMap{},
	}
	require.NoError(t, db.Create(job).Error)
	return job
}
