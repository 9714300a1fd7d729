package jobs

import (
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/irjudson/lumina/internal/catalog"
	"github.com/irjudson/lumina/internal/database"
	"github.com/irjudson/lumina/internal/events"
)

const (
	// debounceInterval caps regular progress emission; batch terminal
	// transitions always flush regardless.
	debounceInterval = 250 * time.Millisecond

	// ewmaAlpha smooths the observed items/sec throughput.
	ewmaAlpha = 0.2

	// progressRingSize is how many recent events stay readable without a
	// bus subscription.
	progressRingSize = 256
)

// Job phases reported in progress events.
const (
	PhaseDiscovering = "discovering"
	PhaseProcessing  = "processing"
	PhaseFinalizing  = "finalizing"
)

// ProgressEvent is one published progress snapshot.
type ProgressEvent struct {
	JobID      string  `json:"job_id"`
	Phase      string  `json:"phase"`
	Processed  int64   `json:"processed"`
	Total      int64   `json:"total"`
	Success    int64   `json:"success"`
	Errors     int64   `json:"error"`
	RatePerSec float64 `json:"rate_per_sec_ewma"`
	ETASeconds float64 `json:"eta_seconds"`
}

func (e ProgressEvent) asMap() map[string]interface{} {
	return map[string]interface{}{
		"type":              "progress",
		"job_id":            e.JobID,
		"phase":             e.Phase,
		"processed":         e.Processed,
		"total":             e.Total,
		"success":           e.Success,
		"error":             e.Errors,
		"rate_per_sec_ewma": e.RatePerSec,
		"eta_seconds":       e.ETASeconds,
	}
}

// progressRing is a fixed-size ring of the most recent progress events.
type progressRing struct {
	mu   sync.RWMutex
	buf  []ProgressEvent
	next int
	full bool
}

func newProgressRing(size int) *progressRing {
	return &progressRing{buf: make([]ProgressEvent, size)}
}

func (r *progressRing) add(e ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// tail returns up to n most recent events, oldest first.
func (r *progressRing) tail(n int) []ProgressEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := r.next
	if r.full {
		size = len(r.buf)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]ProgressEvent, 0, n)
	start := r.next - n
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < n; i++ {
		out = append(out, r.buf[(start+i)%len(r.buf)])
	}
	return out
}

// Publisher is the per-job progress emitter. Workers feed it counter
// deltas from any goroutine; a single emitter goroutine owns the EWMA
// state, debounces to at most one event per interval, flushes on every
// batch terminal transition, and mirrors the latest snapshot into the
// job row for poll-based readers.
type Publisher struct {
	db        *gorm.DB
	store     *catalog.Store
	jobID     string
	catalogID string

	total     atomic.Int64
	processed atomic.Int64
	success   atomic.Int64
	errCount  atomic.Int64
	phase     atomic.Value

	ring       *progressRing
	terminalCh chan struct{}
	stopCh     chan struct{}
	doneCh     chan struct{}

	// emitter-goroutine state
	ewma          float64
	lastSample    time.Time
	lastProcessed int64
	lastEmitted   ProgressEvent
	emittedOnce   bool
}

// NewPublisher creates a progress publisher for one job run.
func NewPublisher(db *gorm.DB, store *catalog.Store, jobID, catalogID string) *Publisher {
	p := &Publisher{
		db:         db,
		store:      store,
		jobID:      jobID,
		catalogID:  catalogID,
		ring:       newProgressRing(progressRingSize),
		terminalCh: make(chan struct{}, progressRingSize),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	p.phase.Store(PhaseDiscovering)
	return p
}

// Start launches the emitter goroutine.
func (p *Publisher) Start() {
	go p.loop()
}

// Stop emits a final snapshot and stops the emitter. Safe to call once.
func (p *Publisher) Stop() {
	close(p.stopCh)
	<-p.doneCh
}

// SetPhase records the phase reported by subsequent events.
func (p *Publisher) SetPhase(phase string) {
	p.phase.Store(phase)
}

// SetTotal records the total item count once discovery knows it.
func (p *Publisher) SetTotal(total int64) {
	p.total.Store(total)
}

// Observe adds worker counter deltas. Counters only grow, so the
// emitted (processed, success, error) tuple is strictly monotonic.
func (p *Publisher) Observe(processed, success, errCount int64) {
	p.processed.Add(processed)
	p.success.Add(success)
	p.errCount.Add(errCount)
}

// BatchTerminal requests an immediate emission for a batch terminal
// transition, bypassing the debounce window.
func (p *Publisher) BatchTerminal() {
	select {
	case p.terminalCh <- struct{}{}:
	default:
	}
}

// Tail returns up to n recent events, oldest first.
func (p *Publisher) Tail(n int) []ProgressEvent {
	return p.ring.tail(n)
}

func (p *Publisher) loop() {
	defer close(p.doneCh)
	ticker := time.NewTicker(debounceInterval)
	defer ticker.Stop()
	p.lastSample = time.Now()

	for {
		select {
		case <-p.stopCh:
			p.emit(true)
			return
		case <-p.terminalCh:
			p.emit(true)
		case <-ticker.C:
			p.emit(false)
		}
	}
}

// emit publishes one snapshot. Unforced emissions are skipped when
// nothing changed since the last one.
func (p *Publisher) emit(force bool) {
	now := time.Now()
	event := ProgressEvent{
		JobID:     p.jobID,
		Phase:     p.phase.Load().(string),
		Processed: p.processed.Load(),
		Total:     p.total.Load(),
		Success:   p.success.Load(),
		Errors:    p.errCount.Load(),
	}
	if !force && p.emittedOnce &&
		event.Processed == p.lastEmitted.Processed &&
		event.Phase == p.lastEmitted.Phase {
		return
	}

	if dt := now.Sub(p.lastSample).Seconds(); dt > 0 {
		rate := float64(event.Processed-p.lastProcessed) / dt
		if p.emittedOnce {
			p.ewma = ewmaAlpha*rate + (1-ewmaAlpha)*p.ewma
		} else {
			p.ewma = rate
		}
	}
	p.lastSample = now
	p.lastProcessed = event.Processed

	event.RatePerSec = p.ewma
	if remaining := event.Total - event.Processed; remaining > 0 && p.ewma > 0 {
		event.ETASeconds = float64(remaining) / p.ewma
	}

	p.lastEmitted = event
	p.emittedOnce = true
	p.ring.add(event)

	if p.store != nil {
		busEvent := events.NewChannelEvent(events.EventJobProgress, catalog.ChannelFor(p.catalogID), "jobs", event.asMap())
		_ = p.store.Publish(catalog.ChannelFor(p.catalogID), busEvent)
	}
	if p.db != nil {
		p.db.Model(&database.Job{}).
			Where("id = ?", p.jobID).
			Update("progress", database.JSONMap(event.asMap()))
	}
}
