// Package cursor tracks how fast each event type's cursor is moving.
package cursor

import (
	"sync"
	"time"

	"github.com/vietddude/suindexer/internal/core/domain"
)

// DefaultWindow is the number of batches kept per event type.
const DefaultWindow = 20

// batchRecord holds timing data for a committed batch.
type batchRecord struct {
	Events int
	At     time.Time
}

// Throughput holds cursor progress data for one event type.
type Throughput struct {
	EventsPerSecond  float64       `json:"events_per_second"`
	AverageBatchTime time.Duration `json:"average_batch_time"`
	Batches          int           `json:"batches"`
	LastProgressAt   *time.Time    `json:"last_progress_at,omitempty"`
}

// collector tracks one event type over a sliding window.
type collector struct {
	windowSize   int
	records      []batchRecord // ring of recent batches
	lastProgress *time.Time
}

func (c *collector) record(events, succeeded int, at time.Time) {
	r := batchRecord{Events: events, At: at}
	if len(c.records) >= c.windowSize {
		// Shift elements left, drop oldest
		copy(c.records, c.records[1:])
		c.records[len(c.records)-1] = r
	} else {
		c.records = append(c.records, r)
	}
	if succeeded > 0 {
		c.lastProgress = &at
	}
}

func (c *collector) throughput() Throughput {
	t := Throughput{Batches: len(c.records), LastProgressAt: c.lastProgress}
	if len(c.records) < 2 {
		return t
	}

	first := c.records[0]
	last := c.records[len(c.records)-1]
	duration := last.At.Sub(first.At)
	if duration <= 0 {
		return t
	}

	// Events of the first batch landed before the window opened
	events := 0
	for _, r := range c.records[1:] {
		events += r.Events
	}
	t.EventsPerSecond = float64(events) / duration.Seconds()
	t.AverageBatchTime = time.Duration(float64(duration) / float64(len(c.records)-1))
	return t
}

// Tracker records committed batches per event type.
type Tracker struct {
	mu         sync.Mutex
	windowSize int
	collectors map[domain.EventType]*collector
}

// NewTracker creates a tracker keeping windowSize batches per type.
func NewTracker(windowSize int) *Tracker {
	if windowSize < 2 {
		windowSize = DefaultWindow
	}
	return &Tracker{
		windowSize: windowSize,
		collectors: make(map[domain.EventType]*collector),
	}
}

// RecordBatch records a committed batch of events, of which succeeded were applied.
func (t *Tracker) RecordBatch(eventType domain.EventType, events, succeeded int, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.collectors[eventType]
	if !ok {
		c = &collector{windowSize: t.windowSize}
		t.collectors[eventType] = c
	}
	c.record(events, succeeded, at)
}

// Throughput returns current data for eventType; zero when nothing was recorded.
func (t *Tracker) Throughput(eventType domain.EventType) Throughput {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.collectors[eventType]
	if !ok {
		return Throughput{}
	}
	return c.throughput()
}

// Reset clears all collected data.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.collectors = make(map[domain.EventType]*collector)
	t.mu.Unlock()
}
