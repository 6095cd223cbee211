// Package signal carries the indexer's observability records from the
// components that raise them to the sinks that consume them. Emitting never
// blocks the caller.
package signal

import (
	"time"

	"github.com/vietddude/suindexer/internal/core/domain"
)

// Kind names a signal.
type Kind string

const (
	KindStarted               Kind = "started"
	KindStopped               Kind = "stopped"
	KindBatchProcessed        Kind = "batch_processed"
	KindBatchFailed           Kind = "batch_failed"
	KindPollRetry             Kind = "poll_retry"
	KindPollError             Kind = "poll_error"
	KindHealthCheck           Kind = "health_check"
	KindRetryingDeadLetters   Kind = "retrying_dead_letters"
	KindDeadLetterResolved    Kind = "dead_letter_resolved"
	KindDeadLetterRetryFailed Kind = "dead_letter_retry_failed"
	KindDeadLetterExhausted   Kind = "dead_letter_exhausted"
	KindMonitorError          Kind = "monitor_error"
)

// BatchCounts summarises a committed page.
type BatchCounts struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
	Total   int `json:"total"`
}

// HealthCheck is the per-type result of a health probe.
type HealthCheck struct {
	HasNewEvents    bool            `json:"has_new_events"`
	LatestEvent     *domain.EventID `json:"latest_event,omitempty"`
	Cursor          *domain.EventID `json:"cursor,omitempty"`
	CursorUpdatedAt time.Time       `json:"cursor_updated_at"`
	Lag             time.Duration   `json:"lag"`
}

// Signal is one observability record. Only the fields relevant to Kind are set.
type Signal struct {
	Kind      Kind
	EventType domain.EventType
	At        time.Time
	Err       error

	Counts       *BatchCounts
	Page         *domain.EventPage
	Attempt      int
	DeadLetterID string
	RetryCount   int
	Pending      int
	Health       *HealthCheck
}

// New creates a signal of kind for eventType stamped with the current time.
func New(kind Kind, eventType domain.EventType) Signal {
	return Signal{Kind: kind, EventType: eventType, At: time.Now()}
}

// Attrs flattens the signal into slog-style key/value pairs.
func (s Signal) Attrs() []any {
	attrs := []any{"kind", string(s.Kind)}
	if s.EventType != "" {
		attrs = append(attrs, "event_type", string(s.EventType))
	}
	if s.Err != nil {
		attrs = append(attrs, "error", s.Err.Error())
	}
	if s.Counts != nil {
		attrs = append(attrs,
			"success", s.Counts.Success,
			"failure", s.Counts.Failure,
			"total", s.Counts.Total,
		)
	}
	if s.Page != nil {
		attrs = append(attrs, "page_size", len(s.Page.Data))
		if s.Page.NextCursor != nil {
			attrs = append(attrs, "page_cursor", s.Page.NextCursor.String())
		}
	}
	if s.Attempt > 0 {
		attrs = append(attrs, "attempt", s.Attempt)
	}
	if s.DeadLetterID != "" {
		attrs = append(attrs, "dead_letter_id", s.DeadLetterID, "retry_count", s.RetryCount)
	}
	if s.Kind == KindRetryingDeadLetters {
		attrs = append(attrs, "count", s.Pending)
	}
	if h := s.Health; h != nil {
		attrs = append(attrs,
			"has_new_events", h.HasNewEvents,
			"cursor_updated_at", h.CursorUpdatedAt,
			"lag", h.Lag.String(),
		)
		if h.Cursor != nil {
			attrs = append(attrs, "cursor", h.Cursor.String())
		}
		if h.LatestEvent != nil {
			attrs = append(attrs, "latest_event", h.LatestEvent.String())
		}
	}
	return attrs
}

// Sink consumes signals. Implementations must not block for long.
type Sink interface {
	Emit(s Signal)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(s Signal)

func (f SinkFunc) Emit(s Signal) { f(s) }

// Nop discards every signal.
var Nop Sink = SinkFunc(func(Signal) {})

type multi []Sink

func (m multi) Emit(s Signal) {
	for _, sink := range m {
		sink.Emit(s)
	}
}

// Multi fans a signal out to every sink in order.
func Multi(sinks ...Sink) Sink {
	return multi(sinks)
}
