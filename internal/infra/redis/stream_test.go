package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/vietddude/suindexer/internal/core/domain"
	"github.com/vietddude/suindexer/internal/indexing/signal"
)

type mockPublisher struct {
	entries []map[string]any
	err     error
}

func (m *mockPublisher) Publish(ctx context.Context, values map[string]any) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.entries = append(m.entries, values)
	return "1-0", nil
}

func TestStreamValues(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sig := signal.Signal{
		Kind:      signal.KindBatchProcessed,
		EventType: "PropertyCreated",
		At:        at,
		Counts:    &signal.BatchCounts{Success: 2, Failure: 1, Total: 3},
	}

	values := StreamValues(sig)
	want := map[string]string{
		"kind":       "batch_processed",
		"event_type": "PropertyCreated",
		"success":    "2",
		"failure":    "1",
		"total":      "3",
		"at":         "2026-01-02T03:04:05Z",
	}
	for k, v := range want {
		if values[k] != v {
			t.Errorf("%s: expected %q, got %v", k, v, values[k])
		}
	}
}

func TestStreamValues_Health(t *testing.T) {
	updated := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sig := signal.New(signal.KindHealthCheck, "PropertyCreated")
	sig.Health = &signal.HealthCheck{
		HasNewEvents:    true,
		Cursor:          &domain.EventID{TxDigest: "A", EventSeq: "1"},
		CursorUpdatedAt: updated,
		Lag:             time.Minute,
	}

	values := StreamValues(sig)
	if values["has_new_events"] != "true" || values["cursor"] != "A:1" || values["lag"] != "1m0s" {
		t.Errorf("unexpected values %v", values)
	}
	if values["cursor_updated_at"] != "2026-01-01T00:00:00Z" {
		t.Errorf("expected RFC3339 time, got %v", values["cursor_updated_at"])
	}
}

func TestStreamSink_Emit(t *testing.T) {
	pub := &mockPublisher{}
	sink := &StreamSink{pub: pub, timeout: time.Second, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	sink.Emit(signal.New(signal.KindStarted, ""))
	if len(pub.entries) != 1 || pub.entries[0]["kind"] != "started" {
		t.Errorf("unexpected entries %v", pub.entries)
	}

	// Publish failures are logged, never surfaced
	pub.err = errors.New("connection refused")
	sink.Emit(signal.New(signal.KindStopped, ""))
	if len(pub.entries) != 1 {
		t.Errorf("expected no new entry, got %v", pub.entries)
	}
}
