package signal

import (
	"errors"
	"sync"
	"testing"

	"github.com/vietddude/suindexer/internal/core/domain"
)

func TestDispatcher_DeliversInOrder(t *testing.T) {
	rec := &Recorder{}
	d := NewDispatcher(16, rec)

	d.Emit(New(KindStarted, ""))
	d.Emit(New(KindBatchProcessed, "PropertyCreated"))
	d.Emit(New(KindStopped, ""))
	d.Close()

	got := rec.Signals()
	if len(got) != 3 {
		t.Fatalf("expected 3 signals, got %d", len(got))
	}
	want := []Kind{KindStarted, KindBatchProcessed, KindStopped}
	for i, k := range want {
		if got[i].Kind != k {
			t.Errorf("signal %d = %s, want %s", i, got[i].Kind, k)
		}
	}
}

func TestDispatcher_NeverBlocks(t *testing.T) {
	release := make(chan struct{})
	var delivered int
	var mu sync.Mutex
	slow := SinkFunc(func(Signal) {
		<-release
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	d := NewDispatcher(1, slow)
	// One in the sink, one in the buffer, the rest are dropped
	for i := 0; i < 10; i++ {
		d.Emit(New(KindHealthCheck, "T"))
	}
	close(release)
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	if delivered < 1 || delivered > 2 {
		t.Errorf("expected 1 or 2 delivered signals, got %d", delivered)
	}
}

func TestDispatcher_EmitAfterClose(t *testing.T) {
	rec := &Recorder{}
	d := NewDispatcher(4, rec)
	d.Close()
	d.Close()

	d.Emit(New(KindStarted, ""))
	if n := len(rec.Signals()); n != 0 {
		t.Errorf("expected no delivery after close, got %d", n)
	}
}

func TestSignal_Attrs(t *testing.T) {
	s := New(KindBatchProcessed, "PropertyCreated")
	s.Counts = &BatchCounts{Success: 2, Failure: 1, Total: 3}
	s.Err = errors.New("x")
	s.Page = &domain.EventPage{NextCursor: &domain.EventID{TxDigest: "A", EventSeq: "1"}}

	attrs := s.Attrs()
	m := map[string]any{}
	for i := 0; i+1 < len(attrs); i += 2 {
		m[attrs[i].(string)] = attrs[i+1]
	}
	if m["event_type"] != "PropertyCreated" || m["success"] != 2 || m["failure"] != 1 || m["total"] != 3 {
		t.Errorf("unexpected attrs %v", m)
	}
	if m["page_cursor"] != "A:1" {
		t.Errorf("expected page_cursor A:1, got %v", m["page_cursor"])
	}
	if m["error"] != "x" {
		t.Errorf("expected error x, got %v", m["error"])
	}
}
