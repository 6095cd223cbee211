package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/vietddude/suindexer/internal/core/domain"
	"github.com/vietddude/suindexer/internal/infra/storage/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAuditor_CountsWithoutDeleting(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	now := time.Now()

	add := func(retries int) *domain.DeadLetter {
		entry := domain.NewDeadLetter("PropertyCreated", json.RawMessage(`{}`), errors.New("boom"), now.Add(-72*time.Hour))
		if err := store.DeadLetters().Add(ctx, entry); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		for i := 0; i < retries; i++ {
			if _, err := store.DeadLetters().IncrementRetry(ctx, entry.ID, "boom", now); err != nil {
				t.Fatalf("IncrementRetry failed: %v", err)
			}
		}
		return entry
	}

	resolved := add(0)
	exhausted := add(3)
	pending := add(1)

	if err := store.DeadLetters().MarkResolved(ctx, resolved.ID, now.Add(-48*time.Hour)); err != nil {
		t.Fatalf("MarkResolved failed: %v", err)
	}

	a := NewAuditor(time.Minute, 3, store.DeadLetters(), discardLogger())
	a.now = func() time.Time { return now }

	backlog, err := a.Audit(ctx)
	if err != nil {
		t.Fatalf("Audit failed: %v", err)
	}
	if backlog.Unresolved != 2 || backlog.Exhausted != 1 || !backlog.At.Equal(now) {
		t.Errorf("unexpected backlog %+v", backlog)
	}

	for _, e := range []*domain.DeadLetter{resolved, exhausted, pending} {
		if _, ok := store.DeadLetter(e.ID); !ok {
			t.Errorf("entry %s must be kept", e.ID)
		}
	}
}

func TestAuditor_TracksExhaustedGrowth(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()

	entry := domain.NewDeadLetter("PropertyCreated", json.RawMessage(`{}`), errors.New("boom"), time.Now())
	_ = store.DeadLetters().Add(ctx, entry)

	a := NewAuditor(time.Minute, 1, store.DeadLetters(), discardLogger())
	if _, err := a.Audit(ctx); err != nil {
		t.Fatalf("Audit failed: %v", err)
	}
	if a.lastExhausted != 0 {
		t.Fatalf("expected no exhausted entries, got %d", a.lastExhausted)
	}

	_, _ = store.DeadLetters().IncrementRetry(ctx, entry.ID, "boom", time.Now())
	if _, err := a.Audit(ctx); err != nil {
		t.Fatalf("Audit failed: %v", err)
	}
	if a.lastExhausted != 1 {
		t.Errorf("expected 1 exhausted entry, got %d", a.lastExhausted)
	}
}

func TestAuditor_DisabledReturnsImmediately(t *testing.T) {
	a := NewAuditor(0, 5, nil, discardLogger())
	done := make(chan struct{})
	go func() {
		a.Start(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled auditor should return at once")
	}
}
