package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/suindexer/internal/core/domain"
	"github.com/vietddude/suindexer/internal/indexing/committer"
	"github.com/vietddude/suindexer/internal/indexing/processor"
	"github.com/vietddude/suindexer/internal/indexing/signal"
	"github.com/vietddude/suindexer/internal/indexing/throttle"
	"github.com/vietddude/suindexer/internal/infra/rpc"
	"github.com/vietddude/suindexer/internal/infra/storage/memory"
)

// ===== Fake Event Source =====

type queryCall struct {
	cursor *domain.EventID
	limit  int
	order  domain.Order
}

type fakeSource struct {
	mu    sync.Mutex
	calls []queryCall
	fn    func(ctx context.Context, call int) (*domain.EventPage, error)
}

func (f *fakeSource) QueryEvents(
	ctx context.Context,
	filter domain.EventFilter,
	cursor *domain.EventID,
	limit int,
	order domain.Order,
) (*domain.EventPage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, queryCall{cursor: cursor, limit: limit, order: order})
	n := len(f.calls)
	f.mu.Unlock()
	return f.fn(ctx, n)
}

func (f *fakeSource) Calls() []queryCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queryCall(nil), f.calls...)
}

// ===== Helpers =====

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func propertyEvent(seq, objectID string) domain.Event {
	return domain.Event{
		ID: domain.EventID{TxDigest: "TX" + seq, EventSeq: seq},
		ParsedJSON: json.RawMessage(fmt.Sprintf(
			`{"property_id":%q,"owner":"0xo","price_per_day":"1","property_type":{"variant":"HOUSE"},"num_rooms":"4"}`,
			objectID,
		)),
	}
}

func pageOf(next string, events ...domain.Event) *domain.EventPage {
	return &domain.EventPage{
		Data:       events,
		NextCursor: &domain.EventID{TxDigest: next, EventSeq: "0"},
	}
}

var testConfig = Config{
	Interval:  10 * time.Millisecond,
	BatchSize: 50,
	Retry: rpc.RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  time.Millisecond,
		MaxDelay:      2 * time.Millisecond,
		BackoffFactor: 1.5,
	},
}

type fixture struct {
	store  *memory.MemoryStorage
	rec    *signal.Recorder
	source *fakeSource
	poller *Poller
}

func newFixture(fn func(ctx context.Context, call int) (*domain.EventPage, error)) *fixture {
	store := memory.NewMemoryStorage()
	rec := &signal.Recorder{}
	source := &fakeSource{fn: fn}
	proc := processor.NewPropertyCreated("0xpkg", discardLogger())
	c := committer.New(store, rec, discardLogger())
	return &fixture{
		store:  store,
		rec:    rec,
		source: source,
		poller: New(testConfig, proc, source, store.Cursors(), c, rec, discardLogger()),
	}
}

// ===== Tests =====

func TestPollOnce_RetriesTransientFailures(t *testing.T) {
	f := newFixture(func(ctx context.Context, call int) (*domain.EventPage, error) {
		if call < 3 {
			return nil, errors.New("connection refused")
		}
		return pageOf("P1", propertyEvent("0", "0x1")), nil
	})

	res, err := f.poller.PollOnce(context.Background())
	if err != nil {
		t.Fatalf("PollOnce failed: %v", err)
	}
	if res.Success != 1 {
		t.Errorf("expected 1 success, got %+v", res)
	}
	if n := len(f.rec.OfKind(signal.KindPollRetry)); n != 2 {
		t.Errorf("expected 2 poll_retry signals, got %d", n)
	}
	if n := len(f.rec.OfKind(signal.KindPollError)); n != 0 {
		t.Errorf("expected no poll_error, got %d", n)
	}

	calls := f.source.Calls()
	if calls[0].cursor != nil || calls[0].limit != 50 || calls[0].order != domain.OrderAscending {
		t.Errorf("unexpected first query %+v", calls[0])
	}
}

func TestPollOnce_ExhaustionLeavesCursor(t *testing.T) {
	f := newFixture(func(ctx context.Context, call int) (*domain.EventPage, error) {
		return nil, errors.New("upstream unavailable")
	})
	ctx := context.Background()
	start := domain.NewCursor(processor.PropertyCreated, domain.EventID{TxDigest: "P0", EventSeq: "0"}, time.Now())
	_ = f.store.Cursors().Save(ctx, start)

	if _, err := f.poller.PollOnce(ctx); err == nil {
		t.Fatal("expected error after exhausting retries")
	}

	if n := len(f.source.Calls()); n != 5 {
		t.Errorf("expected 5 attempts, got %d", n)
	}
	if n := len(f.rec.OfKind(signal.KindPollRetry)); n != 4 {
		t.Errorf("expected 4 poll_retry signals, got %d", n)
	}
	if n := len(f.rec.OfKind(signal.KindPollError)); n != 1 {
		t.Errorf("expected 1 poll_error signal, got %d", n)
	}
	cursor, _ := f.store.Cursors().Get(ctx, processor.PropertyCreated)
	if cursor.TxDigest != "P0" {
		t.Errorf("expected cursor untouched, got %+v", cursor)
	}
	for _, call := range f.source.Calls() {
		if call.cursor == nil || call.cursor.TxDigest != "P0" {
			t.Errorf("expected every attempt from P0, got %+v", call.cursor)
		}
	}
}

func TestPollOnce_EndToEnd(t *testing.T) {
	f := newFixture(func(ctx context.Context, call int) (*domain.EventPage, error) {
		if call == 1 {
			return pageOf("P1", propertyEvent("0", "0xabc"), propertyEvent("1", "0xdef")), nil
		}
		return &domain.EventPage{}, nil
	})
	ctx := context.Background()

	if _, err := f.poller.PollOnce(ctx); err != nil {
		t.Fatalf("first poll failed: %v", err)
	}
	res, err := f.poller.PollOnce(ctx)
	if err != nil {
		t.Fatalf("second poll failed: %v", err)
	}
	if res.Total != 0 {
		t.Errorf("expected empty second page, got %+v", res)
	}

	for _, id := range []string{"0xabc", "0xdef"} {
		if ok, _ := f.store.Properties().Exists(ctx, id); !ok {
			t.Errorf("expected property %s", id)
		}
	}
	cursor, _ := f.store.Cursors().Get(ctx, processor.PropertyCreated)
	if cursor == nil || cursor.TxDigest != "P1" {
		t.Errorf("expected cursor P1, got %+v", cursor)
	}
	if n, _ := f.store.DeadLetters().CountUnresolved(ctx); n != 0 {
		t.Errorf("expected no dead letters, got %d", n)
	}
	if n := len(f.rec.OfKind(signal.KindBatchProcessed)); n != 1 {
		t.Errorf("expected 1 batch_processed signal, got %d", n)
	}

	calls := f.source.Calls()
	if calls[1].cursor == nil || calls[1].cursor.TxDigest != "P1" {
		t.Errorf("expected second poll to resume from P1, got %+v", calls[1].cursor)
	}
}

func TestPollOnce_SingleFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	f := newFixture(func(ctx context.Context, call int) (*domain.EventPage, error) {
		if call == 1 {
			close(entered)
			<-release
		}
		return pageOf("P1", propertyEvent("0", "0x1")), nil
	})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := f.poller.PollOnce(ctx)
		done <- err
	}()
	<-entered

	if _, err := f.poller.PollOnce(ctx); !errors.Is(err, ErrPollInFlight) {
		t.Fatalf("expected ErrPollInFlight, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first poll failed: %v", err)
	}
	if n := len(f.source.Calls()); n != 1 {
		t.Errorf("expected the skipped poll to never reach upstream, got %d calls", n)
	}

	// The guard is released once the cycle ends
	if _, err := f.poller.PollOnce(ctx); err != nil {
		t.Errorf("expected poll after release to run, got %v", err)
	}
}

func TestPollOnce_CommitSurvivesCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(func(_ context.Context, call int) (*domain.EventPage, error) {
		// Stop arrives after the page was fetched
		cancel()
		return pageOf("P1", propertyEvent("0", "0x1")), nil
	})

	if _, err := f.poller.PollOnce(ctx); err != nil {
		t.Fatalf("expected fetched page to commit, got %v", err)
	}
	if ok, _ := f.store.Properties().Exists(context.Background(), "0x1"); !ok {
		t.Error("expected in-flight page to be committed")
	}
}

func TestPollOnce_CancelDuringFetch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(func(ctx context.Context, call int) (*domain.EventPage, error) {
		cancel()
		return nil, errors.New("interrupted")
	})

	if _, err := f.poller.PollOnce(ctx); err == nil {
		t.Fatal("expected error")
	}
	if n := len(f.rec.OfKind(signal.KindPollError)); n != 0 {
		t.Errorf("stop must not be reported as a poll error, got %d", n)
	}
	if n := len(f.source.Calls()); n != 1 {
		t.Errorf("expected no retries after stop, got %d calls", n)
	}
}

func TestRun_PollsUntilCancelled(t *testing.T) {
	committed := make(chan struct{})
	var once sync.Once
	f := newFixture(func(ctx context.Context, call int) (*domain.EventPage, error) {
		if call == 1 {
			return pageOf("P1", propertyEvent("0", "0x1")), nil
		}
		once.Do(func() { close(committed) })
		return &domain.EventPage{}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.poller.Run(ctx) }()

	select {
	case <-committed:
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not run two cycles")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if ok, _ := f.store.Properties().Exists(context.Background(), "0x1"); !ok {
		t.Error("expected first page committed")
	}
}

func TestRun_CatchUpWhileMorePages(t *testing.T) {
	var (
		mu    sync.Mutex
		first time.Time
	)
	reached := make(chan time.Duration, 1)
	f := newFixture(func(ctx context.Context, call int) (*domain.EventPage, error) {
		mu.Lock()
		defer mu.Unlock()
		if call == 1 {
			first = time.Now()
		}
		if call <= 3 {
			page := pageOf(fmt.Sprintf("P%d", call), propertyEvent(fmt.Sprint(call), fmt.Sprintf("0x%d", call)))
			page.HasNextPage = true
			return page, nil
		}
		if call == 4 {
			reached <- time.Since(first)
		}
		return &domain.EventPage{}, nil
	})
	f.poller.cfg.Interval = 200 * time.Millisecond
	f.poller.cfg.CatchUp = throttle.Config{Enabled: true, MinInterval: time.Millisecond, MaxBurst: 10}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.poller.Run(ctx) }()

	select {
	case elapsed := <-reached:
		// Three base intervals would take 600ms
		if elapsed > 150*time.Millisecond {
			t.Errorf("expected catch-up cycles, backlog took %v", elapsed)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("poller never drained the backlog")
	}

	if n, _ := f.store.Properties().Count(context.Background()); n != 3 {
		t.Errorf("expected 3 properties, got %d", n)
	}
}

func TestPollOnce_CursorNeverMovesBackwards(t *testing.T) {
	malformed := domain.Event{ID: domain.EventID{TxDigest: "TXbad", EventSeq: "0"}, ParsedJSON: json.RawMessage(`{}`)}
	pages := []*domain.EventPage{
		pageOf("P1", propertyEvent("0", "0x1")),
		pageOf("P2", malformed),
		pageOf("P2", propertyEvent("1", "0x2"), malformed),
		{Data: []domain.Event{propertyEvent("2", "0x3")}},
		pageOf("P3", propertyEvent("3", "0x4")),
		{},
	}
	f := newFixture(func(ctx context.Context, call int) (*domain.EventPage, error) {
		return pages[call-1], nil
	})

	ordinal := map[string]int{"": 0, "P1": 1, "P2": 2, "P3": 3}
	position := func() string {
		c, err := f.store.Cursors().Get(context.Background(), processor.PropertyCreated)
		if err != nil {
			t.Fatalf("Get cursor failed: %v", err)
		}
		if c == nil {
			return ""
		}
		return c.TxDigest
	}

	expected := []string{"P1", "P1", "P2", "P2", "P3", "P3"}
	prev := ""
	for i, want := range expected {
		if _, err := f.poller.PollOnce(context.Background()); err != nil {
			t.Fatalf("poll %d failed: %v", i+1, err)
		}
		got := position()
		if ordinal[got] < ordinal[prev] {
			t.Fatalf("poll %d moved cursor back from %q to %q", i+1, prev, got)
		}
		if got != want {
			t.Errorf("poll %d: expected cursor %q, got %q", i+1, want, got)
		}

		// Each query resumes from the cursor stored by the previous poll
		call := f.source.Calls()[i]
		if prev == "" && call.cursor != nil {
			t.Errorf("poll %d: expected query from the start, got %+v", i+1, call.cursor)
		}
		if prev != "" && (call.cursor == nil || call.cursor.TxDigest != prev) {
			t.Errorf("poll %d: expected query from %q, got %+v", i+1, prev, call.cursor)
		}
		prev = got
	}

	if n, _ := f.store.Properties().Count(context.Background()); n != 4 {
		t.Errorf("expected 4 properties, got %d", n)
	}
}
