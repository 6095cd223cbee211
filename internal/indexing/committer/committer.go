package committer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vietddude/suindexer/internal/core/domain"
	"github.com/vietddude/suindexer/internal/indexing/metrics"
	"github.com/vietddude/suindexer/internal/indexing/processor"
	"github.com/vietddude/suindexer/internal/indexing/signal"
	"github.com/vietddude/suindexer/internal/infra/storage"
	"github.com/vietddude/suindexer/internal/infra/tracing"
)

// Result summarises a committed page.
type Result struct {
	Success        int
	Failure        int
	Total          int
	CursorAdvanced bool
}

// Committer applies a page of events in one store transaction.
//
// Each event runs inside its own savepoint. A failing event is rolled back to
// that savepoint and recorded as a dead letter in the same transaction, so one
// bad event never aborts the page. The cursor moves to the page's next
// position when at least one event succeeded. Either the whole page
// (projections, dead letters, cursor) commits or none of it does.
type Committer struct {
	store  storage.Store
	sink   signal.Sink
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// New creates a committer writing to store and reporting to sink.
func New(store storage.Store, sink signal.Sink, logger *slog.Logger) *Committer {
	return &Committer{
		store:  store,
		sink:   sink,
		logger: logger.With("component", "committer"),
		tracer: tracing.Tracer(),
		now:    time.Now,
	}
}

// Commit applies page through p. On error nothing from the page is visible.
func (c *Committer) Commit(
	ctx context.Context,
	p *processor.Processor,
	page *domain.EventPage,
) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "committer.Commit", trace.WithAttributes(
		attribute.String("event_type", string(p.EventType)),
		attribute.Int("page_size", len(page.Data)),
	))
	defer span.End()

	res, err := c.apply(ctx, p, page)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		s := signal.New(signal.KindBatchFailed, p.EventType)
		s.Err = err
		s.Page = page
		c.sink.Emit(s)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("success", res.Success),
		attribute.Int("failure", res.Failure),
	)

	s := signal.New(signal.KindBatchProcessed, p.EventType)
	s.Counts = &signal.BatchCounts{Success: res.Success, Failure: res.Failure, Total: res.Total}
	c.sink.Emit(s)
	return res, nil
}

func (c *Committer) apply(
	ctx context.Context,
	p *processor.Processor,
	page *domain.EventPage,
) (*Result, error) {
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res := &Result{Total: len(page.Data)}
	for i := range page.Data {
		ev := &page.Data[i]
		ok, err := c.applyEvent(ctx, tx, p, ev, fmt.Sprintf("event_%d", i))
		if err != nil {
			return nil, err
		}
		if ok {
			res.Success++
			metrics.EventsProcessed.WithLabelValues(string(p.EventType), "success").Inc()
		} else {
			res.Failure++
			metrics.EventsProcessed.WithLabelValues(string(p.EventType), "dead_lettered").Inc()
		}
	}

	if res.Success > 0 && page.NextCursor != nil {
		cursor := domain.NewCursor(p.EventType, *page.NextCursor, c.now())
		if err := tx.Cursors().Save(ctx, cursor); err != nil {
			return nil, fmt.Errorf("advance cursor: %w", err)
		}
		res.CursorAdvanced = true
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit page: %w", err)
	}
	return res, nil
}

// applyEvent runs one event inside a savepoint. It reports false when the
// event was dead-lettered, and an error only when the store itself failed.
func (c *Committer) applyEvent(
	ctx context.Context,
	tx storage.Tx,
	p *processor.Processor,
	ev *domain.Event,
	savepoint string,
) (bool, error) {
	if err := tx.Savepoint(ctx, savepoint); err != nil {
		return false, err
	}

	procErr := p.Run(ctx, ev, tx)
	if procErr == nil {
		return true, tx.Release(ctx, savepoint)
	}

	if err := tx.RollbackTo(ctx, savepoint); err != nil {
		return false, err
	}

	payload, err := ev.Payload()
	if err != nil {
		return false, fmt.Errorf("encode dead letter payload: %w", err)
	}
	entry := domain.NewDeadLetter(p.EventType, payload, procErr, c.now())
	if err := tx.DeadLetters().Add(ctx, entry); err != nil {
		return false, fmt.Errorf("record dead letter: %w", err)
	}

	c.logger.Warn("Event processing failed, dead-lettered",
		"event_type", p.EventType,
		"event_id", ev.ID.String(),
		"dead_letter_id", entry.ID,
		"error", procErr,
	)
	return false, tx.Release(ctx, savepoint)
}
