package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vietddude/suindexer/internal/core/domain"
	"github.com/vietddude/suindexer/internal/indexing/metrics"
	"github.com/vietddude/suindexer/internal/indexing/processor"
	"github.com/vietddude/suindexer/internal/indexing/signal"
	"github.com/vietddude/suindexer/internal/infra/storage"
	"github.com/vietddude/suindexer/internal/infra/tracing"
)

// Handler drains the dead-letter queue.
type Handler struct {
	store      storage.Store
	processors ProcessorLookup
	cfg        Config
	sink       signal.Sink
	logger     *slog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// NewHandler creates a dead-letter handler.
func NewHandler(
	store storage.Store,
	processors ProcessorLookup,
	cfg Config,
	sink signal.Sink,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		store:      store,
		processors: processors,
		cfg:        cfg.withDefaults(),
		sink:       sink,
		logger:     logger.With("component", "recovery"),
		tracer:     tracing.Tracer(),
		now:        time.Now,
	}
}

// RetryBatch replays up to BatchSize unresolved entries, oldest first. Each
// entry runs in its own transaction; a failure only bumps that entry's retry
// count. The returned error reports store failures, never processing ones.
func (h *Handler) RetryBatch(ctx context.Context) (*Result, error) {
	entries, err := h.store.DeadLetters().ListRetryable(ctx, h.cfg.MaxRetries, h.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("list retryable dead letters: %w", err)
	}
	res := &Result{}
	if len(entries) == 0 {
		return res, nil
	}

	s := signal.New(signal.KindRetryingDeadLetters, "")
	s.Pending = len(entries)
	h.sink.Emit(s)

	var errs []error
	for _, entry := range entries {
		// Stop between entries, never inside one
		if ctx.Err() != nil {
			break
		}
		res.Attempted++
		if err := h.retry(context.WithoutCancel(ctx), entry, res); err != nil {
			errs = append(errs, err)
		}
	}

	h.logger.Debug("Dead letter pass finished",
		"attempted", res.Attempted,
		"resolved", res.Resolved,
		"failed", res.Failed,
		"exhausted", res.Exhausted,
	)
	return res, errors.Join(errs...)
}

func (h *Handler) retry(ctx context.Context, entry *domain.DeadLetter, res *Result) error {
	ctx, span := h.tracer.Start(ctx, "recovery.retry", trace.WithAttributes(
		attribute.String("event_type", string(entry.EventType)),
		attribute.String("dead_letter_id", entry.ID),
		attribute.Int("retry_count", entry.RetryCount),
	))
	defer span.End()

	replayErr := h.replay(ctx, entry)
	if replayErr == nil {
		res.Resolved++
		s := signal.New(signal.KindDeadLetterResolved, entry.EventType)
		s.DeadLetterID = entry.ID
		s.RetryCount = entry.RetryCount
		h.sink.Emit(s)
		return nil
	}
	span.RecordError(replayErr)

	count, err := h.store.DeadLetters().IncrementRetry(ctx, entry.ID, replayErr.Error(), h.now())
	if err != nil {
		return fmt.Errorf("record retry of %s: %w", entry.ID, err)
	}
	res.Failed++

	s := signal.New(signal.KindDeadLetterRetryFailed, entry.EventType)
	s.DeadLetterID = entry.ID
	s.RetryCount = count
	s.Err = replayErr
	h.sink.Emit(s)

	if count >= h.cfg.MaxRetries {
		res.Exhausted++
		s := signal.New(signal.KindDeadLetterExhausted, entry.EventType)
		s.DeadLetterID = entry.ID
		s.RetryCount = count
		s.Err = replayErr
		h.sink.Emit(s)
	}
	return nil
}

// replay applies the stored event and resolves the entry in one transaction.
func (h *Handler) replay(ctx context.Context, entry *domain.DeadLetter) error {
	p, err := h.processors.Get(entry.EventType)
	if err != nil {
		return err
	}
	ev, err := entry.Event()
	if err != nil {
		return fmt.Errorf("%w: stored payload: %v", processor.ErrMalformedEvent, err)
	}

	tx, err := h.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := p.Run(ctx, ev, tx); err != nil {
		return err
	}
	if err := tx.DeadLetters().MarkResolved(ctx, entry.ID, h.now()); err != nil {
		return fmt.Errorf("resolve dead letter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	metrics.EventsProcessed.WithLabelValues(string(entry.EventType), "recovered").Inc()
	return nil
}
