package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vietddude/suindexer/internal/core/domain"
	"github.com/vietddude/suindexer/internal/indexing/committer"
	"github.com/vietddude/suindexer/internal/indexing/metrics"
	"github.com/vietddude/suindexer/internal/indexing/processor"
	"github.com/vietddude/suindexer/internal/indexing/signal"
	"github.com/vietddude/suindexer/internal/indexing/throttle"
	"github.com/vietddude/suindexer/internal/infra/chain"
	"github.com/vietddude/suindexer/internal/infra/rpc"
	"github.com/vietddude/suindexer/internal/infra/storage"
	"github.com/vietddude/suindexer/internal/infra/tracing"
)

// ErrPollInFlight is returned when a poll is requested while one is running.
var ErrPollInFlight = errors.New("poll already in flight")

// Config holds poller settings.
type Config struct {
	Interval  time.Duration
	BatchSize int
	Retry     rpc.RetryConfig
	CatchUp   throttle.Config
}

// Poller drives one event type: read cursor, fetch the next page, hand it to
// the committer. At most one poll per type runs at a time; a trigger that
// arrives while one is in flight is skipped, not queued.
type Poller struct {
	cfg       Config
	proc      *processor.Processor
	source    chain.EventSource
	cursors   storage.CursorRepository
	committer *committer.Committer
	sink      signal.Sink
	logger    *slog.Logger
	tracer    trace.Tracer

	inFlight sync.Mutex
}

// New creates a poller for proc.
func New(
	cfg Config,
	proc *processor.Processor,
	source chain.EventSource,
	cursors storage.CursorRepository,
	c *committer.Committer,
	sink signal.Sink,
	logger *slog.Logger,
) *Poller {
	return &Poller{
		cfg:       cfg,
		proc:      proc,
		source:    source,
		cursors:   cursors,
		committer: c,
		sink:      sink,
		logger:    logger.With("component", "poller", "event_type", string(proc.EventType)),
		tracer:    tracing.Tracer(),
	}
}

// EventType returns the type this poller serves.
func (p *Poller) EventType() domain.EventType {
	return p.proc.EventType
}

// SetProcessor swaps the bound processor of the same type, waiting for an
// in-flight cycle to finish first.
func (p *Poller) SetProcessor(proc *processor.Processor) {
	p.inFlight.Lock()
	p.proc = proc
	p.inFlight.Unlock()
}

// Run polls every cfg.Interval until ctx is cancelled. The delay is measured
// from the end of one cycle to the start of the next, so cycles never overlap.
// With catch-up enabled the delay shrinks while upstream reports more pages.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("Poller started", "interval", p.cfg.Interval, "batch_size", p.cfg.BatchSize, "catch_up", p.cfg.CatchUp.Enabled)

	ctrl := throttle.NewController(p.cfg.Interval, p.cfg.CatchUp)
	timer := time.NewTimer(p.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Poller stopped")
			return nil
		case <-timer.C:
		}

		hasMore, err := p.poll(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			p.logger.Debug("Poll cycle failed", "error", err)
		}
		timer.Reset(ctrl.Next(hasMore))
	}
}

// PollOnce runs a single poll cycle. It returns ErrPollInFlight without doing
// anything when another cycle for this type is running.
//
// Cancelling ctx aborts the fetch phase only; once a page has been fetched it
// is committed regardless.
func (p *Poller) PollOnce(ctx context.Context) (*committer.Result, error) {
	if !p.inFlight.TryLock() {
		metrics.PollsSkipped.WithLabelValues(string(p.proc.EventType)).Inc()
		return nil, ErrPollInFlight
	}
	defer p.inFlight.Unlock()

	res, _, err := p.cycle(ctx)
	return res, err
}

// poll runs one guarded cycle and reports whether upstream has more pages
// past the newly advanced cursor.
func (p *Poller) poll(ctx context.Context) (bool, error) {
	if !p.inFlight.TryLock() {
		metrics.PollsSkipped.WithLabelValues(string(p.proc.EventType)).Inc()
		return false, ErrPollInFlight
	}
	defer p.inFlight.Unlock()

	_, hasMore, err := p.cycle(ctx)
	return hasMore, err
}

func (p *Poller) cycle(ctx context.Context) (*committer.Result, bool, error) {
	start := time.Now()
	defer func() {
		metrics.PollDuration.WithLabelValues(string(p.proc.EventType)).Observe(time.Since(start).Seconds())
	}()

	ctx, span := p.tracer.Start(ctx, "poller.PollOnce", trace.WithAttributes(
		attribute.String("event_type", string(p.proc.EventType)),
	))
	defer span.End()

	page, err := p.fetch(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if ctx.Err() == nil {
			s := signal.New(signal.KindPollError, p.proc.EventType)
			s.Err = err
			p.sink.Emit(s)
		}
		return nil, false, err
	}
	span.SetAttributes(attribute.Int("page_size", len(page.Data)))

	if len(page.Data) == 0 {
		return &committer.Result{}, false, nil
	}

	res, err := p.committer.Commit(context.WithoutCancel(ctx), p.proc, page)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	return res, res.CursorAdvanced && page.HasNextPage, nil
}

func (p *Poller) fetch(ctx context.Context) (*domain.EventPage, error) {
	cursor, err := p.cursors.Get(ctx, p.proc.EventType)
	if err != nil {
		return nil, fmt.Errorf("read cursor: %w", err)
	}
	position := cursor.Position()

	onRetry := func(attempt int, err error) {
		s := signal.New(signal.KindPollRetry, p.proc.EventType)
		s.Attempt = attempt
		s.Err = err
		p.sink.Emit(s)
	}

	page, err := rpc.Do(ctx, p.cfg.Retry, onRetry, func(ctx context.Context) (*domain.EventPage, error) {
		return p.source.QueryEvents(ctx, p.proc.Filter, position, p.cfg.BatchSize, domain.OrderAscending)
	})
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return page, nil
}
