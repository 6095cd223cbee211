package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/suindexer/internal/core/cursor"
	"github.com/vietddude/suindexer/internal/core/domain"
	"github.com/vietddude/suindexer/internal/indexing/committer"
	"github.com/vietddude/suindexer/internal/indexing/health"
	"github.com/vietddude/suindexer/internal/indexing/poller"
	"github.com/vietddude/suindexer/internal/indexing/processor"
	"github.com/vietddude/suindexer/internal/indexing/recovery"
	"github.com/vietddude/suindexer/internal/indexing/signal"
	"github.com/vietddude/suindexer/internal/infra/chain"
	"github.com/vietddude/suindexer/internal/infra/rpc"
	"github.com/vietddude/suindexer/internal/infra/storage"
)

// ErrIndexerRunning is returned by operations that require a stopped indexer.
var ErrIndexerRunning = errors.New("indexer is running")

// ErrIndexerDraining is returned when a previous run is stopped but still
// finishing a commit.
var ErrIndexerDraining = errors.New("indexer is draining in-flight commits")

// Config holds indexer configuration
type Config struct {
	Poller   poller.Config
	Health   health.Config
	Recovery recovery.Config
}

// DefaultConfig returns the stock intervals and limits.
func DefaultConfig() Config {
	return Config{
		Poller: poller.Config{
			Interval:  30 * time.Second,
			BatchSize: 50,
			Retry:     rpc.DefaultRetryConfig,
		},
		Health:   health.DefaultConfig,
		Recovery: recovery.DefaultConfig,
	}
}

// TypeStatus is the progress of one event type.
type TypeStatus struct {
	EventType   domain.EventType  `json:"event_type"`
	Registered  bool              `json:"registered"`
	Cursor      *domain.EventID   `json:"cursor,omitempty"`
	LastUpdated *time.Time        `json:"last_updated,omitempty"`
	Throughput  cursor.Throughput `json:"throughput"`
}

// Status is the indexer state reported to operators.
type Status struct {
	Running               bool               `json:"running"`
	Processors            []domain.EventType `json:"processors"`
	Cursors               []TypeStatus       `json:"cursors"`
	UnresolvedDeadLetters int                `json:"unresolved_dead_letters"`
}

// Indexer owns the processor registry and runs one poller per registered
// type plus the health monitor. It is either stopped or running.
type Indexer struct {
	cfg        Config
	store      storage.Store
	source     chain.EventSource
	registry   *processor.Registry
	committer  *committer.Committer
	monitor    *health.Monitor
	throughput *cursor.Tracker
	sink       signal.Sink
	logger     *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	pollers map[domain.EventType]*poller.Poller
}

// New creates a stopped indexer. Every signal goes to sink.
func New(
	cfg Config,
	store storage.Store,
	source chain.EventSource,
	sink signal.Sink,
	logger *slog.Logger,
) *Indexer {
	def := DefaultConfig()
	if cfg.Poller.Interval <= 0 {
		cfg.Poller.Interval = def.Poller.Interval
	}
	if cfg.Poller.BatchSize <= 0 {
		cfg.Poller.BatchSize = def.Poller.BatchSize
	}
	if cfg.Poller.Retry.MaxAttempts <= 0 {
		cfg.Poller.Retry = def.Poller.Retry
	}
	if cfg.Health.Interval <= 0 {
		cfg.Health.Interval = def.Health.Interval
	}
	if cfg.Recovery.MaxRetries <= 0 {
		cfg.Recovery.MaxRetries = def.Recovery.MaxRetries
	}
	if cfg.Recovery.BatchSize <= 0 {
		cfg.Recovery.BatchSize = def.Recovery.BatchSize
	}
	cfg.Health.MaxRetries = cfg.Recovery.MaxRetries

	if sink == nil {
		sink = signal.Nop
	}

	ix := &Indexer{
		cfg:        cfg,
		store:      store,
		source:     source,
		registry:   processor.NewRegistry(),
		throughput: cursor.NewTracker(cursor.DefaultWindow),
		logger:     logger.With("component", "indexer"),
		pollers:    make(map[domain.EventType]*poller.Poller),
	}
	ix.sink = signal.Multi(signal.SinkFunc(ix.observe), sink)
	ix.committer = committer.New(store, ix.sink, logger)

	retrier := recovery.NewHandler(store, ix.registry, cfg.Recovery, ix.sink, logger)
	ix.monitor = health.NewMonitor(cfg.Health, ix.registry, source, store, retrier, ix.sink, logger)
	return ix
}

// observe feeds committed batches into the throughput tracker.
func (i *Indexer) observe(s signal.Signal) {
	if s.Kind == signal.KindBatchProcessed && s.Counts != nil {
		i.throughput.RecordBatch(s.EventType, s.Counts.Total, s.Counts.Success, s.At)
	}
}

// Monitor returns the health monitor, for the HTTP surface.
func (i *Indexer) Monitor() *health.Monitor {
	return i.monitor
}

// RegisterProcessor binds p to its event type, replacing any earlier
// binding. It fails with ErrIndexerRunning while running.
func (i *Indexer) RegisterProcessor(p *processor.Processor) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.running {
		return ErrIndexerRunning
	}
	if err := i.registry.Register(p); err != nil {
		return err
	}

	pl, ok := i.pollers[p.EventType]
	if !ok {
		pl = poller.New(i.cfg.Poller, p, i.source, i.store.Cursors(), i.committer, i.sink, i.logger)
		i.pollers[p.EventType] = pl
	} else {
		// Keep the instance so its single-flight guard survives re-registration
		pl.SetProcessor(p)
	}
	i.logger.Info("Registered processor", "event_type", p.EventType)
	return nil
}

// Running reports whether the indexer is running.
func (i *Indexer) Running() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.running
}

// Start launches the pollers and the health monitor. It is a no-op when
// already running. ctx bounds only the wait for a previous run to drain; the
// loops live until Stop.
func (i *Indexer) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.running {
		return nil
	}

	// A previous run may still be finishing an in-flight commit
	if i.done != nil {
		select {
		case <-i.done:
		case <-ctx.Done():
			return fmt.Errorf("previous run still draining: %w", ctx.Err())
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)
	for _, t := range i.registry.Types() {
		pl := i.pollers[t]
		g.Go(func() error {
			return pl.Run(gctx)
		})
	}
	g.Go(func() error {
		return i.monitor.Run(gctx)
	})

	done := make(chan struct{})
	go func() {
		if err := g.Wait(); err != nil {
			i.logger.Error("Indexer loop exited", "error", err)
		}
		close(done)
	}()

	i.running = true
	i.cancel = cancel
	i.done = done

	i.logger.Info("Indexer started", "processors", len(i.pollers))
	i.sink.Emit(signal.New(signal.KindStarted, ""))
	return nil
}

// Stop cancels every loop and waits, bounded by ctx, for in-flight commits
// to finish. It is a no-op when already stopped. A commit already under way
// is never interrupted.
func (i *Indexer) Stop(ctx context.Context) error {
	i.mu.Lock()
	if !i.running {
		i.mu.Unlock()
		return nil
	}
	i.running = false
	cancel, done := i.cancel, i.done
	i.cancel = nil
	i.mu.Unlock()

	cancel()
	i.sink.Emit(signal.New(signal.KindStopped, ""))

	select {
	case <-done:
		i.logger.Info("Indexer stopped")
		return nil
	case <-ctx.Done():
		i.logger.Warn("Indexer stop timed out, commits still draining")
		return ctx.Err()
	}
}

// Poll runs one poll cycle for eventType outside the timer loop. It honours
// the same single-flight guard as the loop.
func (i *Indexer) Poll(ctx context.Context, eventType domain.EventType) (*committer.Result, error) {
	i.mu.Lock()
	pl, ok := i.pollers[eventType]
	i.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", processor.ErrUnknownEventType, eventType)
	}
	return pl.PollOnce(ctx)
}

// Status reports lifecycle state, cursors and the dead-letter backlog.
func (i *Indexer) Status(ctx context.Context) (*Status, error) {
	cursors, err := i.store.Cursors().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cursors: %w", err)
	}
	unresolved, err := i.store.DeadLetters().CountUnresolved(ctx)
	if err != nil {
		return nil, fmt.Errorf("count dead letters: %w", err)
	}

	types := i.registry.Types()
	registered := make(map[domain.EventType]bool, len(types))
	for _, t := range types {
		registered[t] = true
	}

	st := &Status{
		Running:               i.Running(),
		Processors:            types,
		UnresolvedDeadLetters: unresolved,
	}
	seen := make(map[domain.EventType]bool)
	for _, c := range cursors {
		updated := c.LastUpdated
		st.Cursors = append(st.Cursors, TypeStatus{
			EventType:   c.EventType,
			Registered:  registered[c.EventType],
			Cursor:      c.Position(),
			LastUpdated: &updated,
			Throughput:  i.throughput.Throughput(c.EventType),
		})
		seen[c.EventType] = true
	}
	// Registered types that have not committed anything yet
	for _, t := range types {
		if !seen[t] {
			st.Cursors = append(st.Cursors, TypeStatus{EventType: t, Registered: true})
		}
	}
	return st, nil
}

// requireIdleLocked fails unless the indexer is stopped and its last run has
// fully drained. A commit outliving a timed-out Stop would otherwise land on
// top of a reset store.
func (i *Indexer) requireIdleLocked() error {
	if i.running {
		return ErrIndexerRunning
	}
	if i.done != nil {
		select {
		case <-i.done:
		default:
			return ErrIndexerDraining
		}
	}
	return nil
}

// Reset deletes every cursor, dead letter and projection row. The indexer
// must be stopped and drained.
func (i *Indexer) Reset(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.requireIdleLocked(); err != nil {
		return err
	}
	if err := i.store.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	i.throughput.Reset()
	i.logger.Warn("Indexer state reset")
	return nil
}

// ResetCursor deletes the cursor of eventType so it restarts from the
// beginning of the log. The indexer must be stopped and drained.
func (i *Indexer) ResetCursor(ctx context.Context, eventType domain.EventType) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.requireIdleLocked(); err != nil {
		return err
	}
	if err := i.store.Cursors().Delete(ctx, eventType); err != nil {
		return fmt.Errorf("delete cursor: %w", err)
	}
	i.logger.Warn("Cursor reset", "event_type", eventType)
	return nil
}
