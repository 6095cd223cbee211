package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/suindexer/internal/core/cache"
	"github.com/vietddude/suindexer/internal/core/domain"
	"github.com/vietddude/suindexer/internal/indexing/metrics"
	"github.com/vietddude/suindexer/internal/indexing/processor"
	"github.com/vietddude/suindexer/internal/indexing/recovery"
	"github.com/vietddude/suindexer/internal/indexing/signal"
	"github.com/vietddude/suindexer/internal/infra/chain"
	"github.com/vietddude/suindexer/internal/infra/storage"
)

// Config holds monitor settings.
type Config struct {
	Interval   time.Duration
	MaxRetries int

	// HeadTTL bounds how often on-demand checks hit upstream
	HeadTTL time.Duration

	// Lag since the last cursor advance, while upstream has newer events,
	// after which a type is degraded or critical
	DegradedLag time.Duration
	CriticalLag time.Duration
}

var DefaultConfig = Config{
	Interval:    5 * time.Minute,
	MaxRetries:  5,
	HeadTTL:     10 * time.Second,
	DegradedLag: 10 * time.Minute,
	CriticalLag: time.Hour,
}

// ProcessorLister returns the processors to check.
type ProcessorLister interface {
	List() []*processor.Processor
}

// Monitor periodically estimates upstream lag per event type and drains the
// dead-letter queue.
type Monitor struct {
	cfg         Config
	processors  ProcessorLister
	source      chain.EventSource
	cursors     storage.CursorRepository
	deadLetters storage.DeadLetterRepository
	retrier     recovery.Retrier
	sink        signal.Sink
	logger      *slog.Logger
	now         func() time.Time

	// Latest upstream event per type; a nil value means upstream has none
	heads *cache.TTL[domain.EventType, *domain.EventID]

	mu        sync.RWMutex
	last      *Report
	startedAt time.Time
}

// NewMonitor creates a new health monitor. retrier may be nil to disable
// dead-letter draining.
func NewMonitor(
	cfg Config,
	processors ProcessorLister,
	source chain.EventSource,
	store storage.Repositories,
	retrier recovery.Retrier,
	sink signal.Sink,
	logger *slog.Logger,
) *Monitor {
	if cfg.HeadTTL <= 0 {
		cfg.HeadTTL = DefaultConfig.HeadTTL
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig.MaxRetries
	}
	return &Monitor{
		cfg:         cfg,
		processors:  processors,
		source:      source,
		cursors:     store.Cursors(),
		deadLetters: store.DeadLetters(),
		retrier:     retrier,
		sink:        sink,
		logger:      logger.With("component", "health"),
		now:         time.Now,
		heads:       cache.NewTTL[domain.EventType, *domain.EventID](cfg.HeadTTL),
	}
}

// Run executes a cycle every cfg.Interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("Health monitor started", "interval", m.cfg.Interval)

	// Lag of types that never committed is measured from here
	m.mu.Lock()
	m.startedAt = m.now()
	m.mu.Unlock()

	timer := time.NewTimer(m.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Health monitor stopped")
			return nil
		case <-timer.C:
		}

		m.RunCycle(ctx)
		timer.Reset(m.cfg.Interval)
	}
}

// RunCycle probes every type against upstream, replays one batch of dead
// letters and records the resulting report. Failures are reported as
// monitor_error signals and never abort the cycle.
func (m *Monitor) RunCycle(ctx context.Context) *Report {
	types := m.probeAll(ctx, true)

	if m.retrier != nil {
		if _, err := m.retrier.RetryBatch(ctx); err != nil && ctx.Err() == nil {
			m.monitorError("", fmt.Errorf("retry dead letters: %w", err))
		}
	}

	report := m.assemble(ctx, types)
	if n := m.heads.Sweep(); n > 0 {
		m.logger.Debug("Swept expired upstream heads", "count", n)
	}
	return report
}

// Check returns the last report unless refresh is set or none exists yet.
// A refreshed check reuses upstream heads younger than cfg.HeadTTL.
func (m *Monitor) Check(ctx context.Context, refresh bool) *Report {
	if !refresh {
		if r := m.Last(); r != nil {
			return r
		}
	}
	return m.assemble(ctx, m.probeAll(ctx, false))
}

// Last returns the most recent report, nil before the first check.
func (m *Monitor) Last() *Report {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func (m *Monitor) assemble(ctx context.Context, types map[domain.EventType]TypeHealth) *Report {
	report := &Report{
		EventTypes: types,
		CheckedAt:  m.now(),
	}

	if n, err := m.deadLetters.CountUnresolved(ctx); err != nil {
		m.monitorError("", fmt.Errorf("count dead letters: %w", err))
	} else {
		report.UnresolvedDeadLetters = n
		metrics.DeadLettersUnresolved.Set(float64(n))
	}
	if n, err := m.deadLetters.CountExhausted(ctx, m.cfg.MaxRetries); err != nil {
		m.monitorError("", fmt.Errorf("count exhausted dead letters: %w", err))
	} else {
		report.ExhaustedDeadLetters = n
		metrics.DeadLettersExhausted.Set(float64(n))
	}

	report.aggregate()

	m.mu.Lock()
	m.last = report
	m.mu.Unlock()
	return report
}

func (m *Monitor) probeAll(ctx context.Context, force bool) map[domain.EventType]TypeHealth {
	out := make(map[domain.EventType]TypeHealth)
	for _, p := range m.processors.List() {
		if ctx.Err() != nil {
			break
		}
		out[p.EventType] = m.probe(ctx, p, force)
	}
	return out
}

func (m *Monitor) probe(ctx context.Context, p *processor.Processor, force bool) TypeHealth {
	th := TypeHealth{EventType: p.EventType, Status: StatusHealthy}

	cursor, err := m.cursors.Get(ctx, p.EventType)
	if err != nil {
		return m.failed(ctx, th, fmt.Errorf("read cursor: %w", err))
	}
	latest, err := m.latest(ctx, p, force)
	if err != nil {
		return m.failed(ctx, th, fmt.Errorf("query latest event: %w", err))
	}

	check := &signal.HealthCheck{LatestEvent: latest, Cursor: cursor.Position()}
	if cursor != nil {
		check.CursorUpdatedAt = cursor.LastUpdated
		check.Lag = m.now().Sub(cursor.LastUpdated)
		th.CursorUpdatedAt = &cursor.LastUpdated
		th.Lag = check.Lag.Round(time.Second).String()
	} else if started := m.started(); !started.IsZero() {
		check.Lag = m.now().Sub(started)
		th.Lag = check.Lag.Round(time.Second).String()
	}
	check.HasNewEvents = latest != nil && (cursor == nil || *latest != *cursor.Position())

	th.HasNewEvents = check.HasNewEvents
	th.LatestEvent = latest
	th.Cursor = check.Cursor
	th.Status = m.classify(check)

	s := signal.New(signal.KindHealthCheck, p.EventType)
	s.Health = check
	m.sink.Emit(s)
	return th
}

func (m *Monitor) started() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.startedAt
}

// classify grades a type by how long its cursor has stalled while upstream
// has events past it. A type that is caught up is healthy however old its
// cursor. A type without a cursor is measured from the monitor start.
func (m *Monitor) classify(check *signal.HealthCheck) SystemStatus {
	if !check.HasNewEvents {
		return StatusHealthy
	}
	switch {
	case m.cfg.CriticalLag > 0 && check.Lag >= m.cfg.CriticalLag:
		return StatusCritical
	case m.cfg.DegradedLag > 0 && check.Lag >= m.cfg.DegradedLag:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// latest returns the newest upstream event of p's type, served from the head
// cache unless force is set.
func (m *Monitor) latest(ctx context.Context, p *processor.Processor, force bool) (*domain.EventID, error) {
	if !force {
		if id, ok := m.heads.Get(p.EventType); ok {
			return id, nil
		}
	}

	page, err := m.source.QueryEvents(ctx, p.Filter, nil, 1, domain.OrderDescending)
	if err != nil {
		return nil, err
	}
	var id *domain.EventID
	if len(page.Data) > 0 {
		head := page.Data[0].ID
		id = &head
	}
	m.heads.Set(p.EventType, id)
	return id, nil
}

func (m *Monitor) failed(ctx context.Context, th TypeHealth, err error) TypeHealth {
	if ctx.Err() == nil {
		m.monitorError(th.EventType, err)
	}
	th.Status = StatusDegraded
	th.Error = err.Error()
	return th
}

func (m *Monitor) monitorError(eventType domain.EventType, err error) {
	s := signal.New(signal.KindMonitorError, eventType)
	s.Err = err
	m.sink.Emit(s)
}
