package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/suindexer/internal/indexing/metrics"
	"github.com/vietddude/suindexer/internal/infra/storage"
)

// Backlog is the dead-letter backlog seen by one audit pass.
type Backlog struct {
	Unresolved int
	Exhausted  int
	At         time.Time
}

// Auditor periodically counts the dead-letter backlog and publishes it as
// gauges. It only reads: entries are kept forever as an audit trail and are
// removed by nothing but an operator reset.
//
// It runs independently of the indexer, so the backlog stays visible while
// the indexer is stopped.
type Auditor struct {
	interval    time.Duration
	maxRetries  int
	deadLetters storage.DeadLetterRepository
	logger      *slog.Logger
	now         func() time.Time

	lastExhausted int
}

// NewAuditor creates a new Auditor worker. A non-positive interval disables it.
func NewAuditor(
	interval time.Duration,
	maxRetries int,
	deadLetters storage.DeadLetterRepository,
	logger *slog.Logger,
) *Auditor {
	return &Auditor{
		interval:    interval,
		maxRetries:  maxRetries,
		deadLetters: deadLetters,
		logger:      logger.With("component", "dead_letter_auditor"),
		now:         time.Now,
	}
}

// Start runs the audit loop until ctx is cancelled.
func (a *Auditor) Start(ctx context.Context) {
	if a.interval <= 0 {
		return
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	_, _ = a.Audit(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = a.Audit(ctx)
		}
	}
}

// Audit runs one pass. A growing exhausted count is logged as a warning
// since those entries need an operator.
func (a *Auditor) Audit(ctx context.Context) (Backlog, error) {
	unresolved, err := a.deadLetters.CountUnresolved(ctx)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Error("Failed to count dead letters", "error", err)
		}
		return Backlog{}, err
	}
	exhausted, err := a.deadLetters.CountExhausted(ctx, a.maxRetries)
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Error("Failed to count exhausted dead letters", "error", err)
		}
		return Backlog{}, err
	}

	metrics.DeadLettersUnresolved.Set(float64(unresolved))
	metrics.DeadLettersExhausted.Set(float64(exhausted))

	if exhausted > a.lastExhausted {
		a.logger.Warn("Dead letters exhausted their retries",
			"exhausted", exhausted,
			"new", exhausted-a.lastExhausted,
			"unresolved", unresolved,
		)
	}
	a.lastExhausted = exhausted

	return Backlog{Unresolved: unresolved, Exhausted: exhausted, At: a.now()}, nil
}
