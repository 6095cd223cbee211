package signal

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vietddude/suindexer/internal/indexing/metrics"
)

// LogSink writes every signal to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink logging through logger.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "signal")}
}

func (l *LogSink) Emit(s Signal) {
	l.logger.Log(context.Background(), level(s.Kind), message(s.Kind), s.Attrs()...)
}

func level(k Kind) slog.Level {
	switch k {
	case KindBatchFailed, KindPollError, KindMonitorError:
		return slog.LevelError
	case KindPollRetry, KindDeadLetterRetryFailed, KindDeadLetterExhausted:
		return slog.LevelWarn
	case KindHealthCheck:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

func message(k Kind) string {
	switch k {
	case KindStarted:
		return "Indexer started"
	case KindStopped:
		return "Indexer stopped"
	case KindBatchProcessed:
		return "Batch processed"
	case KindBatchFailed:
		return "Batch failed, rolled back"
	case KindPollRetry:
		return "Poll attempt failed, retrying"
	case KindPollError:
		return "Poll failed after retries"
	case KindHealthCheck:
		return "Health check"
	case KindRetryingDeadLetters:
		return "Retrying dead letters"
	case KindDeadLetterResolved:
		return "Dead letter resolved"
	case KindDeadLetterRetryFailed:
		return "Dead letter retry failed"
	case KindDeadLetterExhausted:
		return "Dead letter exhausted retries"
	case KindMonitorError:
		return "Health monitor error"
	default:
		return string(k)
	}
}

// MetricsSink maps signals onto Prometheus series.
type MetricsSink struct{}

func (MetricsSink) Emit(s Signal) {
	metrics.SignalsTotal.WithLabelValues(string(s.Kind)).Inc()

	switch s.Kind {
	case KindStarted:
		metrics.Running.Set(1)
	case KindStopped:
		metrics.Running.Set(0)
	case KindBatchProcessed:
		metrics.BatchesCommitted.WithLabelValues(string(s.EventType)).Inc()
		if s.Counts != nil {
			metrics.BatchSize.WithLabelValues(string(s.EventType)).Observe(float64(s.Counts.Total))
		}
	case KindBatchFailed:
		metrics.BatchesFailed.WithLabelValues(string(s.EventType)).Inc()
	case KindDeadLetterResolved:
		metrics.DeadLetterRetries.WithLabelValues(string(s.EventType), "resolved").Inc()
	case KindDeadLetterRetryFailed:
		metrics.DeadLetterRetries.WithLabelValues(string(s.EventType), "failed").Inc()
	case KindHealthCheck:
		if s.Health != nil {
			caughtUp := 0.0
			if !s.Health.HasNewEvents {
				caughtUp = 1
			}
			metrics.CaughtUp.WithLabelValues(string(s.EventType)).Set(caughtUp)
			metrics.CursorLagSeconds.WithLabelValues(string(s.EventType)).Set(s.Health.Lag.Seconds())
		}
	}
}

// Recorder keeps every signal in memory.
type Recorder struct {
	mu      sync.Mutex
	signals []Signal
}

func (r *Recorder) Emit(s Signal) {
	r.mu.Lock()
	r.signals = append(r.signals, s)
	r.mu.Unlock()
}

// Signals returns a copy of the recorded signals.
func (r *Recorder) Signals() []Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Signal, len(r.signals))
	copy(out, r.signals)
	return out
}

// OfKind returns the recorded signals of kind k.
func (r *Recorder) OfKind(k Kind) []Signal {
	var out []Signal
	for _, s := range r.Signals() {
		if s.Kind == k {
			out = append(out, s)
		}
	}
	return out
}
