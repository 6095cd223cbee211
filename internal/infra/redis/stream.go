package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/suindexer/internal/indexing/signal"
)

// publisher is the subset of Client the sink needs.
type publisher interface {
	Publish(ctx context.Context, values map[string]any) (string, error)
}

// StreamSink publishes every signal as a flat entry on a Redis stream. Emit
// blocks for up to one round trip; wrap it in a signal.Dispatcher.
type StreamSink struct {
	pub     publisher
	timeout time.Duration
	logger  *slog.Logger
}

// NewStreamSink creates a sink publishing through client.
func NewStreamSink(client *Client, logger *slog.Logger) *StreamSink {
	return &StreamSink{
		pub:     client,
		timeout: 2 * time.Second,
		logger:  logger.With("component", "redis"),
	}
}

func (s *StreamSink) Emit(sig signal.Signal) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.pub.Publish(ctx, StreamValues(sig)); err != nil {
		s.logger.Warn("Failed to publish signal", "kind", sig.Kind, "error", err)
	}
}

// StreamValues flattens a signal into string fields.
func StreamValues(sig signal.Signal) map[string]any {
	attrs := sig.Attrs()
	values := make(map[string]any, len(attrs)/2+1)
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		switch v := attrs[i+1].(type) {
		case time.Time:
			values[key] = v.UTC().Format(time.RFC3339Nano)
		default:
			values[key] = fmt.Sprint(v)
		}
	}
	values["at"] = sig.At.UTC().Format(time.RFC3339Nano)
	return values
}
