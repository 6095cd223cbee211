// Package recovery replays dead-lettered events through their processors.
package recovery

import (
	"context"

	"github.com/vietddude/suindexer/internal/core/domain"
	"github.com/vietddude/suindexer/internal/indexing/processor"
)

// Config controls a retry pass.
type Config struct {
	// MaxRetries is the retry count at which an entry is given up on
	MaxRetries int `yaml:"max_dead_letter_retries"`

	// BatchSize caps the entries replayed per pass
	BatchSize int `yaml:"dead_letter_batch"`
}

var DefaultConfig = Config{
	MaxRetries: 5,
	BatchSize:  10,
}

// ProcessorLookup resolves the processor for a stored entry.
type ProcessorLookup interface {
	Get(eventType domain.EventType) (*processor.Processor, error)
}

// Result summarises one retry pass.
type Result struct {
	Attempted int
	Resolved  int
	Failed    int
	Exhausted int
}

// Retrier replays dead letters. The monitor depends on this rather than on Handler.
type Retrier interface {
	RetryBatch(ctx context.Context) (*Result, error)
}

var _ Retrier = (*Handler)(nil)

var _ ProcessorLookup = (*processor.Registry)(nil)

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultConfig.MaxRetries
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultConfig.BatchSize
	}
	return c
}
