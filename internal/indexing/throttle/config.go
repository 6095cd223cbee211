package throttle

import "time"

// Config holds catch-up settings for the poll loop.
type Config struct {
	// Enabled turns on catch-up polling. When off every cycle waits the base
	// interval.
	Enabled bool `yaml:"enabled"`

	// MinInterval is the delay used while upstream reports more pages
	MinInterval time.Duration `yaml:"min_interval"`

	// MaxBurst caps consecutive fast cycles before one base interval is
	// taken, so a long backlog cannot monopolise the RPC quota
	MaxBurst int `yaml:"max_burst"`
}

// DefaultConfig returns catch-up disabled with sensible bounds for when it
// is turned on.
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		MinInterval: 500 * time.Millisecond,
		MaxBurst:    20,
	}
}
