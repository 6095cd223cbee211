package throttle

import "time"

// Controller picks the delay before the next poll cycle of one event type.
// It is not safe for concurrent use; each poll loop owns its own.
type Controller struct {
	base   time.Duration
	config Config

	burst int
}

// NewController creates a controller around the base poll interval.
func NewController(base time.Duration, config Config) *Controller {
	if config.MinInterval <= 0 || config.MinInterval > base {
		config.MinInterval = base
	}
	return &Controller{base: base, config: config}
}

// Next returns the delay after a cycle. hasMore reports that the cycle
// advanced the cursor and upstream has further pages.
//
//   - catch-up disabled or nothing more: base interval
//   - more pages: min interval, up to MaxBurst times in a row
//   - burst exhausted: one base interval, then bursting resumes
func (c *Controller) Next(hasMore bool) time.Duration {
	if !c.config.Enabled || !hasMore {
		c.burst = 0
		return c.base
	}
	if c.config.MaxBurst > 0 && c.burst >= c.config.MaxBurst {
		c.burst = 0
		return c.base
	}
	c.burst++
	return c.config.MinInterval
}

// Burst returns the number of consecutive fast cycles so far.
func (c *Controller) Burst() int {
	return c.burst
}
