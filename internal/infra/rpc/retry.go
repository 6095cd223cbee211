package rpc

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vietddude/suindexer/internal/infra/rpc/provider"
)

// RetryConfig defines retry behavior.
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

// DefaultRetryConfig provides the upstream defaults: five attempts growing by 1.5x.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:   5,
	InitialDelay:  1 * time.Second,
	MaxDelay:      30 * time.Second,
	BackoffFactor: 1.5,
}

// ErrorAction determines how to handle an error.
type ErrorAction int

const (
	ActionRetry ErrorAction = iota
	ActionFatal
)

func (a ErrorAction) String() string {
	if a == ActionFatal {
		return "fatal"
	}
	return "retry"
}

// fatalCodes are JSON-RPC codes that signal a malformed request; retrying cannot help.
var fatalCodes = map[int]bool{
	-32700: true, // Parse error
	-32600: true, // Invalid Request
	-32601: true, // Method not found
	-32602: true, // Invalid params
}

// ClassifyError determines the action for a given error.
func ClassifyError(err error) ErrorAction {
	if err == nil {
		return ActionRetry
	}
	if errors.Is(err, context.Canceled) {
		return ActionFatal
	}

	var rpcErr *provider.RPCError
	if errors.As(err, &rpcErr) {
		if fatalCodes[rpcErr.Code] {
			return ActionFatal
		}
		return ActionRetry
	}

	var httpErr *provider.HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusBadRequest, http.StatusNotFound, http.StatusMethodNotAllowed:
			return ActionFatal
		}
		return ActionRetry
	}

	s := err.Error()
	for code := range fatalCodes {
		if strings.Contains(s, strconv.Itoa(code)) {
			return ActionFatal
		}
	}

	// Network, 5xx, rate limits, timeouts
	return ActionRetry
}

// RetryFunc observes a failed attempt that will be retried.
type RetryFunc func(attempt int, err error)

// Do runs fn until it succeeds, fails fatally, or exhausts cfg.MaxAttempts.
// onRetry, when set, is called for every failed attempt followed by another.
func Do[T any](
	ctx context.Context,
	cfg RetryConfig,
	onRetry RetryFunc,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	var (
		result  T
		attempt int
	)
	err := retry.Do(ctx, cfg.backoff(), func(ctx context.Context) error {
		attempt++
		v, err := fn(ctx)
		if err == nil {
			result = v
			return nil
		}
		if ClassifyError(err) == ActionFatal || attempt >= cfg.attempts() {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		return retry.RetryableError(err)
	})
	return result, err
}

func (c RetryConfig) attempts() int {
	if c.MaxAttempts < 1 {
		return 1
	}
	return c.MaxAttempts
}

// backoff grows InitialDelay by BackoffFactor per attempt, capped at MaxDelay.
func (c RetryConfig) backoff() retry.Backoff {
	factor := c.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	n := 0
	var b retry.Backoff = retry.BackoffFunc(func() (time.Duration, bool) {
		d := time.Duration(float64(c.InitialDelay) * math.Pow(factor, float64(n)))
		n++
		return d, false
	})
	if c.MaxDelay > 0 {
		b = retry.WithCappedDuration(c.MaxDelay, b)
	}
	return retry.WithMaxRetries(uint64(c.attempts()-1), b)
}
