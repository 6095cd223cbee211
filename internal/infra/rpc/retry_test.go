package rpc

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vietddude/suindexer/internal/infra/rpc/provider"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err    error
		expect ErrorAction
	}{
		{&provider.RPCError{Code: -32602, Message: "Invalid params"}, ActionFatal},
		{&provider.RPCError{Code: -32601, Message: "Method not found"}, ActionFatal},
		{fmt.Errorf("query: %w", &provider.RPCError{Code: -32000, Message: "server busy"}), ActionRetry},
		{&provider.HTTPError{StatusCode: 429, RetryAfter: "1"}, ActionRetry},
		{&provider.HTTPError{StatusCode: 503}, ActionRetry},
		{&provider.HTTPError{StatusCode: 404}, ActionFatal},
		{errors.New("Parse error -32700"), ActionFatal},
		{errors.New("connection reset by peer"), ActionRetry},
		{errors.New("timeout"), ActionRetry},
		{context.Canceled, ActionFatal},
	}

	for _, tt := range tests {
		if got := ClassifyError(tt.err); got != tt.expect {
			t.Errorf("ClassifyError(%q) = %v, want %v", tt.err, got, tt.expect)
		}
	}
}

var fastRetry = RetryConfig{
	MaxAttempts:   5,
	InitialDelay:  time.Millisecond,
	MaxDelay:      5 * time.Millisecond,
	BackoffFactor: 1.5,
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	var retried []int

	got, err := Do(context.Background(), fastRetry, func(attempt int, err error) {
		retried = append(retried, attempt)
	}, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("connection refused")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" {
		t.Errorf("expected ok, got %q", got)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Errorf("expected retries for attempts [1 2], got %v", retried)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	retries := 0
	boom := errors.New("upstream down")

	_, err := Do(context.Background(), fastRetry, func(int, error) { retries++ },
		func(ctx context.Context) (int, error) {
			calls++
			return 0, boom
		})
	if !errors.Is(err, boom) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 5 {
		t.Errorf("expected 5 attempts, got %d", calls)
	}
	if retries != 4 {
		t.Errorf("expected 4 retry notifications, got %d", retries)
	}
}

func TestDo_FatalStopsImmediately(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastRetry, nil, func(ctx context.Context) (int, error) {
		calls++
		return 0, &provider.RPCError{Code: -32602, Message: "Invalid params"}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	slow := RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour, BackoffFactor: 1.5}

	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, slow, nil, func(ctx context.Context) (int, error) {
			return 0, errors.New("transient")
		})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
}

func TestBackoff_GrowsByFactor(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 4, InitialDelay: 100 * time.Millisecond, MaxDelay: 200 * time.Millisecond, BackoffFactor: 1.5}
	b := cfg.backoff()

	want := []time.Duration{100 * time.Millisecond, 150 * time.Millisecond, 200 * time.Millisecond}
	for i, w := range want {
		d, stop := b.Next()
		if stop {
			t.Fatalf("backoff stopped early at %d", i)
		}
		if d != w {
			t.Errorf("delay %d = %v, want %v", i, d, w)
		}
	}
	if _, stop := b.Next(); !stop {
		t.Error("expected backoff to stop after MaxAttempts-1 delays")
	}
}
