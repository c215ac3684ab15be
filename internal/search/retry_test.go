package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"filmly/catalog/internal/domain"
)

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetryWithBackoffAttempts(t *testing.T) {
	outage := fmt.Errorf("%w: omdb HTTP 503", domain.ErrProviderUnavailable)
	tests := []struct {
		name      string
		attempts  int
		failFirst int
		wantCalls []int
		wantErr   error
	}{
		{name: "first try", attempts: 3, failFirst: 0, wantCalls: []int{1}},
		{name: "third try", attempts: 3, failFirst: 2, wantCalls: []int{1, 2, 3}},
		{name: "exhausted", attempts: 3, failFirst: 10, wantCalls: []int{1, 2, 3}, wantErr: outage},
		{name: "zero attempts still calls once", attempts: 0, failFirst: 10, wantCalls: []int{1}, wantErr: outage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen []int
			err := RetryWithBackoff(context.Background(), fastRetryConfig(tt.attempts), func(attempt int) error {
				seen = append(seen, attempt)
				if attempt <= tt.failFirst {
					return outage
				}
				return nil
			})
			if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if fmt.Sprint(seen) != fmt.Sprint(tt.wantCalls) {
				t.Fatalf("expected attempts %v, got %v", tt.wantCalls, seen)
			}
		})
	}
}

func TestRetryWithBackoffStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Second, MaxDelay: time.Second, Multiplier: 2}

	calls := 0
	started := time.Now()
	err := RetryWithBackoff(ctx, cfg, func(int) error {
		calls++
		cancel()
		return errors.New("connection reset by peer")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 || time.Since(started) > 500*time.Millisecond {
		t.Fatalf("expected a prompt stop after one call, got %d calls in %v", calls, time.Since(started))
	}
}

func TestRetryPauseGrowsAndCaps(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 6, InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2}
	for i := 0; i < 50; i++ {
		if first := cfg.pause(1); first < 75*time.Millisecond || first > 125*time.Millisecond {
			t.Fatalf("first pause %v outside jitter band", first)
		}
		if second := cfg.pause(2); second < 150*time.Millisecond || second > 250*time.Millisecond {
			t.Fatalf("second pause %v outside jitter band", second)
		}
		if late := cfg.pause(6); late > cfg.MaxDelay {
			t.Fatalf("pause %v exceeds cap %v", late, cfg.MaxDelay)
		}
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{fmt.Errorf("%w: Movie not found!", domain.ErrNotFound), false},
		{fmt.Errorf("%w: malformed id", domain.ErrInvalidArgument), false},
		{fmt.Errorf("%w: Invalid API key!", domain.ErrProviderUnavailable), false},
		{fmt.Errorf("lookup: %w", context.Canceled), false},
		{errors.New("parse error: invalid JSON"), false},
		{fmt.Errorf("%w: Request limit reached!", domain.ErrProviderUnavailable), true},
		{fmt.Errorf("%w: cluster red", domain.ErrIndexUnavailable), true},
		{fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), true},
		{context.DeadlineExceeded, true},
		{errors.New("dial tcp: connection refused"), true},
	}
	for _, tt := range tests {
		if got := retryable(tt.err); got != tt.want {
			t.Errorf("retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRetryWithBackoffReturnsFinalErrorsAtOnce(t *testing.T) {
	final := fmt.Errorf("%w: Movie not found!", domain.ErrNotFound)
	calls := 0
	err := RetryWithBackoff(context.Background(), fastRetryConfig(3), func(int) error {
		calls++
		return final
	})
	if !errors.Is(err, final) || calls != 1 {
		t.Fatalf("expected one call returning %v, got %d calls and %v", final, calls, err)
	}
}
