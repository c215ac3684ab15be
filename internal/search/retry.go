package search

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"net"
	"strings"
	"time"

	"filmly/catalog/internal/domain"
)

// RetryConfig shapes the backoff between seed lookups. Search never retries.
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
	}
}

// pause returns the wait after the given failed attempt (1-based): InitialDelay grown
// by Multiplier per attempt, jittered by ±25%, never above MaxDelay.
func (c RetryConfig) pause(attempt int) time.Duration {
	base := float64(c.InitialDelay)
	for i := 1; i < attempt; i++ {
		base *= c.Multiplier
		if c.MaxDelay > 0 && base >= float64(c.MaxDelay) {
			break
		}
	}
	wait := time.Duration(base * (0.75 + rand.Float64()*0.5))
	if c.MaxDelay > 0 && wait > c.MaxDelay {
		wait = c.MaxDelay
	}
	return wait
}

// RetryWithBackoff calls fn until it succeeds, fails with a final error or runs out
// of attempts. fn receives the 1-based attempt number.
func RetryWithBackoff(ctx context.Context, cfg RetryConfig, fn func(attempt int) error) error {
	attempts := max(cfg.MaxAttempts, 1)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil || !retryable(err) || attempt == attempts {
			return err
		}
		timer := time.NewTimer(cfg.pause(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// retryable separates outages from answers. A miss, bad input, caller cancellation or
// a rejected api key will not change on the next attempt.
func retryable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, context.Canceled):
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "api key") {
		return false
	}

	var netErr net.Error
	switch {
	case errors.Is(err, domain.ErrProviderUnavailable),
		errors.Is(err, domain.ErrIndexUnavailable),
		errors.Is(err, domain.ErrCacheUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.As(err, &netErr):
		return true
	}
	for _, hint := range []string{"timeout", "connection reset", "connection refused"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
