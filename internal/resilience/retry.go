// Package resilience provides retry, backoff and circuit breaking for the
// network edges of a call: the session REST API and the voice socket.
package resilience

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// IsRetryable classifies err by its status code. AppErrors expose one through GRPCStatus.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	s, ok := status.FromError(err)
	if !ok {
		return true
	}
	switch s.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Internal:
		return true
	default:
		return false
	}
}

// Delay returns the wait before the given 1-based attempt.
//
//	Linear:      base * attempt
//	Exponential: base * 2^(attempt-1), capped at MaxDelay
func Delay(cfg RetryConfig, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	var d time.Duration
	switch cfg.Strategy {
	case Linear:
		d = cfg.BaseDelay * time.Duration(attempt)
	default:
		d = cfg.BaseDelay << min(attempt-1, 16)
	}
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	if cfg.JitterFactor > 0 {
		d += time.Duration(float64(d) * cfg.JitterFactor * (rand.Float64() - 0.5))
	}
	return d
}

// Wait sleeps for d or until ctx is done.
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry calls fn up to MaxAttempts times, sleeping Delay between failures.
// It stops early on success, a non-retryable error, or ctx cancellation.
func Retry(ctx context.Context, cfg RetryConfig, fn func(attempt int) error) error {
	cfg = cfg.withDefaults()
	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err = fn(attempt); err == nil {
			return nil
		}
		if !cfg.IsRetryable(err) || attempt == cfg.MaxAttempts {
			return err
		}
		d := Delay(cfg, attempt)
		slog.Debug("retrying", "attempt", attempt, "max", cfg.MaxAttempts, "delay", d, "error", err)
		if werr := Wait(ctx, d); werr != nil {
			return werr
		}
	}
	return err
}
