// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retry wraps external-service calls with bounded
// exponential-backoff-with-jitter retry.
//
// Only classified-retryable failures are retried: an explicit rate-limit
// error type, an HTTP 429/503-equivalent status, or an error message matching
// known quota/rate-limit phrases. Everything else propagates immediately.
// The backoff sleep is the only blocking point and honors context
// cancellation.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
)

// Config bounds one retried call.
type Config struct {
	// MaxRetries is the number of retries after the first attempt. A call
	// with MaxRetries=3 runs the operation at most 4 times.
	MaxRetries int

	// InitialDelay is the wait before the first retry. Doubles each attempt.
	InitialDelay time.Duration

	// MaxDelay caps the doubled delay.
	MaxDelay time.Duration
}

// DefaultConfig matches the reasoning-service quota behavior we see in
// production: three retries starting at one second, capped at eight.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, InitialDelay: time.Second, MaxDelay: 8 * time.Second}
}

// jitterFactor is the maximum random fraction added to each backoff wait.
const jitterFactor = 0.10

// RateLimitError is the explicit rate-limit signal from a service client.
// Always classified retryable.
type RateLimitError struct {
	// Service identifies the rate-limited collaborator.
	Service string

	// RetryAfter is the provider-suggested wait, zero when absent.
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("retry: %s rate limited, retry after %s", e.Service, e.RetryAfter)
	}
	return fmt.Sprintf("retry: %s rate limited", e.Service)
}

// StatusError carries an HTTP-equivalent status code from a service client.
type StatusError struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("retry: %s returned status %d: %s", e.Service, e.StatusCode, e.Message)
}

// ExhaustedError is the terminal error after MaxRetries retryable failures.
// Cause is the last underlying failure.
type ExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: exhausted after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *ExhaustedError) Unwrap() error { return e.Cause }

// rateLimitPhrases are message fragments that identify an untyped
// quota/rate-limit failure from a provider.
var rateLimitPhrases = []string{
	"rate limit",
	"rate_limit",
	"too many requests",
	"quota exceeded",
	"overloaded",
	"capacity",
}

// Retryable classifies an error as worth retrying.
//
// Description:
//
//	Retryable failures are: *RateLimitError, a StatusError carrying 429 or
//	503, or an untyped error whose message matches a known rate-limit/quota
//	phrase. Context cancellation is never retryable.
//
// Thread Safety: Safe for concurrent use.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var rle *RateLimitError
	if errors.As(err, &rle) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode == http.StatusServiceUnavailable
	}

	msg := strings.ToLower(err.Error())
	for _, phrase := range rateLimitPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// Do executes fn, retrying classified-retryable failures with exponential
// backoff and jitter.
//
// Description:
//
//	The delay doubles each attempt starting at cfg.InitialDelay, capped at
//	cfg.MaxDelay, with up to 10% random jitter added before each wait. A
//	provider-supplied RetryAfter overrides the computed delay when present.
//	Non-retryable failures propagate immediately; exhausting MaxRetries
//	returns *ExhaustedError wrapping the last cause. The wait is cancellable
//	through ctx.
//
// Thread Safety: Safe for concurrent use.
func Do[T any](ctx context.Context, cfg Config, logger *slog.Logger, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if logger == nil {
		logger = slog.Default()
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := withJitter(delay)
			if suggested := retryAfter(lastErr); suggested > 0 && suggested <= cfg.MaxDelay {
				wait = suggested
			}
			logger.Warn("retrying rate-limited call",
				slog.Int("attempt", attempt),
				slog.Int("max_retries", cfg.MaxRetries),
				slog.Duration("wait", wait),
				slog.String("cause", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(wait):
			}
			delay = min(delay*2, cfg.MaxDelay)
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !Retryable(err) {
			return zero, err
		}
		lastErr = err
	}

	return zero, &ExhaustedError{Attempts: cfg.MaxRetries + 1, Cause: lastErr}
}

// withJitter adds up to jitterFactor of random extra wait so synchronized
// callers do not stampede the provider on the same schedule.
func withJitter(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	jitter := time.Duration(rand.Float64() * jitterFactor * float64(base)) // #nosec G404 -- non-cryptographic jitter
	return base + jitter
}

// retryAfter extracts a provider-suggested wait from the last error.
func retryAfter(err error) time.Duration {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.RetryAfter
	}
	return 0
}
