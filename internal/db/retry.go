package db

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

// RetryPolicy controls how Connect retries an unreachable database.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy returns the policy used by `deinline serve`.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    5,
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// Connect opens the database with New, retrying transient failures (the
// server still starting, connection refused, timeouts) with exponential backoff.
func Connect(ctx context.Context, databaseURL string, policy RetryPolicy) (*DB, error) {
	return connect(ctx, policy, func(ctx context.Context) (*DB, error) {
		return New(ctx, databaseURL)
	})
}

func connect(ctx context.Context, policy RetryPolicy, open func(context.Context) (*DB, error)) (*DB, error) {
	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		d, err := open(ctx)
		if err == nil {
			return d, nil
		}
		lastErr = err
		if !isRetryable(err) || attempt >= policy.MaxRetries {
			break
		}
		if err := sleepWithBackoff(ctx, policy, attempt); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("connect database: %w", lastErr)
}

// sleepWithBackoff waits for the backoff duration, respecting context cancellation.
func sleepWithBackoff(ctx context.Context, policy RetryPolicy, attempt int) error {
	delay := calculateBackoff(policy, attempt)
	slog.Info("database: backing off", "attempt", attempt+1, "delay", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// calculateBackoff computes the delay for a given attempt using exponential backoff.
func calculateBackoff(policy RetryPolicy, attempt int) time.Duration {
	delay := float64(policy.InitialDelay) * math.Pow(policy.BackoffFactor, float64(attempt))
	if time.Duration(delay) > policy.MaxDelay {
		return policy.MaxDelay
	}
	return time.Duration(delay)
}

func isRetryable(err error) bool {
	lower := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"timeout", "connection reset", "connection refused", "eof",
		"the database system is starting up", "too many clients",
		"no such host",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
