package services

import (
	"context"
	"sync/atomic"
)

// ConcurrencyLimiter bounds how many extractions run simultaneously.
// It is a channel-based counting semaphore.
type ConcurrencyLimiter struct {
	slots       chan struct{}
	max         int
	activeCount atomic.Int64
}

// NewConcurrencyLimiter creates a limiter admitting max concurrent holders.
func NewConcurrencyLimiter(max int) *ConcurrencyLimiter {
	if max <= 0 {
		max = 4
	}
	return &ConcurrencyLimiter{
		slots: make(chan struct{}, max),
		max:   max,
	}
}

// Acquire blocks until a slot is available, or returns an error if the
// context is cancelled.
func (c *ConcurrencyLimiter) Acquire(ctx context.Context) error {
	select {
	case c.slots <- struct{}{}:
		c.activeCount.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a slot taken by Acquire.
func (c *ConcurrencyLimiter) Release() {
	select {
	case <-c.slots:
		c.activeCount.Add(-1)
	default:
	}
}

// ConcurrencyStats reports current usage.
type ConcurrencyStats struct {
	Active int `json:"active"`
	Max    int `json:"max"`
}

// Stats returns the current concurrency statistics.
func (c *ConcurrencyLimiter) Stats() ConcurrencyStats {
	return ConcurrencyStats{
		Active: int(c.activeCount.Load()),
		Max:    c.max,
	}
}
