package engine

import (
	"context"
	"time"

	"github.com/ashureev/lessonroute/internal/domain"
)

// EvictIdle drops cached entries unused for longer than ttl. Persisted data is
// untouched; the next request for an evicted key reloads it. Busy entries are skipped.
func (c *Coordinator) EvictIdle(ttl time.Duration) int {
	cutoff := c.now().Add(-ttl).UnixNano()
	evicted := 0
	c.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		if e.lastUsed.Load() > cutoff || !e.mu.TryLock() {
			return true
		}
		if e.lastUsed.Load() <= cutoff {
			e.evicted = true
			c.entries.CompareAndDelete(k.(domain.Key), e)
			evicted++
		}
		e.mu.Unlock()
		return true
	})
	if evicted > 0 {
		c.observer.CacheEvicted(evicted)
	}
	return evicted
}

// Cached returns the number of keys currently held in memory.
func (c *Coordinator) Cached() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// RunSweeper evicts idle entries every interval until ctx is done.
// A non-positive ttl disables the sweeper.
func (c *Coordinator) RunSweeper(ctx context.Context, interval, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = ttl / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	c.logger.Info("cache sweeper started", "interval", interval, "ttl", ttl)

	for {
		select {
		case <-ticker.C:
			if n := c.EvictIdle(ttl); n > 0 {
				c.logger.Info("cache sweeper evicted idle entries", "count", n)
			}
		case <-ctx.Done():
			c.logger.Info("cache sweeper shutting down", "reason", ctx.Err())
			return
		}
	}
}
