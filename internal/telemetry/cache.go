package telemetry

import (
	"sync"
	"time"
)

// Cache holds the most recent successfully captured reading per
// kind/component pair. Once a pair has been answered at least once the cache
// keeps serving a value for it, degraded to stale after the configured
// threshold, until explicitly invalidated. Writes come only from the
// aggregator goroutine; reads copy out, so no caller ever observes a
// mutation in progress.
type Cache struct {
	mu       sync.RWMutex
	readings map[Key]Reading
}

func NewCache() *Cache {
	return &Cache{
		readings: make(map[Key]Reading),
	}
}

// Update stores fresh readings, replacing any previous entry per pair.
func (c *Cache) Update(readings map[Key]Reading) {
	if len(readings) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, r := range readings {
		c.readings[key] = r
	}
}

// Degrade marks every entry older than staleAfter as stale. Entries already
// stale keep their original capture timestamp.
func (c *Cache) Degrade(now time.Time, staleAfter time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, r := range c.readings {
		if r.Confidence != ConfidenceStale && now.Sub(r.CapturedAt) > staleAfter {
			r.Confidence = ConfidenceStale
			c.readings[key] = r
		}
	}
}

// Invalidate removes the entry for a pair. Only explicit invalidation ever
// drops a pair; backend failure alone never does.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.readings, key)
}

// Snapshot returns an immutable copy of the cache contents.
func (c *Cache) Snapshot(now time.Time) Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[Key]Reading, len(c.readings))
	for key, r := range c.readings {
		out[key] = r
	}

	return Snapshot{TakenAt: now, Readings: out}
}

// Len returns the number of cached pairs.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.readings)
}
