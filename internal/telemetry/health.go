package telemetry

import (
	"sync"
	"time"
)

const (
	initialBackoff = 5 * time.Second
	maxBackoff     = 5 * time.Minute
)

// BackendHealth is the aggregator's view of one probe.
type BackendHealth struct {
	Available           bool
	LastSuccess         time.Time
	ConsecutiveFailures int
}

type healthEntry struct {
	BackendHealth
	backoff   time.Duration
	nextRetry time.Time
}

// HealthTracker records probe outcomes and applies the retry policy: normal
// cadence until the failure threshold, then exponential backoff, capped.
// Mutated only by the aggregator loop; read via copy-out snapshots.
type HealthTracker struct {
	mu        sync.RWMutex
	threshold int
	entries   map[string]*healthEntry
}

func NewHealthTracker(threshold int) *HealthTracker {
	return &HealthTracker{
		threshold: threshold,
		entries:   make(map[string]*healthEntry),
	}
}

// Register adds a probe with healthy initial state.
func (t *HealthTracker) Register(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[id]; !ok {
		t.entries[id] = &healthEntry{
			BackendHealth: BackendHealth{Available: true},
		}
	}
}

// ShouldProbe reports whether the probe is due this cycle. A probe marked
// unavailable is only retried once its backoff window has elapsed.
func (t *HealthTracker) ShouldProbe(id string, now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, ok := t.entries[id]
	if !ok {
		return false
	}
	if entry.Available {
		return true
	}

	return !now.Before(entry.nextRetry)
}

// Success resets the failure count and marks the probe available.
// Returns true if availability changed.
func (t *HealthTracker) Success(id string, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[id]
	if !ok {
		return false
	}

	changed := !entry.Available
	entry.Available = true
	entry.LastSuccess = now
	entry.ConsecutiveFailures = 0
	entry.backoff = 0
	entry.nextRetry = time.Time{}

	return changed
}

// Failure increments the failure count. Crossing the threshold marks the
// probe unavailable and schedules the next retry with exponential backoff.
// An unavailable-class failure trips the threshold immediately. Returns true
// if availability changed.
func (t *HealthTracker) Failure(id string, now time.Time, unavailable bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[id]
	if !ok {
		return false
	}

	entry.ConsecutiveFailures++

	tripped := entry.ConsecutiveFailures >= t.threshold || unavailable
	if !tripped {
		return false
	}

	changed := entry.Available
	entry.Available = false

	if entry.backoff == 0 {
		entry.backoff = initialBackoff
	} else {
		entry.backoff *= 2
		if entry.backoff > maxBackoff {
			entry.backoff = maxBackoff
		}
	}
	entry.nextRetry = now.Add(entry.backoff)

	return changed
}

// Snapshot returns a copy of all backend health records.
func (t *HealthTracker) Snapshot() map[string]BackendHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]BackendHealth, len(t.entries))
	for id, entry := range t.entries {
		out[id] = entry.BackendHealth
	}

	return out
}
