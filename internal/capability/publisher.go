package capability

import (
	"sync"

	"github.com/sysdeck/sysdeck/internal/telemetry"
	"github.com/sysdeck/sysdeck/internal/tools"
)

// Publisher recomputes the capability set whenever either input snapshot
// changes and notifies subscribers only when the derived set differs from
// the previous one. Updates arrive from the discovery goroutine and the
// aggregator goroutine, so the cached inputs are mutex-guarded.
type Publisher struct {
	rules      []Rule
	probeKinds map[string][]telemetry.MetricKind

	mu          sync.Mutex
	descriptors map[string]tools.Descriptor
	health      map[string]telemetry.BackendHealth
	last        Set
	subscribers []func(Set)
}

func NewPublisher(rules []Rule, probeKinds map[string][]telemetry.MetricKind) *Publisher {
	return &Publisher{
		rules:       rules,
		probeKinds:  probeKinds,
		descriptors: make(map[string]tools.Descriptor),
		health:      make(map[string]telemetry.BackendHealth),
	}
}

// Subscribe registers a change callback. Callbacks run on whichever
// goroutine delivered the triggering update.
func (p *Publisher) Subscribe(fn func(Set)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.subscribers = append(p.subscribers, fn)
}

// Current returns the last derived set.
func (p *Publisher) Current() Set {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(Set, len(p.last))
	for name, enabled := range p.last {
		out[name] = enabled
	}

	return out
}

// UpdateTools feeds a new tool descriptor snapshot.
func (p *Publisher) UpdateTools(descriptors map[string]tools.Descriptor) {
	p.mu.Lock()
	p.descriptors = descriptors
	derived, subscribers := p.recomputeLocked()
	p.mu.Unlock()

	notify(derived, subscribers)
}

// UpdateHealth feeds a new backend health snapshot.
func (p *Publisher) UpdateHealth(health map[string]telemetry.BackendHealth) {
	p.mu.Lock()
	p.health = health
	derived, subscribers := p.recomputeLocked()
	p.mu.Unlock()

	notify(derived, subscribers)
}

// recomputeLocked derives the new set and returns it with the subscriber
// list when it changed, or nil when it did not.
func (p *Publisher) recomputeLocked() (Set, []func(Set)) {
	derived := Derive(p.rules, p.descriptors, p.health, p.probeKinds)
	if p.last != nil && derived.Equal(p.last) {
		return nil, nil
	}
	p.last = derived

	return derived, p.subscribers
}

func notify(derived Set, subscribers []func(Set)) {
	if derived == nil {
		return
	}
	for _, fn := range subscribers {
		fn(derived)
	}
}
