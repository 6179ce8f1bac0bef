package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sysdeck/sysdeck/internal/errors"
	"github.com/sysdeck/sysdeck/internal/logger"
)

const defaultShutdownGrace = 2 * time.Second

type AggregatorConfig struct {
	// Interval between poll cycles.
	Interval time.Duration
	// ProbeTimeout bounds a single probe call.
	ProbeTimeout time.Duration
	// StaleMultiplier times Interval gives the staleness threshold.
	StaleMultiplier int
	// FailureThreshold is the consecutive-failure count after which a
	// backend is marked unavailable.
	FailureThreshold int
	// ShutdownGrace bounds how long Close waits for a probe to release
	// its handles.
	ShutdownGrace time.Duration
}

// Aggregator owns the per-kind fallback chains, runs the poll loop and
// publishes immutable snapshots. It is the single writer of the reading
// cache and the health tracker.
type Aggregator struct {
	cfg    AggregatorConfig
	cache  *Cache
	health *HealthTracker
	chains map[MetricKind][]Probe
	probes map[string]Probe

	mu           sync.Mutex
	snapshotSubs []func(Snapshot)
	healthSubs   []func(map[string]BackendHealth)
}

// NewAggregator builds an aggregator over the given fallback chains. Chain
// order is priority order. A probe listed for a kind outside its declared
// set is a configuration error.
func NewAggregator(cfg AggregatorConfig, cache *Cache, chains map[MetricKind][]Probe) (*Aggregator, error) {
	errFactory := errors.New()

	if cfg.Interval <= 0 {
		return nil, errFactory.New(errors.ErrInvalidInterval)
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 500 * time.Millisecond
	}
	if cfg.StaleMultiplier < 1 {
		cfg.StaleMultiplier = 3
	}
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 3
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = defaultShutdownGrace
	}

	probes := make(map[string]Probe)
	for kind, chain := range chains {
		if len(chain) == 0 {
			return nil, errFactory.WithData(ErrInvalidChain, string(kind))
		}
		for _, p := range chain {
			if !declaresKind(p, kind) {
				return nil, errFactory.WithData(ErrInvalidChain,
					p.ID()+" does not answer "+string(kind))
			}
			probes[p.ID()] = p
		}
	}

	health := NewHealthTracker(cfg.FailureThreshold)
	for id := range probes {
		health.Register(id)
	}

	return &Aggregator{
		cfg:    cfg,
		cache:  cache,
		health: health,
		chains: chains,
		probes: probes,
	}, nil
}

func declaresKind(p Probe, kind MetricKind) bool {
	for _, k := range p.Kinds() {
		if k == kind {
			return true
		}
	}

	return false
}

// Subscribe registers a snapshot callback. Callbacks run on the aggregator
// goroutine, in registration order, once per poll cycle.
func (a *Aggregator) Subscribe(fn func(Snapshot)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.snapshotSubs = append(a.snapshotSubs, fn)
}

// SubscribeHealth registers a callback invoked only when some backend's
// availability changes.
func (a *Aggregator) SubscribeHealth(fn func(map[string]BackendHealth)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.healthSubs = append(a.healthSubs, fn)
}

// Health returns a copy of the current backend health records.
func (a *Aggregator) Health() map[string]BackendHealth {
	return a.health.Snapshot()
}

// ProbeKinds returns the declared kind set per registered backend.
func (a *Aggregator) ProbeKinds() map[string][]MetricKind {
	out := make(map[string][]MetricKind, len(a.probes))
	for id, p := range a.probes {
		out[id] = p.Kinds()
	}

	return out
}

// Run executes the poll loop until ctx is cancelled. One cycle runs
// immediately so subscribers see data before the first tick.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	a.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.cycle(ctx)
		}
	}
}

// cycle walks the fallback chains level by level: all highest-priority
// probes first, then the next rank, and so on. The first backend to answer
// a kind/component pair wins the pair for this cycle; lower-priority answers
// for already-satisfied pairs are discarded, while answers for pairs the
// richer backend missed are merged in.
func (a *Aggregator) cycle(ctx context.Context) {
	now := time.Now()
	accepted := make(map[Key]Reading)
	healthChanged := false

	for level := 0; ; level++ {
		wanted := a.kindsAtLevel(level)
		if len(wanted) == 0 {
			break
		}

		for _, id := range sortedIDs(wanted) {
			if ctx.Err() != nil {
				return
			}
			if !a.health.ShouldProbe(id, now) {
				continue
			}

			kinds := wanted[id]
			readings, err := a.callProbe(ctx, a.probes[id], kinds)
			if err != nil {
				logger.Debug().
					Str("backend", id).
					Str("error_code", string(errors.CodeOf(err))).
					Err(err).
					Msg("Probe failed")
				if a.health.Failure(id, now, IsUnavailable(err)) {
					healthChanged = true
				}

				continue
			}

			if a.health.Success(id, now) {
				healthChanged = true
			}

			for key, r := range readings {
				if _, taken := accepted[key]; !taken {
					accepted[key] = r
				}
			}
		}
	}

	a.cache.Update(accepted)
	a.cache.Degrade(now, time.Duration(a.cfg.StaleMultiplier)*a.cfg.Interval)

	snapshot := a.cache.Snapshot(now)

	a.mu.Lock()
	snapshotSubs := a.snapshotSubs
	healthSubs := a.healthSubs
	a.mu.Unlock()

	for _, fn := range snapshotSubs {
		fn(snapshot)
	}

	if healthChanged {
		health := a.health.Snapshot()
		for _, fn := range healthSubs {
			fn(health)
		}
	}
}

// kindsAtLevel maps probe id to the kinds it should answer at the given
// chain rank.
func (a *Aggregator) kindsAtLevel(level int) map[string][]MetricKind {
	out := make(map[string][]MetricKind)
	for kind, chain := range a.chains {
		if level < len(chain) {
			id := chain[level].ID()
			out[id] = append(out[id], kind)
		}
	}

	return out
}

func sortedIDs(m map[string][]MetricKind) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

// callProbe bounds a probe call by the configured timeout. A probe that
// ignores its context cannot block the loop past the timeout; its result is
// discarded when it eventually returns.
func (a *Aggregator) callProbe(ctx context.Context, p Probe, kinds []MetricKind) (map[Key]Reading, error) {
	cctx, cancel := context.WithTimeout(ctx, a.cfg.ProbeTimeout)
	defer cancel()

	type result struct {
		readings map[Key]Reading
		err      error
	}
	ch := make(chan result, 1)

	go func() {
		readings, err := p.Probe(cctx, kinds)
		ch <- result{readings: readings, err: err}
	}()

	select {
	case res := <-ch:
		return res.readings, res.err
	case <-cctx.Done():
		return nil, errors.New().Wrap(ErrBackendTimeout, cctx.Err())
	}
}

// Close releases probe handles. Each probe gets the shutdown grace period;
// one that does not release in time is logged and abandoned rather than
// blocking process exit.
func (a *Aggregator) Close() {
	for _, id := range sortedProbeIDs(a.probes) {
		p := a.probes[id]
		done := make(chan error, 1)
		go func() {
			done <- p.Close()
		}()

		select {
		case err := <-done:
			if err != nil {
				logger.Warn().Str("backend", id).Err(err).Msg("Probe close failed")
			}
		case <-time.After(a.cfg.ShutdownGrace):
			logger.Warn().
				Str("backend", id).
				Str("error_code", string(ErrShutdownTimeout)).
				Msg("Probe did not release handles in time")
		}
	}
}

func sortedProbeIDs(m map[string]Probe) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}
