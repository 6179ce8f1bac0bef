package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProbe struct {
	id    string
	kinds []MetricKind
	fn    func(ctx context.Context, kinds []MetricKind) (map[Key]Reading, error)
	calls int
}

func (p *fakeProbe) ID() string          { return p.id }
func (p *fakeProbe) Kinds() []MetricKind { return p.kinds }
func (p *fakeProbe) Close() error        { return nil }

func (p *fakeProbe) Probe(ctx context.Context, kinds []MetricKind) (map[Key]Reading, error) {
	p.calls++
	return p.fn(ctx, kinds)
}

func answering(id string, kind MetricKind, component string, value float64) func(context.Context, []MetricKind) (map[Key]Reading, error) {
	return func(_ context.Context, kinds []MetricKind) (map[Key]Reading, error) {
		r := NewReading(kind, component, value, id, time.Now())
		return map[Key]Reading{r.Key(): r}, nil
	}
}

func newTestAggregator(t *testing.T, chains map[MetricKind][]Probe) (*Aggregator, *Cache) {
	t.Helper()

	cache := NewCache()
	agg, err := NewAggregator(AggregatorConfig{
		Interval:         time.Second,
		ProbeTimeout:     50 * time.Millisecond,
		StaleMultiplier:  3,
		FailureThreshold: 3,
	}, cache, chains)
	require.NoError(t, err)

	return agg, cache
}

func TestAggregatorFallbackOnTimeout(t *testing.T) {
	// Priority [a, b] for cpu-load; a blocks past the timeout, b answers.
	blocked := &fakeProbe{
		id:    "a",
		kinds: []MetricKind{KindCPULoad},
		fn: func(ctx context.Context, _ []MetricKind) (map[Key]Reading, error) {
			<-ctx.Done()
			return nil, Transient(ctx.Err())
		},
	}
	healthy := &fakeProbe{
		id:    "b",
		kinds: []MetricKind{KindCPULoad},
		fn:    answering("b", KindCPULoad, "CPU", 42),
	}

	agg, cache := newTestAggregator(t, map[MetricKind][]Probe{
		KindCPULoad: {blocked, healthy},
	})

	agg.cycle(context.Background())

	got, ok := cache.Snapshot(time.Now()).Get(KindCPULoad, "CPU")
	require.True(t, ok)
	assert.Equal(t, float64(42), got.Value)
	assert.Equal(t, "b", got.Backend)
	assert.Equal(t, ConfidenceMeasured, got.Confidence)

	health := agg.Health()
	assert.Equal(t, 1, health["a"].ConsecutiveFailures)
	assert.Zero(t, health["b"].ConsecutiveFailures)
}

func TestAggregatorCrossBackendMerge(t *testing.T) {
	// The rich backend answers only the GPU; the coarse one fills the
	// pairs it missed, and its answer for the satisfied pair is dropped.
	rich := &fakeProbe{
		id:    "rich",
		kinds: []MetricKind{KindGPUTemperature, KindClockSpeed},
		fn:    answering("rich", KindGPUTemperature, "GPU0", 70),
	}
	coarse := &fakeProbe{
		id:    "coarse",
		kinds: []MetricKind{KindGPUTemperature, KindClockSpeed},
		fn: func(_ context.Context, _ []MetricKind) (map[Key]Reading, error) {
			now := time.Now()
			gpu := NewReading(KindGPUTemperature, "GPU0", 65, "coarse", now)
			clock := NewReading(KindClockSpeed, "CPU", 3200, "coarse", now)
			return map[Key]Reading{gpu.Key(): gpu, clock.Key(): clock}, nil
		},
	}

	agg, cache := newTestAggregator(t, map[MetricKind][]Probe{
		KindGPUTemperature: {rich, coarse},
		KindClockSpeed:     {rich, coarse},
	})

	agg.cycle(context.Background())
	snap := cache.Snapshot(time.Now())

	gpu, ok := snap.Get(KindGPUTemperature, "GPU0")
	require.True(t, ok)
	assert.Equal(t, "rich", gpu.Backend, "higher-priority answer wins the pair")
	assert.Equal(t, float64(70), gpu.Value)

	clock, ok := snap.Get(KindClockSpeed, "CPU")
	require.True(t, ok)
	assert.Equal(t, "coarse", clock.Backend, "lower-priority backend fills the gap")
}

func TestAggregatorKeepsLastKnownGoodWhenAllFail(t *testing.T) {
	flaky := &fakeProbe{id: "flaky", kinds: []MetricKind{KindCPULoad}}
	ok := true
	flaky.fn = func(_ context.Context, _ []MetricKind) (map[Key]Reading, error) {
		if !ok {
			return nil, Transient(assert.AnError)
		}
		r := NewReading(KindCPULoad, "CPU", 10, "flaky", time.Now())
		return map[Key]Reading{r.Key(): r}, nil
	}

	agg, cache := newTestAggregator(t, map[MetricKind][]Probe{
		KindCPULoad: {flaky},
	})

	agg.cycle(context.Background())
	ok = false
	agg.cycle(context.Background())
	agg.cycle(context.Background())

	got, found := cache.Snapshot(time.Now()).Get(KindCPULoad, "CPU")
	require.True(t, found, "pair survives every backend failing")
	assert.Equal(t, float64(10), got.Value)
}

func TestAggregatorSkipsUnavailableBackendUntilBackoff(t *testing.T) {
	dead := &fakeProbe{
		id:    "dead",
		kinds: []MetricKind{KindFanRPM},
		fn: func(_ context.Context, _ []MetricKind) (map[Key]Reading, error) {
			return nil, Unavailable(assert.AnError)
		},
	}

	agg, _ := newTestAggregator(t, map[MetricKind][]Probe{
		KindFanRPM: {dead},
	})

	agg.cycle(context.Background())
	require.Equal(t, 1, dead.calls)
	assert.False(t, agg.Health()["dead"].Available)

	// Next cycle is inside the backoff window; the probe is not hit.
	agg.cycle(context.Background())
	assert.Equal(t, 1, dead.calls)
}

func TestAggregatorPublishesSnapshotsEveryCycle(t *testing.T) {
	p := &fakeProbe{
		id:    "p",
		kinds: []MetricKind{KindCPULoad},
		fn:    answering("p", KindCPULoad, "CPU", 5),
	}

	agg, _ := newTestAggregator(t, map[MetricKind][]Probe{
		KindCPULoad: {p},
	})

	var snapshots []Snapshot
	agg.Subscribe(func(s Snapshot) {
		snapshots = append(snapshots, s)
	})

	agg.cycle(context.Background())
	agg.cycle(context.Background())
	require.Len(t, snapshots, 2)
	assert.False(t, snapshots[1].TakenAt.Before(snapshots[0].TakenAt),
		"snapshots are published in timestamp order")
}

func TestAggregatorHealthNotifiesOnChangeOnly(t *testing.T) {
	flip := &fakeProbe{id: "flip", kinds: []MetricKind{KindCPULoad}}
	fail := false
	flip.fn = func(_ context.Context, _ []MetricKind) (map[Key]Reading, error) {
		if fail {
			return nil, Unavailable(assert.AnError)
		}
		r := NewReading(KindCPULoad, "CPU", 1, "flip", time.Now())
		return map[Key]Reading{r.Key(): r}, nil
	}

	agg, _ := newTestAggregator(t, map[MetricKind][]Probe{
		KindCPULoad: {flip},
	})

	notifications := 0
	agg.SubscribeHealth(func(map[string]BackendHealth) {
		notifications++
	})

	agg.cycle(context.Background()) // success, no change from initial healthy state
	assert.Zero(t, notifications)

	fail = true
	agg.cycle(context.Background()) // healthy -> unavailable
	assert.Equal(t, 1, notifications)
}

func TestNewAggregatorRejectsUndeclaredKind(t *testing.T) {
	p := &fakeProbe{
		id:    "narrow",
		kinds: []MetricKind{KindCPULoad},
		fn:    answering("narrow", KindCPULoad, "CPU", 1),
	}

	_, err := NewAggregator(AggregatorConfig{Interval: time.Second}, NewCache(), map[MetricKind][]Probe{
		KindFanRPM: {p},
	})
	assert.Error(t, err, "chaining a probe for a kind it never answers is a config error")
}
