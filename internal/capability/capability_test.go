package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sysdeck/sysdeck/internal/telemetry"
	"github.com/sysdeck/sysdeck/internal/tools"
)

func TestDeriveToolRequirement(t *testing.T) {
	rules := []Rule{
		{Name: "fan-control", Tool: "fanctl"},
		{Name: "fan-curves", Tool: "fanctl", RequireRunning: true},
	}

	tests := []struct {
		name    string
		status  tools.Status
		present bool
		control bool
		curves  bool
	}{
		{name: "absent tool disables both", status: tools.StatusAbsent, present: true},
		{name: "unknown tool disables both"},
		{name: "installed enables the installed-only rule", status: tools.StatusInstalled, present: true, control: true},
		{name: "running enables both", status: tools.StatusRunning, present: true, control: true, curves: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			descriptors := map[string]tools.Descriptor{}
			if tt.present {
				descriptors["fanctl"] = tools.Descriptor{ID: "fanctl", Status: tt.status}
			}

			set := Derive(rules, descriptors, nil, nil)
			assert.Equal(t, tt.control, set["fan-control"])
			assert.Equal(t, tt.curves, set["fan-curves"])
		})
	}
}

func TestDeriveBackendRequirement(t *testing.T) {
	rules := []Rule{
		{Name: "gpu-telemetry", Kinds: []telemetry.MetricKind{telemetry.KindGPUTemperature}},
	}
	probeKinds := map[string][]telemetry.MetricKind{
		"nvml": {telemetry.KindGPUTemperature, telemetry.KindClockSpeed},
	}

	up := map[string]telemetry.BackendHealth{"nvml": {Available: true}}
	down := map[string]telemetry.BackendHealth{"nvml": {Available: false}}

	assert.True(t, Derive(rules, nil, up, probeKinds)["gpu-telemetry"])
	assert.False(t, Derive(rules, nil, down, probeKinds)["gpu-telemetry"])
}

func TestDeriveAnyDeclaringBackendSuffices(t *testing.T) {
	rules := []Rule{
		{Name: "gpu-telemetry", Kinds: []telemetry.MetricKind{telemetry.KindGPUTemperature}},
	}
	probeKinds := map[string][]telemetry.MetricKind{
		"nvml": {telemetry.KindGPUTemperature},
		"shm":  {telemetry.KindGPUTemperature, telemetry.KindFanRPM},
	}
	health := map[string]telemetry.BackendHealth{
		"nvml": {Available: false},
		"shm":  {Available: true},
	}

	assert.True(t, Derive(rules, nil, health, probeKinds)["gpu-telemetry"])
}

func TestDeriveIsPure(t *testing.T) {
	rules := []Rule{
		{Name: "fan-control", Tool: "fanctl"},
		{Name: "gpu-telemetry", Kinds: []telemetry.MetricKind{telemetry.KindGPUTemperature}},
	}
	descriptors := map[string]tools.Descriptor{
		"fanctl": {ID: "fanctl", Status: tools.StatusInstalled},
	}
	health := map[string]telemetry.BackendHealth{"nvml": {Available: true}}
	probeKinds := map[string][]telemetry.MetricKind{
		"nvml": {telemetry.KindGPUTemperature},
	}

	first := Derive(rules, descriptors, health, probeKinds)
	second := Derive(rules, descriptors, health, probeKinds)
	assert.True(t, first.Equal(second))
}

func TestSetEqual(t *testing.T) {
	a := Set{"x": true, "y": false}
	assert.True(t, a.Equal(Set{"x": true, "y": false}))
	assert.False(t, a.Equal(Set{"x": true, "y": true}))
	assert.False(t, a.Equal(Set{"x": true}))
	assert.False(t, a.Equal(Set{"x": true, "y": false, "z": true}))
}

func TestPublisherNotifiesOnChangeOnly(t *testing.T) {
	rules := []Rule{{Name: "fan-control", Tool: "fanctl"}}
	p := NewPublisher(rules, nil)

	var seen []Set
	p.Subscribe(func(s Set) {
		seen = append(seen, s)
	})

	installed := map[string]tools.Descriptor{
		"fanctl": {ID: "fanctl", Status: tools.StatusInstalled},
	}
	p.UpdateTools(installed)
	require.Len(t, seen, 1)
	assert.True(t, seen[0]["fan-control"])

	// Running vs installed makes no difference to this rule: no notification.
	p.UpdateTools(map[string]tools.Descriptor{
		"fanctl": {ID: "fanctl", Status: tools.StatusRunning},
	})
	assert.Len(t, seen, 1)

	p.UpdateTools(map[string]tools.Descriptor{
		"fanctl": {ID: "fanctl", Status: tools.StatusAbsent},
	})
	require.Len(t, seen, 2)
	assert.False(t, seen[1]["fan-control"])
}

func TestPublisherHealthUpdates(t *testing.T) {
	rules := []Rule{{Name: "gpu-telemetry", Kinds: []telemetry.MetricKind{telemetry.KindGPUTemperature}}}
	probeKinds := map[string][]telemetry.MetricKind{
		"nvml": {telemetry.KindGPUTemperature},
	}
	p := NewPublisher(rules, probeKinds)

	notifications := 0
	p.Subscribe(func(Set) { notifications++ })

	p.UpdateHealth(map[string]telemetry.BackendHealth{"nvml": {Available: true}})
	assert.Equal(t, 1, notifications)
	assert.True(t, p.Current()["gpu-telemetry"])

	p.UpdateHealth(map[string]telemetry.BackendHealth{"nvml": {Available: false}})
	assert.Equal(t, 2, notifications)
	assert.False(t, p.Current()["gpu-telemetry"])
}

func TestPublisherCurrentIsCopy(t *testing.T) {
	p := NewPublisher([]Rule{{Name: "fan-control"}}, nil)
	p.UpdateTools(nil)

	current := p.Current()
	current["fan-control"] = false

	assert.True(t, p.Current()["fan-control"])
}
