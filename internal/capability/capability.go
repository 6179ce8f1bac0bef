package capability

import (
	"github.com/sysdeck/sysdeck/internal/telemetry"
	"github.com/sysdeck/sysdeck/internal/tools"
)

// Set maps capability name to whether the feature is usable right now.
// Always derived, never stored as authoritative state.
type Set map[string]bool

// Equal reports whether two sets enable exactly the same capabilities.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for name, enabled := range s {
		if other[name] != enabled {
			return false
		}
	}

	return true
}

// Rule declares what one capability requires. A zero Tool means no tool
// requirement; an empty Kinds list means no backend requirement.
type Rule struct {
	Name string
	// Tool is the required companion tool id.
	Tool string
	// RequireRunning demands the tool be running, not merely installed.
	RequireRunning bool
	// Kinds require at least one available backend declaring one of
	// these metric kinds.
	Kinds []telemetry.MetricKind
}

// Derive computes the capability set from descriptor and health snapshots.
// Pure: identical inputs always yield identical output.
func Derive(
	rules []Rule,
	descriptors map[string]tools.Descriptor,
	health map[string]telemetry.BackendHealth,
	probeKinds map[string][]telemetry.MetricKind,
) Set {
	out := make(Set, len(rules))

	for _, rule := range rules {
		out[rule.Name] = satisfied(rule, descriptors, health, probeKinds)
	}

	return out
}

func satisfied(
	rule Rule,
	descriptors map[string]tools.Descriptor,
	health map[string]telemetry.BackendHealth,
	probeKinds map[string][]telemetry.MetricKind,
) bool {
	if rule.Tool != "" {
		d, ok := descriptors[rule.Tool]
		if !ok || d.Status == tools.StatusAbsent {
			return false
		}
		if rule.RequireRunning && d.Status != tools.StatusRunning {
			return false
		}
	}

	if len(rule.Kinds) == 0 {
		return true
	}

	for _, kind := range rule.Kinds {
		for backend, kinds := range probeKinds {
			if !health[backend].Available {
				continue
			}
			for _, k := range kinds {
				if k == kind {
					return true
				}
			}
		}
	}

	return false
}
