package telemetry

import (
	"time"

	"github.com/sysdeck/sysdeck/internal/errors"
)

// MetricKind tags one class of sensor value. The set is closed; extending
// it means adding a constant here, not configuration.
type MetricKind string

const (
	KindCoreTemperature    MetricKind = "core-temperature"
	KindPackageTemperature MetricKind = "package-temperature"
	KindGPUTemperature     MetricKind = "gpu-temperature"
	KindCPULoad            MetricKind = "cpu-load-percent"
	KindPerCoreLoad        MetricKind = "per-core-load-percent"
	KindMemoryUsed         MetricKind = "memory-used-bytes"
	KindMemoryTotal        MetricKind = "memory-total-bytes"
	KindFanRPM             MetricKind = "fan-rpm"
	KindFanDuty            MetricKind = "fan-duty-percent"
	KindClockSpeed         MetricKind = "clock-speed-mhz"
)

var allKinds = map[MetricKind]string{
	KindCoreTemperature:    "°C",
	KindPackageTemperature: "°C",
	KindGPUTemperature:     "°C",
	KindCPULoad:            "%",
	KindPerCoreLoad:        "%",
	KindMemoryUsed:         "B",
	KindMemoryTotal:        "B",
	KindFanRPM:             "rpm",
	KindFanDuty:            "%",
	KindClockSpeed:         "MHz",
}

// ParseMetricKind validates a configuration string against the closed set.
func ParseMetricKind(s string) (MetricKind, error) {
	kind := MetricKind(s)
	if _, ok := allKinds[kind]; !ok {
		return "", errors.New().WithData(ErrUnknownMetricKind, s)
	}

	return kind, nil
}

// Unit returns the canonical unit for a metric kind.
func (k MetricKind) Unit() string {
	return allKinds[k]
}

// Kinds returns every known metric kind.
func Kinds() []MetricKind {
	out := make([]MetricKind, 0, len(allKinds))
	for k := range allKinds {
		out = append(out, k)
	}

	return out
}

// Confidence classifies how trustworthy a reading is.
type Confidence int8

const (
	ConfidenceMeasured Confidence = iota
	ConfidenceEstimated
	ConfidenceStale
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceMeasured:
		return "measured"
	case ConfidenceEstimated:
		return "estimated"
	case ConfidenceStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Key identifies one sensor stream: a metric kind on a named component.
type Key struct {
	Kind      MetricKind
	Component string
}

// Reading is one captured sensor value.
type Reading struct {
	Kind       MetricKind
	Component  string
	Value      float64
	Unit       string
	CapturedAt time.Time
	Backend    string
	Confidence Confidence
}

// Key returns the cache key for this reading.
func (r Reading) Key() Key {
	return Key{Kind: r.Kind, Component: r.Component}
}

// Snapshot is an immutable copy of the reading cache handed to subscribers.
type Snapshot struct {
	TakenAt  time.Time
	Readings map[Key]Reading
}

// Get returns the reading for a kind/component pair, if present.
func (s Snapshot) Get(kind MetricKind, component string) (Reading, bool) {
	r, ok := s.Readings[Key{Kind: kind, Component: component}]
	return r, ok
}
