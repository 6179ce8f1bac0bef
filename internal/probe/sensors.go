package probe

import (
	"context"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/sensors"
	"github.com/sysdeck/sysdeck/internal/errors"
	"github.com/sysdeck/sysdeck/internal/telemetry"
)

const sensorsID = "os-sensors"

// Sensors reads temperature sensors exposed by the kernel (hwmon and
// friends). Which sensors exist is entirely host-dependent; whatever maps
// onto a known kind is reported and the rest is ignored.
type Sensors struct{}

func NewSensors() *Sensors {
	return &Sensors{}
}

func (p *Sensors) ID() string {
	return sensorsID
}

func (p *Sensors) Kinds() []telemetry.MetricKind {
	return []telemetry.MetricKind{
		telemetry.KindCoreTemperature,
		telemetry.KindPackageTemperature,
	}
}

func (p *Sensors) Probe(ctx context.Context, kinds []telemetry.MetricKind) (map[telemetry.Key]telemetry.Reading, error) {
	stats, err := sensors.TemperaturesWithContext(ctx)
	if err != nil && len(stats) == 0 {
		return nil, telemetry.Unavailable(errors.New().Wrap(ErrOSQueryFailed, err))
	}

	wanted := make(map[telemetry.MetricKind]bool, len(kinds))
	for _, k := range kinds {
		wanted[k] = true
	}

	now := time.Now()
	readings := make(map[telemetry.Key]telemetry.Reading)

	for _, stat := range stats {
		kind, component := classifySensor(stat.SensorKey)
		if kind == "" || !wanted[kind] {
			continue
		}

		r := telemetry.NewReading(kind, component, stat.Temperature, sensorsID, now)
		readings[r.Key()] = r
	}

	return readings, nil
}

// classifySensor maps a kernel sensor key onto a metric kind and component
// name. Keys vary wildly between drivers; this covers the common coretemp
// and k10temp shapes.
func classifySensor(key string) (telemetry.MetricKind, string) {
	lower := strings.ToLower(key)

	switch {
	case strings.Contains(lower, "package"), strings.Contains(lower, "tctl"), strings.Contains(lower, "tdie"):
		return telemetry.KindPackageTemperature, "CPU Package"
	case strings.Contains(lower, "core"):
		return telemetry.KindCoreTemperature, sensorComponent(key)
	default:
		return "", ""
	}
}

func sensorComponent(key string) string {
	// coretemp keys look like "coretemp_core_0"; keep the trailing part
	// readable as "Core 0".
	idx := strings.LastIndexAny(key, "_ ")
	if idx >= 0 && idx+1 < len(key) {
		return "Core " + key[idx+1:]
	}

	return key
}

func (p *Sensors) Close() error {
	return nil
}
