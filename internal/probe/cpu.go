package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/sysdeck/sysdeck/internal/errors"
	"github.com/sysdeck/sysdeck/internal/telemetry"
)

const cpuID = "os-cpu"

// CPU reads processor load and clock speed from the OS counters. Coarse but
// always present, so it typically sits at the bottom of the fallback chain.
type CPU struct{}

func NewCPU() *CPU {
	return &CPU{}
}

func (p *CPU) ID() string {
	return cpuID
}

func (p *CPU) Kinds() []telemetry.MetricKind {
	return []telemetry.MetricKind{
		telemetry.KindCPULoad,
		telemetry.KindPerCoreLoad,
		telemetry.KindClockSpeed,
	}
}

func (p *CPU) Probe(ctx context.Context, kinds []telemetry.MetricKind) (map[telemetry.Key]telemetry.Reading, error) {
	now := time.Now()
	readings := make(map[telemetry.Key]telemetry.Reading)
	var lastErr error

	for _, kind := range kinds {
		switch kind {
		case telemetry.KindCPULoad:
			percents, err := cpu.PercentWithContext(ctx, 0, false)
			if err != nil || len(percents) == 0 {
				lastErr = err
				continue
			}
			r := telemetry.NewReading(kind, "CPU", percents[0], cpuID, now)
			readings[r.Key()] = r

		case telemetry.KindPerCoreLoad:
			percents, err := cpu.PercentWithContext(ctx, 0, true)
			if err != nil {
				lastErr = err
				continue
			}
			for i, pct := range percents {
				r := telemetry.NewReading(kind, fmt.Sprintf("CPU%d", i), pct, cpuID, now)
				readings[r.Key()] = r
			}

		case telemetry.KindClockSpeed:
			info, err := cpu.InfoWithContext(ctx)
			if err != nil || len(info) == 0 {
				lastErr = err
				continue
			}
			r := telemetry.NewReading(kind, "CPU", info[0].Mhz, cpuID, now)
			readings[r.Key()] = r
		}
	}

	if len(readings) == 0 && lastErr != nil {
		return nil, telemetry.Transient(errors.New().Wrap(ErrOSQueryFailed, lastErr))
	}

	return readings, nil
}

func (p *CPU) Close() error {
	return nil
}
