package probe

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/sysdeck/sysdeck/internal/errors"
	"github.com/sysdeck/sysdeck/internal/telemetry"
)

const memoryID = "os-memory"

// Memory reads physical memory usage from the OS.
type Memory struct{}

func NewMemory() *Memory {
	return &Memory{}
}

func (p *Memory) ID() string {
	return memoryID
}

func (p *Memory) Kinds() []telemetry.MetricKind {
	return []telemetry.MetricKind{
		telemetry.KindMemoryUsed,
		telemetry.KindMemoryTotal,
	}
}

func (p *Memory) Probe(ctx context.Context, kinds []telemetry.MetricKind) (map[telemetry.Key]telemetry.Reading, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, telemetry.Transient(errors.New().Wrap(ErrOSQueryFailed, err))
	}

	now := time.Now()
	readings := make(map[telemetry.Key]telemetry.Reading)

	for _, kind := range kinds {
		switch kind {
		case telemetry.KindMemoryUsed:
			r := telemetry.NewReading(kind, "System", float64(vm.Used), memoryID, now)
			readings[r.Key()] = r
		case telemetry.KindMemoryTotal:
			r := telemetry.NewReading(kind, "System", float64(vm.Total), memoryID, now)
			readings[r.Key()] = r
		}
	}

	return readings, nil
}

func (p *Memory) Close() error {
	return nil
}
