package probe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/sysdeck/sysdeck/internal/errors"
	"github.com/sysdeck/sysdeck/internal/logger"
	"github.com/sysdeck/sysdeck/internal/telemetry"
)

const (
	nvmlID              = "nvml"
	nvmlAcquireCooldown = 30 * time.Second
	nvmlReleaseAfter    = 3
)

// NVML reads GPU telemetry through the NVIDIA management library. The
// library handle is acquired lazily on first use and re-attempted on a
// cooldown, so a host without the driver is not hammered every cycle.
// Repeated query failures release the handle and start over.
type NVML struct {
	mu          sync.Mutex
	initialized bool
	device      nvml.Device
	failures    int
	lastAttempt time.Time
	cooldown    time.Duration
}

func NewNVML() *NVML {
	return &NVML{cooldown: nvmlAcquireCooldown}
}

func (p *NVML) ID() string {
	return nvmlID
}

func (p *NVML) Kinds() []telemetry.MetricKind {
	return []telemetry.MetricKind{
		telemetry.KindGPUTemperature,
		telemetry.KindFanDuty,
		telemetry.KindClockSpeed,
	}
}

func (p *NVML) Probe(ctx context.Context, kinds []telemetry.MetricKind) (map[telemetry.Key]telemetry.Reading, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.acquire(); err != nil {
		return nil, telemetry.Unavailable(err)
	}

	now := time.Now()
	readings := make(map[telemetry.Key]telemetry.Reading)
	var lastErr error

	for _, kind := range kinds {
		if ctx.Err() != nil {
			return readings, nil
		}

		switch kind {
		case telemetry.KindGPUTemperature:
			temp, ret := p.device.GetTemperature(nvml.TEMPERATURE_GPU)
			if !isNVMLSuccess(ret) {
				lastErr = errors.New().Wrap(ErrNVMLQueryFailed, newNVMLError(ret))
				continue
			}
			r := telemetry.NewReading(kind, "GPU0", float64(temp), nvmlID, now)
			readings[r.Key()] = r

		case telemetry.KindFanDuty:
			count, ret := p.device.GetNumFans()
			if !isNVMLSuccess(ret) {
				lastErr = errors.New().Wrap(ErrNVMLQueryFailed, newNVMLError(ret))
				continue
			}
			for i := 0; i < count; i++ {
				speed, ret := p.device.GetFanSpeed_v2(i)
				if !isNVMLSuccess(ret) {
					lastErr = errors.New().Wrap(ErrNVMLQueryFailed, newNVMLError(ret))
					continue
				}
				r := telemetry.NewReading(kind, fmt.Sprintf("Fan%d", i), float64(speed), nvmlID, now)
				readings[r.Key()] = r
			}

		case telemetry.KindClockSpeed:
			clock, ret := p.device.GetClockInfo(nvml.CLOCK_GRAPHICS)
			if !isNVMLSuccess(ret) {
				lastErr = errors.New().Wrap(ErrNVMLQueryFailed, newNVMLError(ret))
				continue
			}
			r := telemetry.NewReading(kind, "GPU0", float64(clock), nvmlID, now)
			readings[r.Key()] = r
		}
	}

	if len(readings) == 0 && lastErr != nil {
		p.failures++
		if p.failures >= nvmlReleaseAfter {
			p.release()
		}

		return nil, telemetry.Transient(lastErr)
	}

	p.failures = 0

	return readings, nil
}

// acquire initializes NVML and caches the first device handle. Must be
// called with the mutex held.
func (p *NVML) acquire() error {
	if p.initialized {
		return nil
	}

	now := time.Now()
	if !p.lastAttempt.IsZero() && now.Sub(p.lastAttempt) < p.cooldown {
		return errors.New().New(ErrNVMLInitFailed)
	}
	p.lastAttempt = now

	if ret := nvml.Init(); !isNVMLSuccess(ret) {
		return errors.New().Wrap(ErrNVMLInitFailed, newNVMLError(ret))
	}

	count, ret := nvml.DeviceGetCount()
	if !isNVMLSuccess(ret) || count == 0 {
		nvml.Shutdown()
		return errors.New().New(ErrNVMLNoDevice)
	}

	device, ret := nvml.DeviceGetHandleByIndex(0)
	if !isNVMLSuccess(ret) {
		nvml.Shutdown()
		return errors.New().Wrap(ErrNVMLNoDevice, newNVMLError(ret))
	}

	if name, ret := device.GetName(); isNVMLSuccess(ret) {
		logger.Info().Msgf("Detected GPU: %v", name)
	}

	p.device = device
	p.initialized = true
	p.failures = 0

	return nil
}

// release drops the NVML handle so the next probe re-acquires from scratch.
// Must be called with the mutex held.
func (p *NVML) release() {
	if !p.initialized {
		return
	}

	if ret := nvml.Shutdown(); !isNVMLSuccess(ret) {
		logger.Debug().Msgf("NVML shutdown failed: %v", nvml.ErrorString(ret))
	}

	p.initialized = false
	p.failures = 0
}

func (p *NVML) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return nil
	}

	if ret := nvml.Shutdown(); !isNVMLSuccess(ret) {
		return errors.New().Wrap(ErrNVMLShutdown, newNVMLError(ret))
	}
	p.initialized = false

	return nil
}
