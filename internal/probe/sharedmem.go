package probe

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sysdeck/sysdeck/internal/errors"
	"github.com/sysdeck/sysdeck/internal/logger"
	"github.com/sysdeck/sysdeck/internal/telemetry"
)

// Companion monitoring tools publish a fixed-layout telemetry block that we
// map read-only. Layout, little-endian:
//
//	offset 0   uint32  magic "SDTB"
//	offset 4   uint32  layout version (currently 1)
//	offset 8   uint32  sequence; odd while the writer is mid-update
//	offset 12  uint32  record count
//	offset 16  records, 32 bytes each:
//	           uint32 kind code, uint32 reserved,
//	           float64 value, 16-byte NUL-padded component name
const (
	shmID              = "shm"
	shmMagic           = 0x42544453 // "SDTB"
	shmVersion         = 1
	shmHeaderSize      = 16
	shmRecordSize      = 32
	shmAcquireCooldown = 15 * time.Second
	shmReleaseAfter    = 3
)

var shmKindCodes = map[uint32]telemetry.MetricKind{
	1: telemetry.KindGPUTemperature,
	2: telemetry.KindFanRPM,
	3: telemetry.KindFanDuty,
	4: telemetry.KindClockSpeed,
	5: telemetry.KindPackageTemperature,
	6: telemetry.KindCoreTemperature,
}

// SharedMem reads the telemetry block published by a companion tool. The
// mapping is acquired lazily and re-attempted on a cooldown when the tool is
// not running; repeated malformed reads release the mapping so a relaunched
// writer gets a fresh map.
type SharedMem struct {
	path string

	mu          sync.Mutex
	data        []byte
	failures    int
	lastAttempt time.Time
	cooldown    time.Duration
}

func NewSharedMem(path string) *SharedMem {
	return &SharedMem{
		path:     path,
		cooldown: shmAcquireCooldown,
	}
}

func (p *SharedMem) ID() string {
	return shmID
}

func (p *SharedMem) Kinds() []telemetry.MetricKind {
	kinds := make([]telemetry.MetricKind, 0, len(shmKindCodes))
	for _, k := range shmKindCodes {
		kinds = append(kinds, k)
	}

	return kinds
}

func (p *SharedMem) Probe(ctx context.Context, kinds []telemetry.MetricKind) (map[telemetry.Key]telemetry.Reading, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.acquire(); err != nil {
		return nil, telemetry.Unavailable(err)
	}

	readings, err := p.parse(kinds)
	if err != nil {
		p.failures++
		if p.failures >= shmReleaseAfter {
			p.release()
		}

		return nil, telemetry.Transient(err)
	}
	p.failures = 0

	return readings, nil
}

// acquire maps the block read-only. Must be called with the mutex held.
func (p *SharedMem) acquire() error {
	if p.data != nil {
		return nil
	}

	errFactory := errors.New()

	now := time.Now()
	if !p.lastAttempt.IsZero() && now.Sub(p.lastAttempt) < p.cooldown {
		return errFactory.New(ErrShmOpenFailed)
	}
	p.lastAttempt = now

	f, err := os.Open(p.path)
	if err != nil {
		return errFactory.Wrap(ErrShmOpenFailed, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errFactory.Wrap(ErrShmOpenFailed, err)
	}
	if info.Size() < shmHeaderSize {
		return errFactory.WithData(ErrShmTruncated, info.Size())
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return errFactory.Wrap(ErrShmOpenFailed, err)
	}

	p.data = data
	p.failures = 0
	logger.Debug().Str("path", p.path).Int("bytes", len(data)).Msg("Mapped telemetry block")

	return nil
}

// parse decodes the block. The sequence word is read before and after so a
// concurrent writer update is detected instead of yielding torn values.
// Must be called with the mutex held.
func (p *SharedMem) parse(kinds []telemetry.MetricKind) (map[telemetry.Key]telemetry.Reading, error) {
	errFactory := errors.New()
	data := p.data

	if binary.LittleEndian.Uint32(data[0:4]) != shmMagic {
		return nil, errFactory.New(ErrShmBadMagic)
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != shmVersion {
		return nil, errFactory.WithData(ErrShmBadVersion, v)
	}

	seq := binary.LittleEndian.Uint32(data[8:12])
	if seq%2 != 0 {
		return nil, errFactory.New(ErrShmTornRead)
	}

	count := int(binary.LittleEndian.Uint32(data[12:16]))
	if shmHeaderSize+count*shmRecordSize > len(data) {
		return nil, errFactory.WithData(ErrShmTruncated, count)
	}

	wanted := make(map[telemetry.MetricKind]bool, len(kinds))
	for _, k := range kinds {
		wanted[k] = true
	}

	now := time.Now()
	readings := make(map[telemetry.Key]telemetry.Reading, count)

	for i := 0; i < count; i++ {
		off := shmHeaderSize + i*shmRecordSize
		code := binary.LittleEndian.Uint32(data[off : off+4])
		kind, ok := shmKindCodes[code]
		if !ok || !wanted[kind] {
			continue
		}

		value := math.Float64frombits(binary.LittleEndian.Uint64(data[off+8 : off+16]))
		component := strings.TrimRight(string(data[off+16:off+32]), "\x00")
		if component == "" {
			continue
		}

		r := telemetry.NewReading(kind, component, value, shmID, now)
		readings[r.Key()] = r
	}

	if binary.LittleEndian.Uint32(data[8:12]) != seq {
		return nil, errFactory.New(ErrShmTornRead)
	}

	return readings, nil
}

// release unmaps the block. Must be called with the mutex held.
func (p *SharedMem) release() {
	if p.data == nil {
		return
	}

	if err := unix.Munmap(p.data); err != nil {
		logger.Debug().Err(err).Msg("Munmap failed")
	}
	p.data = nil
	p.failures = 0
}

func (p *SharedMem) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.data == nil {
		return nil
	}

	if err := unix.Munmap(p.data); err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}
	p.data = nil

	return nil
}
