package probe

import (
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sysdeck/sysdeck/internal/telemetry"
)

type shmRecord struct {
	code      uint32
	value     float64
	component string
}

func writeBlock(t *testing.T, path string, magic, version, seq uint32, records []shmRecord) {
	t.Helper()

	buf := make([]byte, shmHeaderSize+len(records)*shmRecordSize)
	binary.LittleEndian.PutUint32(buf[0:4], magic)
	binary.LittleEndian.PutUint32(buf[4:8], version)
	binary.LittleEndian.PutUint32(buf[8:12], seq)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(records)))

	for i, rec := range records {
		off := shmHeaderSize + i*shmRecordSize
		binary.LittleEndian.PutUint32(buf[off:off+4], rec.code)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], math.Float64bits(rec.value))
		copy(buf[off+16:off+32], rec.component)
	}

	require.NoError(t, os.WriteFile(path, buf, 0o600))
}

func TestSharedMemProbeReadsBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry")
	writeBlock(t, path, shmMagic, shmVersion, 2, []shmRecord{
		{code: 1, value: 68.5, component: "GPU0"},
		{code: 2, value: 1450, component: "Fan1"},
	})

	p := NewSharedMem(path)
	defer p.Close()

	readings, err := p.Probe(context.Background(), p.Kinds())
	require.NoError(t, err)

	gpu, ok := readings[telemetry.Key{Kind: telemetry.KindGPUTemperature, Component: "GPU0"}]
	require.True(t, ok)
	assert.Equal(t, 68.5, gpu.Value)
	assert.Equal(t, shmID, gpu.Backend)
	assert.Equal(t, telemetry.ConfidenceMeasured, gpu.Confidence)

	fan, ok := readings[telemetry.Key{Kind: telemetry.KindFanRPM, Component: "Fan1"}]
	require.True(t, ok)
	assert.Equal(t, float64(1450), fan.Value)
}

func TestSharedMemProbeFiltersRequestedKinds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry")
	writeBlock(t, path, shmMagic, shmVersion, 0, []shmRecord{
		{code: 1, value: 60, component: "GPU0"},
		{code: 2, value: 900, component: "Fan0"},
	})

	p := NewSharedMem(path)
	defer p.Close()

	readings, err := p.Probe(context.Background(), []telemetry.MetricKind{telemetry.KindFanRPM})
	require.NoError(t, err)
	assert.Len(t, readings, 1)
	_, ok := readings[telemetry.Key{Kind: telemetry.KindFanRPM, Component: "Fan0"}]
	assert.True(t, ok)
}

func TestSharedMemProbeMissingFileIsUnavailable(t *testing.T) {
	p := NewSharedMem(filepath.Join(t.TempDir(), "missing"))
	defer p.Close()

	_, err := p.Probe(context.Background(), p.Kinds())
	require.Error(t, err)
	assert.True(t, telemetry.IsUnavailable(err))
}

func TestSharedMemProbeOddSequenceIsTransient(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry")
	writeBlock(t, path, shmMagic, shmVersion, 3, []shmRecord{
		{code: 1, value: 60, component: "GPU0"},
	})

	p := NewSharedMem(path)
	defer p.Close()

	_, err := p.Probe(context.Background(), p.Kinds())
	require.Error(t, err)
	assert.False(t, telemetry.IsUnavailable(err), "writer mid-update is transient, not unavailable")
}

func TestSharedMemProbeBadMagicIsTransient(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry")
	writeBlock(t, path, 0xdeadbeef, shmVersion, 0, nil)

	p := NewSharedMem(path)
	defer p.Close()

	_, err := p.Probe(context.Background(), p.Kinds())
	require.Error(t, err)
	assert.False(t, telemetry.IsUnavailable(err))
}

func TestSharedMemProbeReleasesAfterRepeatedFailures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry")
	writeBlock(t, path, 0xdeadbeef, shmVersion, 0, nil)

	p := NewSharedMem(path)
	defer p.Close()

	for i := 0; i < shmReleaseAfter; i++ {
		_, err := p.Probe(context.Background(), p.Kinds())
		require.Error(t, err)
	}

	p.mu.Lock()
	released := p.data == nil
	p.mu.Unlock()
	assert.True(t, released, "mapping is dropped after repeated malformed reads")
}

func TestSharedMemProbeCloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry")
	writeBlock(t, path, shmMagic, shmVersion, 0, nil)

	p := NewSharedMem(path)
	_, err := p.Probe(context.Background(), p.Kinds())
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}
