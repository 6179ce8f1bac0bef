package telemetry

import (
	"context"
	"time"

	"github.com/sysdeck/sysdeck/internal/errors"
)

// Probe is one strategy for obtaining sensor readings from a specific OS or
// third-party interface. Implementations must be safe for use from the
// aggregator goroutine only; they are never called concurrently with
// themselves.
//
// A call answering only some of the requested kinds returns the readings it
// has together with a nil error; the aggregator treats the answered pairs as
// success. A nil map with a nil error means the probe had nothing to say
// this cycle.
type Probe interface {
	// ID returns the stable backend identifier recorded on readings.
	ID() string

	// Kinds returns the metric kinds this probe can ever answer. The
	// aggregator only requests kinds from this set.
	Kinds() []MetricKind

	// Probe captures readings for the requested kinds. Errors must be
	// classified with Unavailable or Transient so the aggregator can
	// apply the right retry policy.
	Probe(ctx context.Context, kinds []MetricKind) (map[Key]Reading, error)

	// Close releases any persistent handles the probe holds. Called once
	// on shutdown.
	Close() error
}

// Unavailable marks err as a missing-backend failure: the data source is not
// present or not permitted. The aggregator backs off instead of retrying at
// normal cadence.
func Unavailable(err error) error {
	return errors.New().Wrap(ErrBackendUnavailable, err)
}

// Transient marks err as a transient failure (timeout, malformed data).
// Retried on the next cycle.
func Transient(err error) error {
	return errors.New().Wrap(ErrBackendMalformed, err)
}

// IsUnavailable reports whether err was classified with Unavailable.
func IsUnavailable(err error) bool {
	return errors.CodeOf(err) == ErrBackendUnavailable
}

// NewReading builds a measured reading with the unit implied by the kind.
func NewReading(kind MetricKind, component string, value float64, backend string, now time.Time) Reading {
	return Reading{
		Kind:       kind,
		Component:  component,
		Value:      value,
		Unit:       kind.Unit(),
		CapturedAt: now,
		Backend:    backend,
		Confidence: ConfidenceMeasured,
	}
}
