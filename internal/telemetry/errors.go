package telemetry

import "github.com/sysdeck/sysdeck/internal/errors"

const (
	// Configuration errors
	ErrUnknownMetricKind = errors.ErrorCode("telemetry_unknown_metric_kind")
	ErrUnknownBackend    = errors.ErrorCode("telemetry_unknown_backend")
	ErrInvalidChain      = errors.ErrorCode("telemetry_invalid_chain")

	// Probe errors
	ErrBackendUnavailable = errors.ErrorCode("telemetry_backend_unavailable")
	ErrBackendTimeout     = errors.ErrorCode("telemetry_backend_timeout")
	ErrBackendMalformed   = errors.ErrorCode("telemetry_backend_malformed")

	// Shutdown errors
	ErrShutdownTimeout = errors.ErrorCode("telemetry_shutdown_timeout")
)
