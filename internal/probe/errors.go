package probe

import (
	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/sysdeck/sysdeck/internal/errors"
)

const (
	// NVML errors
	ErrNVMLInitFailed  = errors.ErrorCode("probe_nvml_init_failed")
	ErrNVMLNoDevice    = errors.ErrorCode("probe_nvml_no_device")
	ErrNVMLQueryFailed = errors.ErrorCode("probe_nvml_query_failed")
	ErrNVMLShutdown    = errors.ErrorCode("probe_nvml_shutdown_failed")

	// Shared-memory errors
	ErrShmOpenFailed = errors.ErrorCode("probe_shm_open_failed")
	ErrShmBadMagic   = errors.ErrorCode("probe_shm_bad_magic")
	ErrShmBadVersion = errors.ErrorCode("probe_shm_bad_version")
	ErrShmTruncated  = errors.ErrorCode("probe_shm_truncated")
	ErrShmTornRead   = errors.ErrorCode("probe_shm_torn_read")

	// OS counter errors
	ErrOSQueryFailed = errors.ErrorCode("probe_os_query_failed")
)

// nvmlError wraps an NVML return code as an error
type nvmlError struct {
	ret nvml.Return
}

func (e nvmlError) Error() string {
	return nvml.ErrorString(e.ret)
}

func newNVMLError(ret nvml.Return) error {
	if ret == nvml.SUCCESS {
		return nil
	}

	return &nvmlError{ret: ret}
}

func isNVMLSuccess(ret nvml.Return) bool {
	return ret == nvml.SUCCESS
}
