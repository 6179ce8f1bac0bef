package history

import "github.com/sysdeck/sysdeck/internal/errors"

const (
	// Configuration errors
	ErrInvalidConfig = errors.ErrorCode("history_invalid_config")
	ErrInvalidDBPath = errors.ErrorCode("history_invalid_db_path")

	// Recording errors
	ErrInvalidSnapshot = errors.ErrorCode("history_invalid_snapshot")
	ErrRecordFailed    = errors.ErrorCode("history_record_failed")

	// Storage errors
	ErrStorageInit       = errors.ErrorCode("history_storage_init_failed")
	ErrStorageClose      = errors.ErrorCode("history_storage_close_failed")
	ErrSchemaInitFailed  = errors.ErrorCode("history_schema_init_failed")
	ErrTransactionFailed = errors.ErrorCode("history_transaction_failed")

	// Operation errors
	ErrOperationTimeout = errors.ErrorCode("history_operation_timeout")
	ErrServiceShutdown  = errors.ErrorCode("history_service_shutdown_failed")
)
