package tools

import "github.com/sysdeck/sysdeck/internal/errors"

const (
	// Configuration errors
	ErrUnknownRuleKind = errors.ErrorCode("tools_unknown_rule_kind")

	// Archive errors
	ErrArchiveExtraction  = errors.ErrorCode("tools_archive_extraction_failed")
	ErrExtractionInFlight = errors.ErrorCode("tools_extraction_in_flight")
	ErrUnsafeArchivePath  = errors.ErrorCode("tools_unsafe_archive_path")

	// Discovery errors
	ErrWatchFailed = errors.ErrorCode("tools_watch_failed")
	ErrProcessScan = errors.ErrorCode("tools_process_scan_failed")
)
