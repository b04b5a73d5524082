// Package errors provides structured error handling for mdsentry.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (file, disk)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
//   - 6XX: Structural errors (include cycles, missing includes)
//   - 7XX: Watch infrastructure errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
	// CategoryStructural indicates include graph problems that block a parse.
	CategoryStructural Category = "STRUCTURAL"
	// CategoryWatch indicates change notification infrastructure failures.
	CategoryWatch Category = "WATCH"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
	// SeverityInfo indicates informational only.
	SeverityInfo Severity = "INFO"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound   = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid    = "ERR_102_CONFIG_INVALID"
	ErrCodeConfigPermission = "ERR_103_CONFIG_PERMISSION"

	// IO errors (200-299)
	ErrCodeFileNotFound   = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission = "ERR_202_FILE_PERMISSION"
	ErrCodeDiskFull       = "ERR_203_DISK_FULL"
	ErrCodeFileTooLarge   = "ERR_204_FILE_TOO_LARGE"
	ErrCodeBackupCorrupt  = "ERR_205_BACKUP_CORRUPT"
	ErrCodeScratchLocked  = "ERR_206_SCRATCH_LOCKED"
	ErrCodeTransientIO    = "ERR_207_TRANSIENT_IO"

	// Validation errors (400-499)
	ErrCodeInvalidInput     = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidPath      = "ERR_406_INVALID_PATH"
	ErrCodeUnknownDocument  = "ERR_407_UNKNOWN_DOCUMENT"
	ErrCodeActionNotOffered = "ERR_408_ACTION_NOT_OFFERED"
	ErrCodeUnknownConflict  = "ERR_409_UNKNOWN_CONFLICT"

	// Internal errors (500-599)
	ErrCodeInternal        = "ERR_501_INTERNAL"
	ErrCodePreferenceStore = "ERR_502_PREFERENCE_STORE"
	ErrCodeClosed          = "ERR_503_CLOSED"

	// Structural errors (600-699)
	ErrCodeCycle          = "ERR_601_CYCLE"
	ErrCodeMissingInclude = "ERR_602_MISSING_INCLUDE"

	// Watch errors (700-799)
	ErrCodeWatchUnavailable = "ERR_701_WATCH_UNAVAILABLE"
	ErrCodeWatchLimit       = "ERR_702_WATCH_LIMIT"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Extract numeric portion (e.g., "101" from "ERR_101_CONFIG_NOT_FOUND")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '4':
		return CategoryValidation
	case '6':
		return CategoryStructural
	case '7':
		return CategoryWatch
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeDiskFull:
		return SeverityFatal
	case ErrCodeWatchUnavailable, ErrCodeWatchLimit:
		// Watch failures degrade to polling and never block edits.
		return SeverityInfo
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
// Permission errors are deliberately absent: they surface, never retry silently.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeTransientIO, ErrCodeScratchLocked:
		return true
	default:
		return false
	}
}
