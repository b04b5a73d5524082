package errors

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// SentryError is the structured error type for mdsentry.
// It carries enough context for logging, CLI rendering and MCP responses.
type SentryError struct {
	// Code is the unique error code (e.g., "ERR_202_FILE_PERMISSION").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Structural, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *SentryError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *SentryError) Unwrap() error {
	return e.Cause
}

// Is matches by code so errors.Is works against sentinel SentryErrors.
func (e *SentryError) Is(target error) bool {
	if t, ok := target.(*SentryError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *SentryError) WithDetail(key, value string) *SentryError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *SentryError) WithSuggestion(suggestion string) *SentryError {
	e.Suggestion = suggestion
	return e
}

// New creates a new SentryError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *SentryError {
	return &SentryError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a SentryError from an existing error.
func Wrap(code string, err error) *SentryError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *SentryError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *SentryError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *SentryError {
	return New(ErrCodeInternal, message, cause)
}

// PermissionError creates a permission-denied error for path.
func PermissionError(path string, cause error) *SentryError {
	return New(ErrCodeFilePermission, "permission denied: "+path, cause).
		WithDetail("path", path).
		WithSuggestion("Check file ownership and mode, then retry or save a copy elsewhere")
}

// TransientError creates a retryable I/O error for path.
func TransientError(path string, cause error) *SentryError {
	return New(ErrCodeTransientIO, "transient I/O failure: "+path, cause).
		WithDetail("path", path)
}

// ClassifyIO maps a raw filesystem error onto the taxonomy.
// Missing files return nil: absence is an observation, not a failure.
func ClassifyIO(path string, err error) *SentryError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EROFS):
		return PermissionError(path, err)
	case errors.Is(err, syscall.ENOSPC):
		return New(ErrCodeDiskFull, "disk full writing "+path, err).WithDetail("path", path)
	}
	var se *SentryError
	if errors.As(err, &se) {
		return se
	}
	return TransientError(path, err)
}

// IsRetryable reports whether err (or anything it wraps) is a retryable SentryError.
func IsRetryable(err error) bool {
	var se *SentryError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// IsPermission reports whether err is a permission-denied error.
func IsPermission(err error) bool {
	return GetCode(err) == ErrCodeFilePermission
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	var se *SentryError
	if errors.As(err, &se) {
		return se.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a SentryError.
// Returns empty string if err carries none.
func GetCode(err error) string {
	var se *SentryError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// GetCategory extracts the category from a SentryError.
func GetCategory(err error) Category {
	var se *SentryError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}
