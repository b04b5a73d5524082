// Package mcp implements the Model Context Protocol (MCP) server for mdsentry.
// It lets an AI client inspect and resolve file conflicts while an editor
// session is running.
package mcp

import (
	"context"
	"errors"
	"fmt"

	serrors "github.com/Aman-CERP/mdsentry/internal/errors"
)

// Custom MCP error codes for mdsentry.
const (
	// ErrCodeUnknownConflict indicates the conflict ID is not pending or in flight.
	ErrCodeUnknownConflict = -32001

	// ErrCodeUnknownDocument indicates the path is not tracked.
	ErrCodeUnknownDocument = -32002

	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout = -32003

	// ErrCodeFileNotFound indicates a file no longer exists on disk.
	ErrCodeFileNotFound = -32004

	// ErrCodeFileTooLarge indicates a file is too large to return.
	ErrCodeFileTooLarge = -32005

	// ErrCodePermission indicates the file cannot be read or written.
	ErrCodePermission = -32006

	// ErrCodeUnavailable indicates the coordinator has shut down.
	ErrCodeUnavailable = -32007

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Sentinel errors for internal use.
var (
	// ErrToolNotFound indicates the requested tool does not exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidParams indicates invalid parameters were provided.
	ErrInvalidParams = errors.New("invalid parameters")

	// ErrResourceNotFound indicates the requested resource does not exist.
	ErrResourceNotFound = errors.New("resource not found")
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	var se *serrors.SentryError
	if errors.As(err, &se) {
		return mapSentryError(se)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request timed out.",
		}
	case errors.Is(err, context.Canceled):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request was canceled.",
		}
	case errors.Is(err, ErrToolNotFound):
		return &MCPError{
			Code:    ErrCodeMethodNotFound,
			Message: "Tool not found.",
		}
	case errors.Is(err, ErrInvalidParams):
		return &MCPError{
			Code:    ErrCodeInvalidParams,
			Message: "Invalid parameters.",
		}
	case errors.Is(err, ErrResourceNotFound):
		return &MCPError{
			Code:    ErrCodeMethodNotFound,
			Message: "Resource not found.",
		}
	default:
		return &MCPError{
			Code:    ErrCodeInternalError,
			Message: "Internal server error.",
		}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{
		Code:    ErrCodeInvalidParams,
		Message: msg,
	}
}

// NewMethodNotFoundError creates an error for unknown methods/tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", name),
	}
}

// NewResourceNotFoundError creates an error for unknown resources.
func NewResourceNotFoundError(uri string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Resource '%s' not found.", uri),
	}
}

// mapSentryError converts a SentryError to an MCPError.
func mapSentryError(se *serrors.SentryError) *MCPError {
	message := se.Message
	if se.Suggestion != "" {
		message = fmt.Sprintf("%s %s", se.Message, se.Suggestion)
	}

	code := ErrCodeInternalError
	switch se.Code {
	case serrors.ErrCodeUnknownConflict:
		code = ErrCodeUnknownConflict
	case serrors.ErrCodeUnknownDocument:
		code = ErrCodeUnknownDocument
	case serrors.ErrCodeFileNotFound, serrors.ErrCodeMissingInclude:
		code = ErrCodeFileNotFound
	case serrors.ErrCodeFileTooLarge:
		code = ErrCodeFileTooLarge
	case serrors.ErrCodeFilePermission:
		code = ErrCodePermission
	case serrors.ErrCodeClosed:
		code = ErrCodeUnavailable
	default:
		if se.Category == serrors.CategoryValidation {
			code = ErrCodeInvalidParams
		}
	}
	return &MCPError{Code: code, Message: message}
}
