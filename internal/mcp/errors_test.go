package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/Aman-CERP/mdsentry/internal/errors"
)

func TestMapError_NilError(t *testing.T) {
	assert.Nil(t, MapError(nil))
}

func TestMapError_Context(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", context.DeadlineExceeded, "timed out"},
		{"canceled", fmt.Errorf("wrapped: %w", context.Canceled), "canceled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MapError(tt.err)
			require.NotNil(t, result)
			assert.Equal(t, ErrCodeTimeout, result.Code)
			assert.Contains(t, result.Message, tt.want)
		})
	}
}

func TestMapError_SentryErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown conflict", serrors.New(serrors.ErrCodeUnknownConflict, "no such conflict", nil), ErrCodeUnknownConflict},
		{"unknown document", serrors.New(serrors.ErrCodeUnknownDocument, "not tracked", nil), ErrCodeUnknownDocument},
		{"file not found", serrors.New(serrors.ErrCodeFileNotFound, "gone", nil), ErrCodeFileNotFound},
		{"permission", serrors.PermissionError("/docs/a.md", errors.New("denied")), ErrCodePermission},
		{"closed", serrors.New(serrors.ErrCodeClosed, "closed", nil), ErrCodeUnavailable},
		{"not offered", serrors.New(serrors.ErrCodeActionNotOffered, "not offered", nil), ErrCodeInvalidParams},
		{"validation", serrors.ValidationError("bad input", nil), ErrCodeInvalidParams},
		{"internal", serrors.InternalError("boom", nil), ErrCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// When: mapping a wrapped coded error
			result := MapError(fmt.Errorf("context: %w", tt.err))

			// Then: the MCP code follows the error code
			require.NotNil(t, result)
			assert.Equal(t, tt.want, result.Code)
		})
	}
}

func TestMapError_IncludesSuggestion(t *testing.T) {
	// Given: an error with a suggestion
	err := serrors.New(serrors.ErrCodeUnknownConflict, "Conflict not found.", nil).
		WithSuggestion("Call list_conflicts for current IDs.")

	// When: mapping
	result := MapError(err)

	// Then: the suggestion is appended
	assert.Equal(t, "Conflict not found. Call list_conflicts for current IDs.", result.Message)
}

func TestMapError_PassesThroughMCPError(t *testing.T) {
	in := NewInvalidParamsError("conflict_id is required")

	assert.Same(t, in, MapError(in))
}

func TestMapError_Unknown(t *testing.T) {
	result := MapError(errors.New("mystery"))

	require.NotNil(t, result)
	assert.Equal(t, ErrCodeInternalError, result.Code)
	assert.NotContains(t, result.Message, "mystery")
}

func TestMCPError_Error(t *testing.T) {
	err := NewMethodNotFoundError("nope")

	assert.Equal(t, "MCP error -32601: Tool 'nope' not found.", err.Error())
	assert.Equal(t, "MCP error -32601: Resource 'x://y' not found.", NewResourceNotFoundError("x://y").Error())
}
