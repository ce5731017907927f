package toolclient

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ekaya-inc/sqlai-console/pkg/apperrors"
)

// ErrMalformedResponse is returned when the service answers a call with
// an empty result. It is treated as transient.
var ErrMalformedResponse = errors.New("tool service returned an empty result")

// ToolNotFoundError means the service does not advertise the requested tool.
// It indicates a misconfigured deployment and is never retried.
type ToolNotFoundError struct {
	Tool      string
	Available []string
}

func (e *ToolNotFoundError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("tool %q not found: service advertises no tools", e.Tool)
	}
	return fmt.Sprintf("tool %q not found (available: %s)", e.Tool, strings.Join(e.Available, ", "))
}

func (e *ToolNotFoundError) Unwrap() error { return apperrors.ErrToolNotFound }

func (e *ToolNotFoundError) IsRetryable() bool { return false }

// ToolError is a failure reported by the tool itself (isError=true).
// The call reached the service and ran, so repeating it would not help.
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tool %q failed", e.Tool)
	}
	return fmt.Sprintf("tool %q failed: %s", e.Tool, e.Message)
}

func (e *ToolError) Unwrap() error { return apperrors.ErrToolFailed }

func (e *ToolError) IsRetryable() bool { return false }
