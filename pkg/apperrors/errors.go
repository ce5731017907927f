package apperrors

import "errors"

var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrNotConnected         = errors.New("data source not connected")
	ErrStaleConnection      = errors.New("connection was replaced while the call was in flight")
	ErrToolNotFound         = errors.New("tool not found")
	ErrToolFailed           = errors.New("tool reported a failure")
	ErrNoStructuredContent  = errors.New("tool response has no structured content")
	ErrMissingField         = errors.New("tool response is missing a required field")
	ErrConnectRejected      = errors.New("data source connection rejected")
	ErrScanDeadlineExceeded = errors.New("scan did not complete before the polling deadline")
	ErrWorkspaceClosed      = errors.New("workspace closed")
)
