package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/sqlai-console/pkg/apperrors"
	"github.com/ekaya-inc/sqlai-console/pkg/logging"
	"github.com/ekaya-inc/sqlai-console/pkg/services"
)

// ApiResponse wraps data in the format expected by the frontend.
type ApiResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// errorStatus maps a service error to an HTTP status and error code.
// Anything unclassified came out of the tool client after its retries,
// so it is reported as an upstream failure.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, apperrors.ErrNotConnected):
		return http.StatusConflict, "not_connected"
	case errors.Is(err, apperrors.ErrStaleConnection):
		return http.StatusConflict, "stale_connection"
	case errors.Is(err, apperrors.ErrWorkspaceClosed):
		return http.StatusConflict, "workspace_closed"
	case errors.Is(err, apperrors.ErrToolNotFound):
		return http.StatusBadGateway, "tool_not_found"
	case errors.Is(err, apperrors.ErrToolFailed):
		return http.StatusBadGateway, "tool_failed"
	case errors.Is(err, apperrors.ErrConnectRejected):
		return http.StatusBadGateway, "connect_rejected"
	case errors.Is(err, apperrors.ErrNoStructuredContent), errors.Is(err, apperrors.ErrMissingField):
		return http.StatusBadGateway, "unexpected_response"
	case errors.Is(err, apperrors.ErrScanDeadlineExceeded):
		return http.StatusBadGateway, "scan_deadline_exceeded"
	default:
		return http.StatusBadGateway, "tool_service_unavailable"
	}
}

// writeServiceError classifies err and writes the matching error response.
func writeServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	status, code := errorStatus(err)
	if status == http.StatusBadGateway {
		logger.Warn("Tool service call failed",
			zap.String("code", code),
			zap.String("error", logging.SanitizeError(err)))
	}
	if err := ErrorResponse(w, status, code, services.UserMessage(err)); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
