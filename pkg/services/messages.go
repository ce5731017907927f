package services

import (
	"errors"
	"fmt"

	"github.com/ekaya-inc/sqlai-console/pkg/apperrors"
	"github.com/ekaya-inc/sqlai-console/pkg/logging"
	"github.com/ekaya-inc/sqlai-console/pkg/toolclient"
)

// UserMessage renders err for display in the transcript.
func UserMessage(err error) string {
	var toolErr *toolclient.ToolError
	var notFound *toolclient.ToolNotFoundError

	switch {
	case err == nil:
		return ""
	case errors.Is(err, apperrors.ErrNotConnected):
		return "Connect to a data source first."
	case errors.Is(err, apperrors.ErrStaleConnection):
		return "The connection changed before the answer arrived. Please ask again."
	case errors.As(err, &notFound):
		return fmt.Sprintf("The tool service does not provide %q. Check the deployment.", notFound.Tool)
	case errors.As(err, &toolErr):
		return "Error: " + logging.SanitizeText(toolErr.Message)
	case errors.Is(err, apperrors.ErrNoStructuredContent), errors.Is(err, apperrors.ErrMissingField):
		return "The tool service returned an unexpected response."
	case errors.Is(err, apperrors.ErrConnectRejected):
		return "The tool service rejected the data source."
	case errors.Is(err, apperrors.ErrScanDeadlineExceeded):
		return "The scan did not finish in time."
	case errors.Is(err, apperrors.ErrWorkspaceClosed):
		return "The session expired. Reload the page to start over."
	default:
		return "Error: " + logging.SanitizeError(err)
	}
}
