package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/sqlai-console/pkg/services"
)

// WorkspaceResolver returns the workspace for an ID, creating it if needed.
type WorkspaceResolver interface {
	Get(id string) (*services.Workspace, error)
}

// Middleware resolves the browser session to a workspace.
type Middleware struct {
	sessions   *SessionStore
	workspaces WorkspaceResolver
	logger     *zap.Logger
}

// NewMiddleware creates a new workspace middleware.
func NewMiddleware(sessions *SessionStore, workspaces WorkspaceResolver, logger *zap.Logger) *Middleware {
	return &Middleware{
		sessions:   sessions,
		workspaces: workspaces,
		logger:     logger,
	}
}

// RequireWorkspace binds the request to its session's workspace and stores
// it in the request context for handlers.
func (m *Middleware) RequireWorkspace(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := m.sessions.WorkspaceID(w, r)
		if err != nil {
			if errors.Is(err, ErrInvalidWorkspaceID) {
				_ = m.sessions.Forget(w, r)
				m.badRequest(w, "Session is invalid. Reload the page to start a new one.")
				return
			}
			m.logger.Error("Failed to resolve session", zap.Error(err))
			m.unavailable(w, "Session could not be established")
			return
		}

		ws, err := m.workspaces.Get(id)
		if err != nil {
			m.logger.Warn("Workspace unavailable",
				zap.String("workspace_id", id),
				zap.Error(err))
			m.unavailable(w, "Service is shutting down")
			return
		}

		next(w, r.WithContext(WithWorkspace(r.Context(), ws)))
	}
}

// badRequest returns a 400 response with JSON error body.
func (m *Middleware) badRequest(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "bad_request",
		"message": message,
	})
}

// unavailable returns a 503 response with JSON error body.
func (m *Middleware) unavailable(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unavailable",
		"message": message,
	})
}
