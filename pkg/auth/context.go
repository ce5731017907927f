package auth

import (
	"context"

	"github.com/ekaya-inc/sqlai-console/pkg/services"
)

type contextKey string

// WorkspaceKey is the context key for the request's workspace.
const WorkspaceKey contextKey = "workspace"

// WithWorkspace returns a copy of ctx carrying ws.
func WithWorkspace(ctx context.Context, ws *services.Workspace) context.Context {
	return context.WithValue(ctx, WorkspaceKey, ws)
}

// GetWorkspace extracts the workspace injected by RequireWorkspace.
func GetWorkspace(ctx context.Context) (*services.Workspace, bool) {
	ws, ok := ctx.Value(WorkspaceKey).(*services.Workspace)
	return ws, ok && ws != nil
}
