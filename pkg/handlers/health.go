package handlers

import (
	"net/http"
	"os"
	"runtime"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sqlai-console/pkg/config"
)

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
	Workspaces  *int   `json:"workspaces,omitempty"`
}

// WorkspaceCounter reports how many workspaces are live.
type WorkspaceCounter interface {
	Count() int
}

// HealthHandler handles health check, ping and metrics endpoints.
type HealthHandler struct {
	cfg        *config.Config
	workspaces WorkspaceCounter
	logger     *zap.Logger
}

// NewHealthHandler creates a new HealthHandler with the given configuration.
// workspaces may be nil.
func NewHealthHandler(cfg *config.Config, workspaces WorkspaceCounter, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, workspaces: workspaces, logger: logger}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ping", h.Ping)
	mux.Handle("GET /metrics", promhttp.Handler())
}

// Health handles GET /health requests.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "sqlai-console",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}
	if h.workspaces != nil {
		n := h.workspaces.Count()
		response.Workspaces = &n
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}
