package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/sqlai-console/pkg/auth"
	"github.com/ekaya-inc/sqlai-console/pkg/models"
	"github.com/ekaya-inc/sqlai-console/pkg/services"
)

// QuestionRequest for POST /api/query and POST /api/chat bodies.
type QuestionRequest struct {
	Question string `json:"qry"`
}

// ScanStatusResponse describes the scan state machine of a workspace.
type ScanStatusResponse struct {
	Phase models.ScanPhase `json:"phase"`
	Job   *models.ScanJob  `json:"job,omitempty"`
}

// TranscriptResponse wraps the transcript entries, oldest first.
type TranscriptResponse struct {
	Entries []*models.TranscriptEntry `json:"entries" yaml:"entries"`
}

// ConsoleHandler serves the console API of the caller's workspace.
type ConsoleHandler struct {
	logger *zap.Logger
}

// NewConsoleHandler creates a new console handler.
func NewConsoleHandler(logger *zap.Logger) *ConsoleHandler {
	return &ConsoleHandler{logger: logger.Named("console")}
}

// RegisterRoutes registers the console routes. Every route is bound to the
// workspace of the caller's browser session.
func (h *ConsoleHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("POST /api/connect", authMiddleware.RequireWorkspace(h.Connect))
	mux.HandleFunc("POST /api/disconnect", authMiddleware.RequireWorkspace(h.Disconnect))
	mux.HandleFunc("GET /api/connection", authMiddleware.RequireWorkspace(h.Connection))
	mux.HandleFunc("POST /api/scan", authMiddleware.RequireWorkspace(h.StartScan))
	mux.HandleFunc("GET /api/scan", authMiddleware.RequireWorkspace(h.ScanStatus))
	mux.HandleFunc("POST /api/scan/progress", authMiddleware.RequireWorkspace(h.ScanProgress))
	mux.HandleFunc("POST /api/query", authMiddleware.RequireWorkspace(h.Query))
	mux.HandleFunc("POST /api/chat", authMiddleware.RequireWorkspace(h.Chat))
	mux.HandleFunc("GET /api/transcript", authMiddleware.RequireWorkspace(h.Transcript))
	mux.HandleFunc("DELETE /api/transcript", authMiddleware.RequireWorkspace(h.ClearTranscript))
}

// Connect handles POST /api/connect.
func (h *ConsoleHandler) Connect(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	var req services.ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.invalidBody(w)
		return
	}

	conn, err := ws.Connect(r.Context(), req)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}

	h.respond(w, http.StatusOK, conn)
}

// Disconnect handles POST /api/disconnect.
func (h *ConsoleHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	h.respond(w, http.StatusOK, ws.Disconnect(r.Context()))
}

// Connection handles GET /api/connection.
func (h *ConsoleHandler) Connection(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	h.respond(w, http.StatusOK, ws.Connection.Current())
}

// StartScan handles POST /api/scan.
func (h *ConsoleHandler) StartScan(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	job, err := ws.Scan.StartScan(r.Context())
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	h.respond(w, http.StatusAccepted, job)
}

// ScanStatus handles GET /api/scan. It never calls the tool service.
func (h *ConsoleHandler) ScanStatus(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	resp := ScanStatusResponse{Phase: ws.Scan.Phase()}
	if job, ok := ws.Scan.Job(); ok {
		resp.Job = &job
	}
	h.respond(w, http.StatusOK, resp)
}

// ScanProgress handles POST /api/scan/progress.
func (h *ConsoleHandler) ScanProgress(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	job, err := ws.Scan.PollOnce(r.Context())
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	h.respond(w, http.StatusOK, job)
}

// Query handles POST /api/query. Failures are HTTP errors and the
// transcript is not touched.
func (h *ConsoleHandler) Query(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	var req QuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.invalidBody(w)
		return
	}

	result, err := ws.Query.Submit(r.Context(), req.Question)
	if err != nil {
		writeServiceError(w, err, h.logger)
		return
	}
	h.respond(w, http.StatusOK, result)
}

// Chat handles POST /api/chat. The question and its answer are recorded in
// the transcript and a failed answer is returned as an error entry with 200.
func (h *ConsoleHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	var req QuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.invalidBody(w)
		return
	}

	h.respond(w, http.StatusOK, ws.Query.Ask(r.Context(), req.Question))
}

// Transcript handles GET /api/transcript.
// Query parameters: limit (newest N entries), format=yaml for an export.
func (h *ConsoleHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		limit = n
	}

	entries, err := ws.Transcript.Entries(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to load transcript", zap.String("workspace_id", ws.ID), zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to load transcript"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if entries == nil {
		entries = []*models.TranscriptEntry{}
	}
	resp := TranscriptResponse{Entries: entries}

	if r.URL.Query().Get("format") == "yaml" {
		out, err := yaml.Marshal(resp)
		if err != nil {
			h.logger.Error("Failed to encode transcript", zap.Error(err))
			if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to encode transcript"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.Header().Set("Content-Disposition", `attachment; filename="transcript.yaml"`)
		_, _ = w.Write(out)
		return
	}

	h.respond(w, http.StatusOK, resp)
}

// ClearTranscript handles DELETE /api/transcript.
func (h *ConsoleHandler) ClearTranscript(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	if err := ws.Transcript.Clear(r.Context()); err != nil {
		h.logger.Error("Failed to clear transcript", zap.String("workspace_id", ws.ID), zap.Error(err))
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to clear transcript"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConsoleHandler) workspace(w http.ResponseWriter, r *http.Request) (*services.Workspace, bool) {
	ws, ok := auth.GetWorkspace(r.Context())
	if !ok {
		if err := ErrorResponse(w, http.StatusInternalServerError, "internal_error", "No workspace bound to request"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return nil, false
	}
	return ws, true
}

func (h *ConsoleHandler) invalidBody(w http.ResponseWriter) {
	if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}

func (h *ConsoleHandler) respond(w http.ResponseWriter, status int, data any) {
	if err := WriteJSON(w, status, ApiResponse{Success: true, Data: data}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
