package api

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/cutout/internal/api/shared"
	"github.com/phrazzld/cutout/internal/platform/logger"
	"github.com/phrazzld/cutout/internal/service"
)

// DefaultMaxUploadBytes is used when the handler is given no upload limit.
const DefaultMaxUploadBytes = 10 << 20

// TaskHandler handles task submission and polling requests
type TaskHandler struct {
	taskService    service.TaskService
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(taskService service.TaskService, maxUploadBytes int64, logger *slog.Logger) *TaskHandler {
	if taskService == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("taskService cannot be nil for TaskHandler")
	}
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for TaskHandler")
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}

	return &TaskHandler{
		taskService:    taskService,
		maxUploadBytes: maxUploadBytes,
		logger:         logger.With(slog.String("component", "task_handler")),
	}
}

// SubmitTask handles POST /api/tasks requests.
// The body is a multipart form with an "image" file and an optional
// "task_id". A new task answers 202 Accepted with its ID and pending status.
func (h *TaskHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	req, data, err := readSubmission(w, r, h.maxUploadBytes)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	t, err := h.taskService.Submit(r.Context(), req.TaskID, data)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to submit task")
		return
	}

	log.Debug("task accepted",
		slog.String("task_id", t.ID),
		slog.Int("input_bytes", len(data)))
	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitTaskResponse{
		TaskID: t.ID,
		Status: t.Status,
	})
}

// GetTaskStatus handles GET /api/tasks/{id} requests.
func (h *TaskHandler) GetTaskStatus(w http.ResponseWriter, r *http.Request) {
	id, err := getPathTaskID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	view, err := h.taskService.GetStatus(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get task status")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, view)
}

// GetTaskResult handles GET /api/tasks/{id}/result requests.
// It streams the artifact of a completed task; any other status answers
// 409 Conflict.
func (h *TaskHandler) GetTaskResult(w http.ResponseWriter, r *http.Request) {
	id, err := getPathTaskID(r, "id")
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	data, err := h.taskService.GetResult(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get task result")
		return
	}

	shared.RespondWithBytes(w, r, http.StatusOK, data)
}

// Health handles GET /health requests.
func Health(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{Status: "OK"})
}
