package api

import "github.com/phrazzld/cutout/internal/domain"

// SubmitTaskRequest holds the non-file fields of a submission form.
type SubmitTaskRequest struct {
	// TaskID is optional; the server generates one when it is empty.
	TaskID string `validate:"omitempty,max=255"`
}

// SubmitTaskResponse is returned with 202 Accepted for a new submission.
type SubmitTaskResponse struct {
	TaskID string            `json:"task_id"`
	Status domain.TaskStatus `json:"status"`
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}
