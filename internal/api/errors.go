package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/phrazzld/cutout/internal/api/middleware"
	"github.com/phrazzld/cutout/internal/api/shared"
	"github.com/phrazzld/cutout/internal/domain"
	"github.com/phrazzld/cutout/internal/service"
	"github.com/phrazzld/cutout/internal/store"
	"github.com/phrazzld/cutout/internal/task"
)

// Upload errors reported while reading a submission.
var (
	// ErrMissingImage is returned when the multipart form has no image part
	// or the part is empty.
	ErrMissingImage = errors.New("image file is required")

	// ErrUnsupportedImage is returned when the uploaded bytes are not one of
	// the accepted image formats.
	ErrUnsupportedImage = errors.New("unsupported image format")

	// ErrUploadTooLarge is returned when the upload exceeds the size limit.
	ErrUploadTooLarge = errors.New("upload too large")

	// ErrMalformedUpload is returned when the body is not a valid multipart form.
	ErrMalformedUpload = errors.New("malformed upload")
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Authentication errors
	case errors.Is(err, middleware.ErrInvalidToken),
		errors.Is(err, middleware.ErrExpiredToken):
		return http.StatusUnauthorized

	// Not found errors
	case errors.Is(err, service.ErrTaskNotFound),
		errors.Is(err, service.ErrResultMissing),
		errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, service.ErrTaskExists),
		errors.Is(err, service.ErrTaskNotCompleted),
		errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict

	// Bad request errors
	case errors.Is(err, domain.ErrInvalidID),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, service.ErrEmptyInput),
		errors.Is(err, ErrMissingImage),
		errors.Is(err, ErrUnsupportedImage),
		errors.Is(err, ErrMalformedUpload):
		return http.StatusBadRequest

	case errors.Is(err, ErrUploadTooLarge):
		return http.StatusRequestEntityTooLarge

	// The queue cannot take more work right now
	case errors.Is(err, task.ErrQueueFull),
		errors.Is(err, task.ErrQueueClosed):
		return http.StatusServiceUnavailable

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, middleware.ErrExpiredToken):
		return "Token expired"

	case errors.Is(err, middleware.ErrInvalidToken):
		return "Invalid token"

	case errors.Is(err, service.ErrTaskNotFound),
		errors.Is(err, store.ErrNotFound):
		return "Task not found"

	case errors.Is(err, service.ErrResultMissing):
		return "Task result is no longer available"

	case errors.Is(err, service.ErrTaskExists),
		errors.Is(err, store.ErrDuplicate):
		return "Task ID already exists"

	case errors.Is(err, service.ErrTaskNotCompleted):
		return "Task has not completed"

	case errors.Is(err, domain.ErrInvalidID):
		return "Invalid task ID"

	case errors.Is(err, service.ErrEmptyInput),
		errors.Is(err, ErrMissingImage):
		return "Image file is required"

	case errors.Is(err, ErrUnsupportedImage):
		return "Unsupported image format"

	case errors.Is(err, ErrUploadTooLarge):
		return "Image file too large"

	case errors.Is(err, ErrMalformedUpload):
		return "Invalid request format"

	case errors.Is(err, domain.ErrValidation):
		return "Invalid request data"

	case errors.Is(err, task.ErrQueueFull),
		errors.Is(err, task.ErrQueueClosed):
		return "Service is busy, try again later"

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes the status code and safe message for err. A
// non-empty fallback replaces the generic message of unmapped errors.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && fallback != "" {
		message = fallback
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	errMsg := err.Error()

	// Example format: "Key: 'SubmitTaskRequest.TaskID' Error:Field validation for 'TaskID' failed on the 'max' tag"
	if strings.Contains(errMsg, "Field validation") {
		parts := strings.Split(errMsg, "Error:")
		if len(parts) >= 2 {
			fieldParts := strings.Split(parts[1], "'")
			if len(fieldParts) >= 3 {
				field := fieldParts[1]
				var tag string
				if len(fieldParts) >= 5 {
					tag = fieldParts[3]
				}

				if tag != "" {
					return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(tag))
				}
				return fmt.Sprintf("Invalid %s", field)
			}
		}
	}

	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
