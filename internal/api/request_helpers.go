package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/cutout/internal/domain"
)

const (
	// imageFormField is the multipart part carrying the image.
	imageFormField = "image"
	// taskIDFormField is the optional caller-supplied task ID.
	taskIDFormField = "task_id"
	// formOverhead is allowed on top of the image limit for the multipart
	// envelope and the other fields.
	formOverhead = 64 << 10
)

// acceptedImageTypes are the upload formats the transformers can decode.
var acceptedImageTypes = []string{"image/png", "image/jpeg", "image/gif", "image/webp"}

// getPathTaskID extracts and validates the task ID path parameter.
func getPathTaskID(r *http.Request, paramName string) (string, error) {
	id := chi.URLParam(r, paramName)
	if err := domain.ValidateTaskID(id); err != nil {
		return "", err
	}
	return id, nil
}

// readSubmission parses a multipart submission and returns its form fields
// and the image bytes. The image must be at most maxBytes long and sniff as
// one of acceptedImageTypes.
func readSubmission(w http.ResponseWriter, r *http.Request, maxBytes int64) (*SubmitTaskRequest, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+formOverhead)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, nil, fmt.Errorf("%w: limit is %d bytes", ErrUploadTooLarge, maxBytes)
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedUpload, err)
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	req := &SubmitTaskRequest{TaskID: r.FormValue(taskIDFormField)}

	file, _, err := r.FormFile(imageFormField)
	if err != nil {
		return nil, nil, ErrMissingImage
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedUpload, err)
	}
	if int64(len(data)) > maxBytes {
		return nil, nil, fmt.Errorf("%w: limit is %d bytes", ErrUploadTooLarge, maxBytes)
	}
	if len(data) == 0 {
		return nil, nil, ErrMissingImage
	}

	detected := mimetype.Detect(data)
	if !mimetype.EqualsAny(detected.String(), acceptedImageTypes...) {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedImage, detected.String())
	}

	return req, data, nil
}
