package gemini

import "errors"

// Error definitions for the gemini package.
var (
	// ErrInvalidConfig is returned when the transformer configuration is invalid.
	ErrInvalidConfig = errors.New("invalid gemini configuration")

	// ErrEmptyInput is returned when there is no image to send.
	ErrEmptyInput = errors.New("input image cannot be empty")
)
