// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when a task ID is empty or malformed.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidStatus is returned when a status value is not one of the
	// known task statuses.
	ErrInvalidStatus = errors.New("invalid task status")

	// ErrTerminalState is returned when a transition would move a task out
	// of a state it can never leave.
	ErrTerminalState = errors.New("task is in a terminal state")

	// ErrEmptyLocator is returned when a task is completed without a
	// result locator.
	ErrEmptyLocator = errors.New("result locator cannot be empty")
)
