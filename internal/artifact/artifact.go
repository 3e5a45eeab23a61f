// Package artifact defines the contract for storing transformation outputs.
//
// Artifacts are addressed by a locator derived from the task ID. The locator
// is stored on the task record and stays valid for the lifetime of the
// artifact; backends map it onto their own key space.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/phrazzld/cutout/internal/domain"
)

var (
	// ErrNotFound is returned when no artifact exists at a locator.
	ErrNotFound = errors.New("artifact not found")

	// ErrStorage is returned when the backend fails for infrastructure reasons.
	ErrStorage = errors.New("artifact storage failure")

	// ErrInvalidLocator is returned for locators this scheme never produces.
	ErrInvalidLocator = errors.New("invalid artifact locator")
)

const (
	locatorPrefix = "processed/"
	locatorSuffix = ".png"
)

// Store persists artifact bytes.
type Store interface {
	// Put writes data for the task and returns its locator. Writing the
	// same task again replaces the previous artifact.
	Put(ctx context.Context, taskID string, data []byte) (string, error)

	// Get returns the bytes stored at locator, or ErrNotFound.
	Get(ctx context.Context, locator string) ([]byte, error)

	// Delete removes the artifact at locator. Returns ErrNotFound if it
	// was already gone.
	Delete(ctx context.Context, locator string) error
}

// Locator returns the locator for a task's artifact: processed/<id>.png.
func Locator(taskID string) string {
	return locatorPrefix + taskID + locatorSuffix
}

// ValidateLocator checks that locator has the form produced by Locator with
// a valid task ID, which keeps it safe to use as a path or object key.
func ValidateLocator(locator string) error {
	if !strings.HasPrefix(locator, locatorPrefix) || !strings.HasSuffix(locator, locatorSuffix) {
		return fmt.Errorf("%w: %q", ErrInvalidLocator, locator)
	}
	id := strings.TrimSuffix(strings.TrimPrefix(locator, locatorPrefix), locatorSuffix)
	if err := domain.ValidateTaskID(id); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLocator, locator)
	}
	return nil
}
