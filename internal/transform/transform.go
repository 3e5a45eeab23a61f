// Package transform defines the image transformation run by the executor
// and provides a local background-removal implementation.
package transform

import (
	"context"
	"errors"
	"fmt"
)

// Transformer turns an input image into an output PNG. Implementations may
// be slow and must honor ctx cancellation. A Transformer is created once at
// worker startup and shared by all workers, so it must be safe for
// concurrent use.
type Transformer interface {
	Transform(ctx context.Context, input []byte) ([]byte, error)
}

// Func adapts an ordinary function to the Transformer interface.
type Func func(ctx context.Context, input []byte) ([]byte, error)

// Transform calls f.
func (f Func) Transform(ctx context.Context, input []byte) ([]byte, error) {
	return f(ctx, input)
}

// Error kinds reported by transformers.
const (
	KindInvalidImage = "InvalidImage"
	KindEncode       = "EncodeError"
	KindModel        = "ModelError"
	KindBlocked      = "ContentBlocked"
	KindEmptyResult  = "EmptyResult"
)

// ErrTransform is wrapped by every *Error.
var ErrTransform = errors.New("transformation failed")

// Error is a transformation failure with a short machine-readable kind,
// which becomes the prefix of a task's error detail.
type Error struct {
	Kind string
	Err  error
}

// Errorf builds an *Error of the given kind.
func Errorf(kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	return e.Kind + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports ErrTransform so callers can classify any transformer failure.
func (e *Error) Is(target error) bool {
	return target == ErrTransform
}
