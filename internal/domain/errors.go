// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested session or event does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates invalid input from the caller.
var ErrValidation = errors.New("validation failed")

// ErrStaleSpan indicates an attempt to close a span that is unknown or
// already closed. The trace log is left untouched when this is returned.
var ErrStaleSpan = errors.New("stale span: unknown or already closed")

// ErrInvalidConfig indicates a session configuration that cannot be
// replayed, such as an unset temperature.
var ErrInvalidConfig = errors.New("invalid session configuration")
