package models

import (
	"errors"
	"fmt"
)

// ErrValidation represents a validation error with field and message.
// Validation errors are rejected synchronously at the API boundary and
// never reach the process supervisor.
type ErrValidation struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ErrValidation) Error() string {
	return fmt.Sprintf("validation error on field %s: %s", e.Field, e.Message)
}

// ErrConflict represents a resource conflict (duplicate session name while
// running, output port already bound). Rejected synchronously.
type ErrConflict struct {
	Resource string
	Message  string
}

// Error implements the error interface.
func (e ErrConflict) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Resource, e.Message)
}

// IsConflict reports whether err is an ErrConflict.
func IsConflict(err error) bool {
	var c ErrConflict
	return errors.As(err, &c)
}

// IsValidation reports whether err is an ErrValidation.
func IsValidation(err error) bool {
	var v ErrValidation
	return errors.As(err, &v)
}

// Common errors.
var (
	// ErrUnknownFormat indicates an output format outside the supported set.
	ErrUnknownFormat = errors.New("unknown output format")

	// ErrSessionNotFound indicates the named session is not registered.
	ErrSessionNotFound = errors.New("stream session not found")

	// ErrSessionNotRunning indicates an operation that requires a RUNNING session.
	ErrSessionNotRunning = errors.New("stream session is not running")

	// ErrSessionExists indicates a duplicate session name while the existing
	// session is not STOPPED or ERROR.
	ErrSessionExists = errors.New("stream session with this name is already active")

	// ErrPortInUse indicates the requested listening port is bound by another
	// active output target.
	ErrPortInUse = errors.New("output port is already in use")

	// ErrNameRequired indicates a required name field is empty.
	ErrNameRequired = errors.New("name is required")

	// ErrSourceURLRequired indicates a required source URL field is empty.
	ErrSourceURLRequired = errors.New("source_url is required")

	// ErrNoOutputFormats indicates a start request without output formats.
	ErrNoOutputFormats = errors.New("at least one output format is required")

	// ErrInvalidEvent indicates a malformed cue event (CUE-OUT without a
	// positive duration).
	ErrInvalidEvent = errors.New("invalid cue event")

	// ErrPresetNotFound indicates a stream preset was not found.
	ErrPresetNotFound = errors.New("stream preset not found")
)
