// Package errors defines the failure kinds raised by the asset staging
// pipeline and the HTTP status each kind maps to.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies a pipeline failure. Callers branch on the kind to decide
// whether a failure is retryable and how it surfaces to the client.
type Kind struct {
	// Code is the machine-readable name (e.g., "ObjectCopyError").
	Code string
	// Message is a human-readable description of the kind.
	Message string
	// HTTPStatus is the status code returned by the API layer.
	HTTPStatus int
	// Retryable reports whether the caller may retry the same operation.
	Retryable bool
}

// Error implements the error interface so that kinds can be matched with
// errors.Is against a wrapped *PipelineError.
func (k *Kind) Error() string {
	return k.Code + ": " + k.Message
}

// Pre-defined failure kinds.
var (
	// ErrSigning is returned when the object store cannot produce an upload URL.
	ErrSigning = &Kind{
		Code:       "SigningError",
		Message:    "Could not create a signed upload URL",
		HTTPStatus: http.StatusBadGateway,
		Retryable:  true,
	}

	// ErrRegistryWrite is returned when a claim cannot be written to the registry.
	ErrRegistryWrite = &Kind{
		Code:       "RegistryWriteError",
		Message:    "The asset registry could not be updated",
		HTTPStatus: http.StatusServiceUnavailable,
		Retryable:  true,
	}

	// ErrRegistryRead is returned when a claim lookup fails.
	ErrRegistryRead = &Kind{
		Code:       "RegistryReadError",
		Message:    "The asset registry could not be read",
		HTTPStatus: http.StatusServiceUnavailable,
		Retryable:  true,
	}

	// ErrObjectCopy is returned when the staging-to-permanent copy fails.
	ErrObjectCopy = &Kind{
		Code:       "ObjectCopyError",
		Message:    "The staged object could not be copied to permanent storage",
		HTTPStatus: http.StatusBadGateway,
		Retryable:  true,
	}

	// ErrObjectDelete is returned when the staged copy cannot be removed.
	ErrObjectDelete = &Kind{
		Code:       "ObjectDeleteError",
		Message:    "The staged object could not be deleted",
		HTTPStatus: http.StatusBadGateway,
		Retryable:  true,
	}

	// ErrUploadNotFound is returned when a confirmed key has no staged object.
	ErrUploadNotFound = &Kind{
		Code:       "UploadNotFoundError",
		Message:    "No uploaded object exists for the staging key",
		HTTPStatus: http.StatusNotFound,
		Retryable:  true,
	}

	// ErrObjectLookup is returned when the store cannot say whether a
	// staged object exists.
	ErrObjectLookup = &Kind{
		Code:       "ObjectLookupError",
		Message:    "The object store could not be queried",
		HTTPStatus: http.StatusBadGateway,
		Retryable:  true,
	}

	// ErrIllegalKey is returned for a blank or malformed staging key.
	ErrIllegalKey = &Kind{
		Code:       "IllegalKeyError",
		Message:    "The staging key must be a non-blank single path segment",
		HTTPStatus: http.StatusBadRequest,
	}
)

// PipelineError records which operation failed, for which staging key, and
// the underlying cause.
type PipelineError struct {
	Kind *Kind
	// Op is the pipeline operation (e.g., "promote", "confirm").
	Op string
	// Key is the staging key involved, if any.
	Key string
	// Err is the underlying store or registry error.
	Err error
}

// New builds a PipelineError of the given kind.
func New(kind *Kind, op, key string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Op: op, Key: key, Err: err}
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Op, e.Kind.Code)
	if e.Key != "" {
		msg += fmt.Sprintf(" (key %q)", e.Key)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is matches a PipelineError against its Kind.
func (e *PipelineError) Is(target error) bool {
	k, ok := target.(*Kind)
	return ok && k == e.Kind
}

// KindOf returns the Kind of a pipeline error, or nil when err does not wrap one.
func KindOf(err error) *Kind {
	var pe *PipelineError
	if stderrors.As(err, &pe) {
		return pe.Kind
	}
	return nil
}

// HTTPStatus maps err to the status code the API should return.
func HTTPStatus(err error) int {
	if k := KindOf(err); k != nil {
		return k.HTTPStatus
	}
	return http.StatusInternalServerError
}
