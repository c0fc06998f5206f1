// Package faults defines the error taxonomy shared by the acceptance-path
// functions. Only the registry and annotation store raise these; the hub and
// the reconciliation engine merely distinguish retryable from terminal and
// never reinterpret validation semantics.
package faults

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation marks malformed input. Never retried.
	ErrValidation = errors.New("validation failed")
	// ErrPermission marks an action the caller's role does not allow. Never retried.
	ErrPermission = errors.New("permission denied")
	// ErrNotFound marks a missing or archived room/annotation. Never retried.
	ErrNotFound = errors.New("not found")
	// ErrTransient marks store/network unavailability. Retryable with backoff.
	ErrTransient = errors.New("temporarily unavailable")
)

// Validationf returns an error wrapping ErrValidation with a formatted
// detail message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Permissionf returns an error wrapping ErrPermission with a formatted
// detail message.
func Permissionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPermission, fmt.Sprintf(format, args...))
}

// NotFoundf returns an error wrapping ErrNotFound with a formatted detail
// message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Transientf returns an error wrapping ErrTransient with a formatted detail
// message.
func Transientf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTransient, fmt.Sprintf(format, args...))
}

// Retryable reports whether the error may succeed on a later attempt.
// Unknown errors are treated as retryable so that an unclassified store
// failure is never silently dropped from the queue.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrPermission) || errors.Is(err, ErrNotFound) {
		return false
	}
	return true
}

// HTTPStatus maps a taxonomy error to an HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrPermission):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
