// Package errs defines the error classes shared by ingestion, retrieval and grading.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound: no corpus, object or job exists for the given key.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput: malformed request shape, empty document or empty chunk set.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUpstream: storage, embedding or oracle call failed or timed out.
	ErrUpstream = errors.New("upstream failure")
	// ErrParse: oracle output is not valid structured output.
	ErrParse = errors.New("parse failure")
)

// NotFound returns an error wrapping ErrNotFound.
func NotFound(format string, args ...any) error {
	return wrap(ErrNotFound, format, args...)
}

// InvalidInput returns an error wrapping ErrInvalidInput.
func InvalidInput(format string, args ...any) error {
	return wrap(ErrInvalidInput, format, args...)
}

// Upstream returns an error wrapping ErrUpstream and, when non-nil, cause.
func Upstream(cause error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if cause == nil {
		return fmt.Errorf("%w: %s", ErrUpstream, msg)
	}
	return fmt.Errorf("%w: %s: %w", ErrUpstream, msg, cause)
}

// Parse returns an error wrapping ErrParse.
func Parse(format string, args ...any) error {
	return wrap(ErrParse, format, args...)
}

func wrap(class error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", class, fmt.Sprintf(format, args...))
}

// HTTPStatus maps an error class to the status code the API responds with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrParse):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
