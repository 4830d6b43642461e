// Package apperrors carries the coded service error shared by the engine packages.
package apperrors

import (
	"errors"
	"fmt"
)

// ServiceError couples a stable machine-readable code with the underlying cause.
// The code has the form "<operation>.<reason>", e.g. "tasks.submit.not_submittable".
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the stable error code.
func (e *ServiceError) Code() string {
	return e.code
}

// New builds a ServiceError for the operation and reason, wrapping cause.
func New(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// CodeOf extracts the ServiceError code from err, or returns "" when err carries none.
func CodeOf(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code()
	}
	return ""
}
