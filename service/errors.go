package service

import (
	"errors"
	"fmt"
	"net/http"
)

// ServiceError is an error with the HTTP status it should be reported as.
type ServiceError struct {
	Status  int
	Message string
	Cause   error
}

func (e ServiceError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e ServiceError) Unwrap() error { return e.Cause }

func ErrNotFound(msg string) error {
	return ServiceError{Status: http.StatusNotFound, Message: msg}
}

func ErrBadRequest(msg string) error {
	return ServiceError{Status: http.StatusBadRequest, Message: msg}
}

func ErrForbidden(msg string) error {
	return ServiceError{Status: http.StatusForbidden, Message: msg}
}

func ErrUnauthorized(msg string) error {
	return ServiceError{Status: http.StatusUnauthorized, Message: msg}
}

func ErrUnavailable(msg string) error {
	return ServiceError{Status: http.StatusServiceUnavailable, Message: msg}
}

// ErrInternalIO reports a file read failure; the cause text is shown to the caller.
func ErrInternalIO(msg string, cause error) error {
	return ServiceError{Status: http.StatusInternalServerError, Message: msg, Cause: cause}
}

func WrapError(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// AsServiceError extracts a ServiceError from err.
func AsServiceError(err error) (ServiceError, bool) {
	var se ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return ServiceError{}, false
}
