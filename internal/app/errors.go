package app

import (
	"errors"
	"fmt"
	"net/http"

	"mveditor/api/internal/store"
)

// DomainError is an error with a stable code that maps to an HTTP status.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	Err     error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func unauthorized(message string) error {
	return domainError(http.StatusUnauthorized, "UNAUTHORIZED", message, nil)
}

func validationError(message string) error {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

// notFoundAs converts store.ErrNotFound into a 404 with the given code and
// passes other errors through.
func notFoundAs(err error, code, message string) error {
	if errors.Is(err, store.ErrNotFound) {
		return &DomainError{Status: http.StatusNotFound, Code: code, Message: message, Err: err}
	}
	return err
}

func conflictAs(err error, code, message string) error {
	if errors.Is(err, store.ErrConflict) {
		return &DomainError{Status: http.StatusConflict, Code: code, Message: message, Err: err}
	}
	return err
}
