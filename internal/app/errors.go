package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// ValidationError is a malformed or incomplete submission. Reason is shown
// to the submitter as is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// DuplicateVersionError means the version is already public.
type DuplicateVersionError struct {
	Name    string
	Version string
}

func (e *DuplicateVersionError) Error() string {
	return fmt.Sprintf("%s version %s has already been approved.", e.Name, e.Version)
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}
