package forum

import (
	"errors"
	"fmt"
	"strings"
)

// APIError is a non-2xx response from the forum API.
type APIError struct {
	StatusCode int
	Message    string
}

func (err *APIError) Error() string {
	return fmt.Sprintf("forum: HTTP %d: %s", err.StatusCode, err.Message)
}

// IsNotFound reports whether err is a 404 from the forum API.
func IsNotFound(err error) bool {
	var apiError *APIError
	return errors.As(err, &apiError) && apiError.StatusCode == 404
}

// errorBody matches Discourse's error envelope.
type errorBody struct {
	Errors    []string `json:"errors"`
	ErrorType string   `json:"error_type"`
}

func (b errorBody) message() string {
	if len(b.Errors) > 0 {
		return strings.Join(b.Errors, "; ")
	}
	return b.ErrorType
}
