package errors

import (
	"fmt"
	"net/http"
)

// APIError is the error body returned by the marketplace REST API.
type APIError struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Text returns the most descriptive message in the body.
func (e APIError) Text() string {
	if e.Error != "" {
		return e.Error
	}
	return e.Message
}

// HTTPError represents a non-2xx HTTP response from the REST API.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Is makes 401 responses match ErrUnauthorized.
func (e *HTTPError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}
