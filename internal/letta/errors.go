package letta

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the server reports 404 for a resource.
// Callers branch on it with errors.Is.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx server response that is not a plain 404.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned status %d", e.Status)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Status, e.Message)
}
