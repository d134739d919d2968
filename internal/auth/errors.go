package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthenticated is returned when no credentials are stored.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrReauthenticate is returned when stored credentials could not be
	// refreshed and have been erased. The user must log in again.
	ErrReauthenticate = errors.New("re-authentication required")
)

// HTTPError is a non-2xx response from an auth endpoint.
type HTTPError struct {
	Op         string
	StatusCode int
	Message    string
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("auth %s failed: %d %s", e.Op, e.StatusCode, e.Message)
}
