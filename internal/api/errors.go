package api

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnreachable wraps transport failures: the request never got a response.
	ErrUnreachable = errors.New("backend unreachable")
	// ErrUnauthorized matches any *APIError carrying status 401.
	ErrUnauthorized = errors.New("unauthorized")
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend returned %d", e.Status)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// Describe turns an error from this package into the message shown to the
// shopper.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return "Server error. Please try again later."
	case errors.Is(err, ErrUnreachable):
		return "Cannot reach server. Check your network connection."
	default:
		return "Unexpected error occurred."
	}
}
