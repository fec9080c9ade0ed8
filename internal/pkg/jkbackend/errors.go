package jkbackend

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMissingConfig means the tenant has no api url or credentials.
	ErrMissingConfig = errors.New("missing JK configuration")
	// ErrNotFound means the provider answered but did not return the requested entity.
	ErrNotFound = errors.New("entity not found in JK")
)

// StatusError is returned for non-2xx responses
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jk api returned status %d for %s", e.StatusCode, e.URL)
}

// Temporary reports whether retrying the call later can succeed.
func (e *StatusError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return e.StatusCode >= 500
}

// IsTemporary reports whether err is a StatusError that is worth retrying.
// Errors other than StatusError (network, timeouts) are treated as temporary.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMissingConfig) || errors.Is(err, ErrNotFound) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}
