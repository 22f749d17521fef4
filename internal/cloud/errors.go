package cloud

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound reports that a remote resource does not exist (or is already gone).
	ErrNotFound = errors.New("resource not found")

	// ErrNotAuthorized reports that no valid credential is available.
	ErrNotAuthorized = errors.New("not authorized")
)

// StatusError is returned for any non-2xx response from the remote store.
type StatusError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: http %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Op, e.StatusCode, e.Message)
}

// Is lets errors.Is match StatusErrors against the sentinel errors.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrNotAuthorized:
		return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
	}
	return false
}

// IsUnauthorized reports whether err means the caller must sign in again.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrNotAuthorized)
}

// IsNotFound reports whether err means the target resource does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
