package hq

import (
	"errors"
	"fmt"
)

// ErrSessionExpired indicates the session-held HQ credential is unusable and
// the user must authenticate with HQ again.
var ErrSessionExpired = errors.New("HQ session expired")

// APIError is returned when an HQ API call fails outright (transport error)
// or a caller promotes a non-2xx response to an error.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hq: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("hq: %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	return e.Err
}
