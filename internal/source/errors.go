package source

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrTransient marks failures that should abort the current cycle and be
// retried on the next one: timeouts, connection failures and 5xx responses.
var ErrTransient = errors.New("transient origin failure")

// StatusError is a non-2xx origin response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// Is makes server errors match ErrTransient.
func (e *StatusError) Is(target error) bool {
	return target == ErrTransient && e.Code >= http.StatusInternalServerError
}
