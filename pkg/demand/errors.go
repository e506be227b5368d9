package demand

import (
	"errors"
	"fmt"

	"github.com/keboola/go-demand/pkg/transport"
)

var (
	// ErrInvalidURL is returned by New for an empty or malformed URL.
	ErrInvalidURL = errors.New("invalid demand URL")
	// ErrInvalidMethod is returned by Raw for an empty or malformed HTTP method.
	ErrInvalidMethod = errors.New("invalid demand method")
	// ErrInvalidAsync is returned by Raw if more than one async flag is given.
	ErrInvalidAsync = errors.New("invalid demand async flag")
	// ErrAborted is reported by Err and Wait after the exchange has been aborted.
	ErrAborted = transport.ErrAborted
)

// StatusError is reported by Err and Wait if the exchange has been completed with a non-2xx status.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	StatusText string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf(`request %s "%s" failed: %s`, e.Method, e.URL, e.StatusText)
}
