package assetgen

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyPayload is returned when a backend response carries no image data.
	ErrEmptyPayload = errors.New("backend returned no image payload")

	// ErrUnsupportedMediaType is returned when a payload's media type has no
	// known file extension.
	ErrUnsupportedMediaType = errors.New("unsupported media type")

	// ErrNoBackend is returned when a request names a kind with no registered backend.
	ErrNoBackend = errors.New("no backend registered for kind")

	// ErrNoSlots is returned when a run is started with no requests.
	ErrNoSlots = errors.New("no slots to run")
)

// BackendError is a single failed generation attempt. It carries enough of
// the provider's diagnostic output for the classifier to decide whether the
// failure is transient.
type BackendError struct {
	// Backend that produced the failure.
	Backend BackendKind

	// StatusCode is the HTTP status when known, 0 otherwise.
	StatusCode int

	// Diagnostic is the raw provider error body. Often JSON, sometimes with
	// the detailed error JSON-encoded as a string one level deep.
	Diagnostic string

	// Transport marks connection-level failures (DNS, refused connections,
	// request timeouts) that never carry a meaningful diagnostic body.
	Transport bool

	// Err is the underlying error from the provider SDK.
	Err error
}

func (e *BackendError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s backend failed (HTTP %d): %v", e.Backend, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s backend failed: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// AsBackendError extracts a *BackendError from an error chain.
func AsBackendError(err error) (*BackendError, bool) {
	var be *BackendError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// IsBackendError checks if an error is a BackendError.
func IsBackendError(err error) bool {
	_, ok := AsBackendError(err)
	return ok
}
