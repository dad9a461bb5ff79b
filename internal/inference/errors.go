package inference

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// TransientError marks a backend failure worth retrying: timeouts,
// throttling, 5xx-equivalents.
type TransientError struct {
	Backend string
	Err     error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient backend error: %v", e.Backend, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a backend failure that retrying cannot fix:
// auth failures, malformed requests, unsupported input.
type PermanentError struct {
	Backend string
	Err     error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: permanent backend error: %v", e.Backend, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err should follow the retry path.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

// classifyHTTPStatus buckets a non-2xx response into the error taxonomy.
func classifyHTTPStatus(backend string, status int, body string) error {
	err := fmt.Errorf("unexpected status %d: %s", status, body)
	switch {
	case status == http.StatusRequestTimeout,
		status == http.StatusTooManyRequests,
		status >= 500:
		return &TransientError{Backend: backend, Err: err}
	default:
		return &PermanentError{Backend: backend, Err: err}
	}
}

// classifyRequestError buckets a transport-level failure. Timeouts and
// cancellations retry; anything else is assumed reachable-next-time too.
func classifyRequestError(backend string, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransientError{Backend: backend, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransientError{Backend: backend, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &PermanentError{Backend: backend, Err: err}
	}
	return &TransientError{Backend: backend, Err: err}
}
