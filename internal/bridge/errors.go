package bridge

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/GriffinCanCode/trackerbridge/internal/ipc"
)

var (
	// ErrNotReady is returned when the channel handshake does not complete
	// before the caller's context ends.
	ErrNotReady = errors.New("tracker channel not ready")

	ErrOffline            = errors.New("tracker offline")
	ErrInsufficientConfig = errors.New("insufficient settings for tracker")
	// ErrExtensionNotLoaded is the insufficient-config variant for a bridge
	// without a channel to dispatch on.
	ErrExtensionNotLoaded = fmt.Errorf("%w: no host channel loaded", ErrInsufficientConfig)
	ErrAccessBlocked      = errors.New("blocked tracker access to prevent being shut out")
	ErrCookieRequired     = errors.New("tracker cookie required")
	ErrTimeout            = errors.New("tracker request timed out")
	// ErrChannelClosed fails requests still pending when the host channel
	// goes away.
	ErrChannelClosed      = fmt.Errorf("tracker request abandoned: %w", ipc.ErrClosed)
)

// HostError is the failure reported by the host for a dispatched request.
type HostError struct {
	RequestID  string
	StatusCode int
	Message    string
	// Auth is set when the failure signals rejected credentials.
	Auth bool
}

func (e *HostError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("host error %d: %s", e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("host error %d", e.StatusCode)
	case e.Message != "":
		return "host error: " + e.Message
	default:
		return "host error"
	}
}

// TransformError wraps a failure of a request's Transform.
type TransformError struct {
	RequestID string
	Err       error
}

func (e *TransformError) Error() string {
	return "invalid response: " + e.Err.Error()
}

func (e *TransformError) Unwrap() error { return e.Err }

// IsAuthFailure reports whether a host error payload signals rejected
// credentials.
func IsAuthFailure(statusCode int, message string) bool {
	return statusCode == http.StatusUnauthorized || message == "Forbidden" || message == "Unauthorized"
}
