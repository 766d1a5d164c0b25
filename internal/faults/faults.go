// Package faults defines the failure categories shared across the pool,
// drivers, dispatcher, and messaging layers. Wrap these with errors.Wrap to
// add context while keeping errors.Is checks working.
package faults

import "github.com/cockroachdb/errors"

var (
	// ErrSessionExpired means cookie or session verification failed at login;
	// the stored session is stale and the account needs re-connection.
	ErrSessionExpired = errors.New("session expired")

	// ErrAutomation means an expected DOM element or control never appeared,
	// or submitting had no observable effect.
	ErrAutomation = errors.New("automation failure")

	// ErrTimeout means no response arrived within the bounded wait.
	ErrTimeout = errors.New("timeout")

	// ErrUnsupported means routing received a platform/action combination
	// that is not implemented.
	ErrUnsupported = errors.New("unsupported platform or action")

	// ErrProtocol means a malformed message: missing type, stale timestamp,
	// or a frame that cannot be parsed.
	ErrProtocol = errors.New("protocol error")

	// ErrNotFound means the referenced record does not exist.
	ErrNotFound = errors.New("not found")
)

// Code maps an error to the stable code recorded on failed job records.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrSessionExpired):
		return "SessionExpired"
	case errors.Is(err, ErrAutomation):
		return "AutomationFailure"
	case errors.Is(err, ErrTimeout):
		return "Timeout"
	case errors.Is(err, ErrUnsupported):
		return "UnsupportedPlatformOrAction"
	case errors.Is(err, ErrProtocol):
		return "ProtocolError"
	default:
		return "InternalError"
	}
}
