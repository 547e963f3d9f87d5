package coordinator

import (
	"errors"
	"fmt"
)

// Sentinel errors for the coordinator's error taxonomy. Use errors.Is to
// classify an error returned by a Future.
var (
	// ErrAnotherInstanceActive means a server is already running; stop it first.
	ErrAnotherInstanceActive = errors.New("another server instance is active")
	// ErrLaunchFailure wraps the server's own failure text.
	ErrLaunchFailure = errors.New("server crashed")
	// ErrInternal is a coordination invariant violation.
	ErrInternal = errors.New("internal error")
	// ErrStopFailure means the stop request could not be coordinated.
	ErrStopFailure = errors.New("stop failure")
	// ErrStopTimeout means no terminal signal arrived within the stop timeout.
	ErrStopTimeout = fmt.Errorf("%w: timed out waiting for server to exit", ErrStopFailure)
)

// Wire codes reported by Code.
const (
	CodeAnotherInstanceActive = "ANOTHER_INSTANCE_IS_ACTIVE"
	CodeLaunchFailure         = "SERVER_CRASHED"
	CodeInternal              = "INTERNAL_ERROR"
	CodeStopFailure           = "STOP_FAILURE"
	CodeStopTimeout           = "STOP_TIMEOUT"
)

// Error is a coordinator failure carrying the correlation id of the request
// it belongs to and an optional detail.
type Error struct {
	Kind          error
	CorrelationID string
	Detail        string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, correlationID, detail string) *Error {
	return &Error{Kind: kind, CorrelationID: correlationID, Detail: detail}
}

// Code returns the stable wire code for err, or "" if err is not a
// coordinator error.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAnotherInstanceActive):
		return CodeAnotherInstanceActive
	case errors.Is(err, ErrLaunchFailure):
		return CodeLaunchFailure
	case errors.Is(err, ErrStopTimeout):
		return CodeStopTimeout
	case errors.Is(err, ErrStopFailure):
		return CodeStopFailure
	case errors.Is(err, ErrInternal):
		return CodeInternal
	default:
		return ""
	}
}
