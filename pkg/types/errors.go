package types

import (
	"errors"
	"fmt"
)

var (
	ErrLaunch            = errors.New("session launch failed")
	ErrPairingTimeout    = errors.New("pairing payload not received in time")
	ErrNotConnected      = errors.New("session is not connected")
	ErrSendTimeout       = errors.New("send acknowledgment not received in time")
	ErrInvalidState      = errors.New("operation not valid in current session state")
	ErrSessionTerminated = errors.New("session terminated")
	ErrRetryExhausted    = errors.New("reconnection attempts exhausted")
	ErrPairingRequired   = errors.New("pairing required")
	ErrInvalidIdentifier = errors.New("invalid phone identifier")
	ErrNotFound          = errors.New("not found")
)

// LaunchError reports why the browser session could not be started.
type LaunchError struct {
	Cause error
}

func (e *LaunchError) Error() string {
	if e.Cause == nil {
		return ErrLaunch.Error()
	}
	return fmt.Sprintf("%s: %v", ErrLaunch, e.Cause)
}

func (e *LaunchError) Unwrap() error { return e.Cause }

// Is matches ErrLaunch so callers can use errors.Is without unwrapping the cause.
func (e *LaunchError) Is(target error) bool { return target == ErrLaunch }

// InvalidStateError names the operation and the state that rejected it.
type InvalidStateError struct {
	Op    string
	State SessionState
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: %s not allowed while %s", ErrInvalidState, e.Op, e.State)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }
