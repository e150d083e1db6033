package kernel

import "errors"

var (
	ErrConnectionDisposed     = errors.New("kernel connection is disposed")
	ErrConnectionDisconnected = errors.New("kernel connection is disconnected")
	ErrNotConnected           = errors.New("could not send message: status is not connected")
	ErrKernelDead             = errors.New("kernel is dead")
	ErrKernelRestarted        = errors.New("kernel was restarted")
	ErrStaleMessage           = errors.New("message belongs to a stale kernel session")
	ErrWrongChannel           = errors.New("message was sent on the wrong channel")
	ErrInvalidRequest         = errors.New("invalid request")

	ErrFutureCanceled       = errors.New("canceled future")
	ErrFutureDisposed       = errors.New("future is disposed")
	ErrFutureNotFound       = errors.New("no future found for message")
	ErrHookOnNonShellFuture = errors.New("cannot register a message hook on a non-shell future")

	ErrCommsDisabled       = errors.New("comms are disabled on this kernel connection")
	ErrCommAlreadyExists   = errors.New("comm is already created")
	ErrCommDisposed        = errors.New("comm is closed")
	ErrCommTargetNotFound  = errors.New("comm target not found")
	ErrSubshellUnavailable = errors.New("kernel did not return a subshell id")

	ErrInvalidOptions = errors.New("invalid kernel connection options")
)
