package realtime

import (
	"errors"
	"fmt"
)

// Close codes sent to clients when the server ends a session.
const (
	CloseNormal           = 1000
	CloseGoingAway        = 1001
	CloseTryAgainLater    = 1013
	CloseInternalError    = 4000
	CloseAuthenticateFail = 4001
)

var (
	ErrMissingCredential = errors.New("missing authentication token")
	ErrInvalidCredential = errors.New("invalid authentication token")
	// ErrNotRegistered is returned when a connection is no longer part of any workspace.
	ErrNotRegistered = errors.New("connection not registered")
	// ErrShuttingDown is returned by Join once Shutdown has started.
	ErrShuttingDown = errors.New("realtime shutting down")
	// ErrStreamClosed is returned by Stream.Receive when the peer closed the session cleanly.
	ErrStreamClosed = errors.New("stream closed")
)

// ProtocolError marks an inbound frame that could not be classified.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

// TransportError wraps a failure reading from or writing to a connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// InternalError wraps an unexpected failure inside the session loop.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %v", e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }
