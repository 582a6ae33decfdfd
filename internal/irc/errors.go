package irc

import (
	"errors"
	"fmt"
)

// ErrDisconnectTimeout is returned when the connection's goroutines do not
// stop within the configured disconnect timeout.
var ErrDisconnectTimeout = errors.New("timed out waiting for connection to close")

// ErrNotConnected is returned by Connect when Disconnect wins the race
// against a dial.
var ErrNotConnected = errors.New("not connected")

// ConnectionFailedError wraps a dial or handshake failure.
type ConnectionFailedError struct {
	Server Server
	Err    error
}

func (e *ConnectionFailedError) Error() string {
	return fmt.Sprintf("connect to %s: %v", e.Server, e.Err)
}

func (e *ConnectionFailedError) Unwrap() error {
	return e.Err
}

// ConnectionLostError reports why an established session ended.
type ConnectionLostError struct {
	Err error
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("connection lost: %v", e.Err)
}

func (e *ConnectionLostError) Unwrap() error {
	return e.Err
}
