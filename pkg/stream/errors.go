package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrReadTimeout indicates no line arrived within the read timeout.
	ErrReadTimeout = errors.New("read timeout")
	// ErrNoReply indicates an Ordinary command was never acknowledged
	// before the drain gave up.
	ErrNoReply = errors.New("no reply")
	// ErrFinished indicates the session is already finished.
	ErrFinished = errors.New("session finished")
	// ErrBusy indicates the session is used by another caller.
	ErrBusy = errors.New("session busy")
)

// WriteError is a transport failure while sending a command.
type WriteError struct {
	Command *Command
	Err     error
}

// Error implements error.
func (e *WriteError) Error() string {
	if e.Command == nil {
		return fmt.Sprintf("write error: %v", e.Err)
	}
	return fmt.Sprintf("write command %d %q error: %v", e.Command.Index, e.Command.Text, e.Err)
}

// Unwrap returns the transport error.
func (e *WriteError) Unwrap() error {
	return e.Err
}

// ReadError is a transport failure while waiting for an acknowledgment.
// Timeouts wrap ErrReadTimeout.
type ReadError struct {
	Command *Command
	Err     error
}

// Error implements error.
func (e *ReadError) Error() string {
	if e.Command == nil {
		return fmt.Sprintf("read error: %v", e.Err)
	}
	return fmt.Sprintf("read reply of command %d %q error: %v", e.Command.Index, e.Command.Text, e.Err)
}

// Unwrap returns the transport error.
func (e *ReadError) Unwrap() error {
	return e.Err
}

// RejectedError is a Failure acknowledgment of a command.
type RejectedError struct {
	Command *Command
	Ack     Ack
}

// Error implements error.
func (e *RejectedError) Error() string {
	return fmt.Sprintf("command %d %q rejected: %s", e.Command.Index, e.Command.Text, e.Ack.Text)
}

// IsTimeout reports whether err is a read timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, ErrReadTimeout) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
