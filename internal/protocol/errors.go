package protocol

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

var (
	ErrMalformedMessage     = errors.New("protocol: malformed message")
	ErrCoreTerminated       = errors.New("protocol: core terminated")
	ErrCommunicationFailure = errors.New("protocol: communication with the core failed")
	ErrUnknownCommand       = errors.New("protocol: unknown command")
	ErrBadArguments         = errors.New("protocol: bad arguments")
	ErrCommandFailed        = errors.New("protocol: command failed")
	ErrRequestInFlight      = errors.New("protocol: request already in flight")
	ErrRequestClosed        = errors.New("protocol: request already closed")
	ErrInvalidCode          = errors.New("protocol: invalid message code")
)

// Error codes the core reports in Error response bodies.
const (
	ErrorCodeBadArgs    = "BADARGS"
	ErrorCodeBadCommand = "BADCOMMAND"
)

// CommandError is a failure reported by the core for one request.
// The connection stays usable after it.
type CommandError struct {
	Code    string
	Message string
}

func (e *CommandError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("core: command failed (%s)", e.Code)
	}
	return fmt.Sprintf("core: %s", e.Message)
}

// Is lets errors.Is match the well-known codes against their sentinels.
func (e *CommandError) Is(target error) bool {
	switch target {
	case ErrCommandFailed:
		return true
	case ErrBadArguments:
		return e.Code == ErrorCodeBadArgs
	case ErrUnknownCommand:
		return e.Code == ErrorCodeBadCommand
	}
	return false
}

// UnknownCommandError reports a request code the core did not recognize.
type UnknownCommandError struct {
	Command string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("core: unknown command %q", e.Command)
}

func (e *UnknownCommandError) Is(target error) bool {
	return target == ErrUnknownCommand || target == ErrCommandFailed
}

// ErrorFromResponse converts an Error body into the matching command error.
func ErrorFromResponse(resp *ErrorResponse) error {
	if resp == nil {
		return nil
	}
	return &CommandError{Code: resp.ErrCode, Message: resp.Message}
}

// IsFatal reports whether err invalidates the connection it came from.
func IsFatal(err error) bool {
	return errors.Is(err, ErrMalformedMessage) ||
		errors.Is(err, ErrCoreTerminated) ||
		errors.Is(err, ErrCommunicationFailure)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedMessage, fmt.Sprintf(format, args...))
}

// streamError classifies an I/O failure on one of the core's pipes.
// End of stream and closed pipes mean the core is gone.
func streamError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCoreTerminated) || errors.Is(err, ErrCommunicationFailure) ||
		errors.Is(err, ErrMalformedMessage) {
		return err
	}
	if isClosedStream(err) {
		return fmt.Errorf("%w: %v", ErrCoreTerminated, err)
	}
	return fmt.Errorf("%w: %w", ErrCommunicationFailure, err)
}

func isClosedStream(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE)
}
