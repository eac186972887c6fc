package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

type ConnectErrorKind uint8

const (
	ConnectTimeout ConnectErrorKind = iota
	ConnectRefused
	ConnectNotAuthorized
	ConnectNotFound
)

func (k ConnectErrorKind) String() string {
	switch k {
	case ConnectTimeout:
		return "Timeout"
	case ConnectRefused:
		return "Refused"
	case ConnectNotAuthorized:
		return "NotAuthorized"
	case ConnectNotFound:
		return "NotFound"
	}
	return fmt.Sprintf("ConnectErrorKind(%d)", uint8(k))
}

type ConnectError struct {
	Kind ConnectErrorKind
	Err  error
}

func (e *ConnectError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connect failed: %s", e.Kind)
	}
	return fmt.Sprintf("connect failed: %s: %s", e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

type WriteErrorKind uint8

const (
	WriteBrokenPipe WriteErrorKind = iota
	WriteIOFault
)

func (k WriteErrorKind) String() string {
	switch k {
	case WriteBrokenPipe:
		return "BrokenPipe"
	case WriteIOFault:
		return "IOFault"
	}
	return fmt.Sprintf("WriteErrorKind(%d)", uint8(k))
}

type WriteError struct {
	Kind WriteErrorKind
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write failed: %s: %s", e.Kind, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

type ConfigErrorKind uint8

const (
	InvalidHost ConfigErrorKind = iota
	InvalidPort
)

func (k ConfigErrorKind) String() string {
	switch k {
	case InvalidHost:
		return "InvalidHost"
	case InvalidPort:
		return "InvalidPort"
	}
	return fmt.Sprintf("ConfigErrorKind(%d)", uint8(k))
}

type ConfigError struct {
	Kind  ConfigErrorKind
	Value string
}

func (e *ConfigError) Error() string {
	switch e.Kind {
	case InvalidHost:
		return fmt.Sprintf("invalid host %q", e.Value)
	case InvalidPort:
		return fmt.Sprintf("invalid port %q", e.Value)
	}
	return fmt.Sprintf("invalid config: %s %q", e.Kind, e.Value)
}

// classifyDial maps a dial failure onto a ConnectError.
func classifyDial(err error) *ConnectError {
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &ConnectError{Kind: ConnectTimeout, Err: err}
	case errors.As(err, &dnsErr) && dnsErr.IsNotFound:
		return &ConnectError{Kind: ConnectNotFound, Err: err}
	case errors.Is(err, unix.EHOSTUNREACH), errors.Is(err, unix.ENETUNREACH):
		return &ConnectError{Kind: ConnectNotFound, Err: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &ConnectError{Kind: ConnectTimeout, Err: err}
	}
	return &ConnectError{Kind: ConnectRefused, Err: err}
}

// classifyWrite maps a write failure onto a WriteError.
func classifyWrite(err error) *WriteError {
	switch {
	case errors.Is(err, unix.EPIPE),
		errors.Is(err, unix.ECONNRESET),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, os.ErrClosed),
		errors.Is(err, io.ErrClosedPipe):
		return &WriteError{Kind: WriteBrokenPipe, Err: err}
	}
	return &WriteError{Kind: WriteIOFault, Err: err}
}
