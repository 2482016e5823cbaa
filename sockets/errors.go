package sockets

import (
	"errors"
	"fmt"

	"i4.energy/across/espwifi/modem"
)

// Code is the integer result of a socket operation.
type Code int

const (
	CodeOK Code = iota
	CodeTimeout
	CodeProtocol
	CodeInvalidSocket
	CodeNoFreeSocket
	CodeResourceBusy
	CodeClosedForDirection
	CodeConnectFailed
	CodeInvalidArgument
	CodeNoProtocolOption
	CodePeerClosed
)

var (
	ErrTimeout            = errors.New("operation timed out")
	ErrProtocol           = errors.New("module reported an error")
	ErrInvalidSocket      = errors.New("invalid socket")
	ErrNoFreeSocket       = errors.New("no free socket")
	ErrResourceBusy       = errors.New("modem busy")
	ErrClosedForDirection = errors.New("socket closed for this direction")
	ErrConnectFailed      = errors.New("connect failed")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNoProtocolOption   = errors.New("unsupported socket option")
	ErrPeerClosed         = errors.New("connection closed by peer")
)

// errNotConnected explains a CodeInvalidSocket for a socket that was opened
// but never connected.
var errNotConnected = errors.New("not connected")

var sentinels = map[Code]error{
	CodeTimeout:            ErrTimeout,
	CodeProtocol:           ErrProtocol,
	CodeInvalidSocket:      ErrInvalidSocket,
	CodeNoFreeSocket:       ErrNoFreeSocket,
	CodeResourceBusy:       ErrResourceBusy,
	CodeClosedForDirection: ErrClosedForDirection,
	CodeConnectFailed:      ErrConnectFailed,
	CodeInvalidArgument:    ErrInvalidArgument,
	CodeNoProtocolOption:   ErrNoProtocolOption,
	CodePeerClosed:         ErrPeerClosed,
}

func (c Code) String() string {
	if c == CodeOK {
		return "ok"
	}
	if err, ok := sentinels[c]; ok {
		return err.Error()
	}
	return fmt.Sprintf("code %d", int(c))
}

// Error is returned by every failing Manager operation. It matches the
// package sentinel of its Code with errors.Is and unwraps to the modem error
// that caused it, if any.
type Error struct {
	Op     string
	Socket Socket
	Code   Code
	Err    error
}

func (e *Error) Error() string {
	msg := "sockets: " + e.Op
	if e.Socket != InvalidSocket {
		msg += fmt.Sprintf(" socket %d", e.Socket)
	}
	msg += ": " + e.Code.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target != nil && sentinels[e.Code] == target
}

// CodeOf returns the Code carried by err, CodeOK for nil and CodeProtocol for
// errors that did not come from this package.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeProtocol
}

// modemCode translates a modem error.
func modemCode(err error) Code {
	switch {
	case errors.Is(err, modem.ErrTimeout):
		return CodeTimeout
	case errors.Is(err, modem.ErrPeerClosed):
		return CodePeerClosed
	case errors.Is(err, modem.ErrInvalidArgument):
		return CodeInvalidArgument
	default:
		return CodeProtocol
	}
}
