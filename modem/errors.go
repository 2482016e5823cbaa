package modem

import "errors"

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a Modem
	// that has no transport.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrAlreadyClosed is returned when an operation or a second Close is
	// attempted on a Modem that has been closed.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrLoopRunning is returned when Loop is called while another Loop is
	// still running.
	ErrLoopRunning = errors.New("loop already running")

	// ErrTransport is returned when the transport accepted no bytes of a
	// command or payload.
	ErrTransport = errors.New("transport write failed")

	// ErrTimeout is returned when no terminating response arrived before the
	// command deadline. Callers decide whether to retry.
	ErrTimeout = errors.New("command timeout")

	// ErrProtocol is returned when the module answered ERROR or FAIL.
	ErrProtocol = errors.New("command failed")

	// ErrUnexpectedResponse is returned when the module answered with a
	// terminator that does not fit the running operation, or with text that
	// could not be parsed.
	ErrUnexpectedResponse = errors.New("unexpected response")

	// ErrPeerClosed is returned by Recv when the remote end closed the link
	// and no staged data is left for it.
	ErrPeerClosed = errors.New("link closed by peer")

	// ErrInvalidArgument is returned for arguments the module cannot accept,
	// such as an invalid remote address.
	ErrInvalidArgument = errors.New("invalid argument")
)
