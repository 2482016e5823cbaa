package modem

import (
	"fmt"
	"strings"
	"time"

	"i4.energy/across/espwifi/at"
)

// Response is the outcome of one AT command.
type Response struct {
	Status Status
	// Text holds the lines the module answered, CRLF terminated, without
	// unsolicited reports.
	Text string
}

// Execute writes cmd and waits up to the command timeout for its
// terminator. It is exported for diagnostics; the typed operations should be
// preferred.
//
// The returned error is only set when the command could not be written. A
// module answer of ERROR or a timeout is reported through Response.Status.
func (m *Modem) Execute(cmd string) (Response, error) {
	return m.execute(cmd, m.config.CommandTimeout, 0)
}

// execute waits for the quiet period left by the previous command, writes
// cmd followed by CRLF and scans for its terminator. quiet, when positive,
// delays the command that follows this one.
func (m *Modem) execute(cmd string, timeout, quiet time.Duration) (Response, error) {
	if m.closed.Load() {
		return Response{}, ErrAlreadyClosed
	}
	if m.transport == nil {
		return Response{}, ErrNotInitialized
	}

	for m.clock.Now().Before(m.availableAt) {
		m.sleep()
	}

	n, err := m.transport.Write([]byte(cmd + at.CRLF))
	if err != nil {
		return Response{Status: StatusError}, fmt.Errorf("write command %q: %w: %w", commandName(cmd), ErrTransport, err)
	}
	if n == 0 {
		return Response{Status: StatusError}, fmt.Errorf("write command %q: %w", commandName(cmd), ErrTransport)
	}

	start := m.clock.Now()
	res := m.await(start.Add(timeout))
	if quiet > 0 {
		m.availableAt = m.clock.Now().Add(quiet)
	}

	m.logger.Debug("at command",
		"cmd", commandName(cmd),
		"status", res.status,
		"elapsed", m.clock.Now().Sub(start))

	return Response{Status: res.status, Text: string(res.text)}, nil
}

// expectOK executes cmd and maps any terminator other than OK to an error.
func (m *Modem) expectOK(cmd string, timeout, quiet time.Duration) (Response, error) {
	resp, err := m.execute(cmd, timeout, quiet)
	if err != nil {
		return resp, err
	}
	if err := statusError(resp.Status); err != nil {
		return resp, fmt.Errorf("%s: %w", commandName(cmd), err)
	}
	return resp, nil
}

// statusError maps a terminator that does not mean success to an error.
func statusError(s Status) error {
	switch s {
	case StatusOK:
		return nil
	case StatusError:
		return ErrProtocol
	case StatusTimeout:
		return ErrTimeout
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedResponse, s)
	}
}

// commandName strips the arguments from cmd so that credentials never reach
// the logs.
func commandName(cmd string) string {
	name, _, _ := strings.Cut(cmd, "=")
	return name
}
