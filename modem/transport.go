package modem

//go:generate go tool mockgen -source=transport.go -destination=mock_transport_test.go -package=modem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Transport represents an established, bidirectional byte stream to an
// ESP-AT WiFi module.
//
// A Transport is assumed to be already connected and ready for use. Writes
// carry command lines and raw payloads; reads deliver every byte the module
// sends, which Loop feeds into the receive ring. Typical implementations
// include serial ports or in-memory fakes used for testing.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport to an ESP-AT module.
//
// Dialer abstracts how the module connection is created (for example, via a
// serial port or a test double) and is intended to be used during modem
// construction only. Once a Transport is obtained, the Dialer is no longer
// needed.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport. It may
	// perform blocking operations and should respect cancellation and deadlines
	// provided by the context. Dial returns an error if the transport cannot be
	// established.
	Dial(ctx context.Context) (Transport, error)
}

// DialerFunc adapts a function to the [Dialer] interface.
type DialerFunc func(ctx context.Context) (Transport, error)

var _ Dialer = DialerFunc(nil)

// Dial implements [Dialer].
func (f DialerFunc) Dial(ctx context.Context) (Transport, error) {
	return f(ctx)
}

// Clock is the tick source used for command deadlines and pacing.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SerialDialer opens an ESP-AT module over a serial port using
// go.bug.st/serial. The default line setting is 115200 8N1.
type SerialDialer struct {
	PortName string
	BaudRate int
	// Mode overrides BaudRate and the 8N1 defaults when set.
	Mode *serial.Mode
	// ReadTimeout bounds a single port read; zero keeps reads blocking.
	ReadTimeout time.Duration
}

// Dial implements [Dialer].
func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("espwifi: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("espwifi: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	port, err := serial.Open(d.PortName, d.mode())
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", d.PortName, err)
	}
	if d.ReadTimeout > 0 {
		if err := port.SetReadTimeout(d.ReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("set read timeout on %s: %w", d.PortName, err)
		}
	}
	return port, nil
}

// mode returns the line setting Dial opens the port with.
func (d SerialDialer) mode() *serial.Mode {
	if d.Mode != nil {
		return d.Mode
	}
	baud := d.BaudRate
	if baud == 0 {
		baud = 115200
	}
	return &serial.Mode{
		BaudRate: baud,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
}
