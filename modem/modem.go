package modem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"i4.energy/across/espwifi/at"
	"i4.energy/across/espwifi/ringbuf"
)

// Modem drives an ESP8266 WiFi module through the ESP-AT command set.
//
// Bytes arriving from the module are pushed by Loop into a receive ring and
// consumed by the response scanner on the goroutine that issues commands.
// Command execution is not safe for concurrent use: callers serialize
// operations, as sockets.Manager does with its modem lock. State queries
// (IsConnected, Stats, URC) may be used from any goroutine.
type Modem struct {
	// transport provides the physical connection to the module
	transport Transport
	// config contains the modem configuration settings
	config Config
	// logger receives command traces and overflow warnings
	logger *slog.Logger
	// clock is the tick source for deadlines and pacing
	clock Clock

	// rx is filled by Loop and drained by the scanner
	rx *ringbuf.RingBuffer
	// pending stages inbound data that arrived while no receive was running
	pending *pendingQueue

	// active is the operation the scanner is running for
	active operation
	// recvLink is the link a running receive waits on
	recvLink int
	// availableAt is the earliest time the next command may be written
	availableAt time.Time
	// multi mirrors the AT+CIPMUX setting
	multi atomic.Bool

	// mu guards the state reported by URCs
	mu sync.Mutex
	// connected is true between WIFI CONNECTED/GOT IP and WIFI DISCONNECT
	connected bool
	// closedLinks holds links the peer closed and nobody reopened
	closedLinks map[int]bool

	// closed indicates if the modem has been shut down
	closed atomic.Bool
	// loopRunning indicates if the Loop is currently running
	loopRunning atomic.Bool
	// loopExited is set once a started Loop has returned
	loopExited atomic.Bool

	// urcChan receives unsolicited reports from the module
	urcChan chan string
}

// operation tells the scanner how to treat a +IPD announcement.
type operation int

const (
	opNone operation = iota
	opSend
	opRecv
)

// PollConfig defines configuration for polling operations like waiting for
// the module to come back after a reset.
type PollConfig struct {
	// Interval is the time between polling attempts
	Interval time.Duration
	// Timeout is the maximum time to wait for the condition
	Timeout time.Duration
	// MaxRetries is the maximum number of polling attempts
	MaxRetries int
}

// Stats is a snapshot of the receive path counters.
type Stats struct {
	RxBuffered     int
	RxOverflows    uint64
	PendingBlocks  int
	PendingBytes   int
	PendingDropped uint64
}

// New creates a new Modem with the given configuration. It only establishes
// the transport connection; the caller starts Loop and then runs Init.
//
// Usage:
//
//	m, err := modem.New(ctx, config)
//	if err != nil { return err }
//	go m.Loop(ctx)
//	if err := m.Init(); err != nil { return err }
func New(ctx context.Context, config Config) (*Modem, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	transport, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial modem: %w", err)
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}
	return newModem(transport, config), nil
}

func newModem(transport Transport, config Config) *Modem {
	return &Modem{
		transport:   transport,
		config:      config,
		logger:      config.Logger,
		clock:       config.Clock,
		rx:          ringbuf.New(config.RxBufferSize),
		pending:     newPendingQueue(config.MaxPendingBlocks),
		closedLinks: make(map[int]bool),
		urcChan:     make(chan string, 100), // Buffered to prevent blocking on URCs
	}
}

// Loop moves every byte the module sends into the receive ring. It must run
// for the whole life of the Modem, typically in its own goroutine, and it is
// the only reader of the transport.
//
// Loop returns when ctx is cancelled, when the transport reports EOF or a
// read error, or immediately with ErrLoopRunning if another Loop is active.
// When the ring is full new bytes are dropped and counted.
func (m *Modem) Loop(ctx context.Context) error {
	if !m.loopRunning.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer func() {
		m.loopExited.Store(true)
		m.loopRunning.Store(false)
	}()

	chunks := make(chan []byte, 4)
	readErrs := make(chan error, 1)

	go func() {
		buf := make([]byte, 256)
		for {
			n, err := m.transport.Read(buf)
			if n > 0 {
				chunk := append([]byte(nil), buf[:n]...)
				select {
				case chunks <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErrs <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case chunk := <-chunks:
			dropped := 0
			for _, b := range chunk {
				if !m.rx.Push(b) {
					dropped++
				}
			}
			if dropped > 0 {
				m.logger.Warn("receive ring overflow",
					"dropped", dropped,
					"total", humanize.Comma(int64(m.rx.Overflows())))
			}

		case err := <-readErrs:
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return fmt.Errorf("read error: %w", err)
		}
	}
}

// URC returns a read-only channel that receives unsolicited reports such as
// "WIFI GOT IP" or "0,CLOSED". The channel is buffered, but may drop some
// reports if not consumed fast enough.
func (m *Modem) URC() <-chan string {
	return m.urcChan
}

// Close shuts down the modem and closes the transport. Blocked operations
// waiting for inbound payload bytes are released. After calling Close(), the
// modem cannot be reused.
func (m *Modem) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return ErrAlreadyClosed
	}
	if m.transport != nil {
		return m.transport.Close()
	}
	return nil
}

// IsConnected reports whether the module announced a WiFi association that
// was not followed by a disconnect.
func (m *Modem) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// IsMultiConn reports whether the module runs in multiple connection mode.
func (m *Modem) IsMultiConn() bool {
	return m.multi.Load()
}

// Stats returns a snapshot of the receive path counters.
func (m *Modem) Stats() Stats {
	blocks, size, dropped := m.pending.stats()
	return Stats{
		RxBuffered:     m.rx.Count(),
		RxOverflows:    m.rx.Overflows(),
		PendingBlocks:  blocks,
		PendingBytes:   size,
		PendingDropped: dropped,
	}
}

func (m *Modem) setConnected(on bool) {
	m.mu.Lock()
	m.connected = on
	m.mu.Unlock()
}

func (m *Modem) setLinkClosed(link int, closed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if closed {
		m.closedLinks[link] = true
	} else {
		delete(m.closedLinks, link)
	}
}

func (m *Modem) linkClosed(link int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closedLinks[link]
}

// handleURC updates the modem state from an unsolicited report and forwards
// it to the URC channel.
func (m *Modem) handleURC(line string) {
	if link, event, ok := at.ParseLinkEvent(line); ok {
		m.setLinkClosed(link, event == at.UrcClosed)
	} else {
		switch line {
		case at.UrcWifiConnected, at.UrcWifiGotIP:
			m.setConnected(true)
		case at.UrcWifiDisconnect:
			m.setConnected(false)
		}
	}

	select {
	case m.urcChan <- line:
	default:
		m.logger.Debug("urc dropped", "urc", line)
	}
}

// sleep pauses between two polls of an empty ring.
func (m *Modem) sleep() {
	time.Sleep(m.config.PollInterval)
}

// readerGone reports whether no more bytes can arrive in the ring.
func (m *Modem) readerGone() bool {
	return m.closed.Load() || m.loopExited.Load()
}
