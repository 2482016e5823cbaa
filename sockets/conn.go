package sockets

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// readSlice bounds a single receive attempt of Conn.Read so that writers on
// other goroutines get the modem in between.
const readSlice = 100 * time.Millisecond

// Conn is a net.Conn over one Manager socket.
type Conn struct {
	mgr    *Manager
	socket Socket
	remote netip.AddrPort
	closed atomic.Bool

	mu            sync.Mutex
	readDeadline  time.Time
	writeDeadline time.Time
}

var _ net.Conn = (*Conn)(nil)

// Dial opens a socket on mgr and connects it to addr.
func Dial(ctx context.Context, mgr *Manager, addr netip.AddrPort) (*Conn, error) {
	s, err := mgr.Open(ctx)
	if err != nil {
		return nil, err
	}
	if err := mgr.Connect(ctx, s, addr); err != nil {
		_ = mgr.Close(ctx, s)
		return nil, err
	}
	return &Conn{mgr: mgr, socket: s, remote: addr}, nil
}

// Socket returns the handle behind c.
func (c *Conn) Socket() Socket { return c.socket }

func (c *Conn) deadlines() (read, write time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readDeadline, c.writeDeadline
}

// Read blocks until data arrives, the read deadline passes or the peer
// closes the connection.
func (c *Conn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if c.closed.Load() {
			return 0, net.ErrClosed
		}
		slice := readSlice
		if dl, _ := c.deadlines(); !dl.IsZero() {
			left := time.Until(dl)
			if left <= 0 {
				return 0, os.ErrDeadlineExceeded
			}
			slice = min(slice, left)
		}

		n, err := c.mgr.recv(context.Background(), c.socket, p, slice)
		switch {
		case err == nil && n > 0:
			return n, nil
		case err == nil:
		case errors.Is(err, ErrPeerClosed), errors.Is(err, ErrClosedForDirection):
			return 0, io.EOF
		case errors.Is(err, ErrInvalidSocket) && c.closed.Load():
			return 0, net.ErrClosed
		default:
			return 0, err
		}
	}
}

func (c *Conn) Write(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, net.ErrClosed
	}
	var timeout time.Duration
	if _, dl := c.deadlines(); !dl.IsZero() {
		timeout = time.Until(dl)
		if timeout <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
	}
	n, err := c.mgr.send(context.Background(), c.socket, p, timeout)
	if errors.Is(err, ErrTimeout) && timeout > 0 {
		return n, os.ErrDeadlineExceeded
	}
	return n, err
}

func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return net.ErrClosed
	}
	return c.mgr.Close(context.Background(), c.socket)
}

// CloseWrite shuts down the sending side.
func (c *Conn) CloseWrite() error {
	return c.mgr.Shutdown(c.socket, ShutWrite)
}

// LocalAddr is unknown to the module and reported as the zero address.
func (c *Conn) LocalAddr() net.Addr {
	return &net.TCPAddr{}
}

func (c *Conn) RemoteAddr() net.Addr {
	return net.TCPAddrFromAddrPort(c.remote)
}

func (c *Conn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline = t
	c.writeDeadline = t
	return nil
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline = t
	return nil
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeDeadline = t
	return nil
}
