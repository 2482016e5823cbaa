// Package sockets maps a small table of socket handles onto the client links
// of an ESP8266 module.
package sockets

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/sync/semaphore"

	"i4.energy/across/espwifi/at"
	"i4.energy/across/espwifi/modem"
)

// Socket is a handle into the Manager's table.
type Socket int

// InvalidSocket is returned by Open when no handle could be allocated.
const InvalidSocket Socket = -1

// MaxTimeout bounds the send and receive timeouts accepted by SetOption.
const MaxTimeout = 30 * time.Second

// How selects the direction closed by Shutdown.
type How int

const (
	ShutRead How = iota
	ShutWrite
	ShutReadWrite
)

// Option names a socket option for SetOption.
type Option int

const (
	OptSendTimeout Option = iota + 1
	OptRecvTimeout
	OptNonBlocking
	OptRequireTLS
)

type Config struct {
	// MaxSockets is the size of the table. The module supports five links.
	MaxSockets int
	// SemaphoreWait bounds every wait for the table or the modem.
	SemaphoreWait time.Duration
	SendTimeout   time.Duration
	RecvTimeout   time.Duration
	// Tick is the retry delay of Recv and the timeout of non-blocking sockets.
	Tick   time.Duration
	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.MaxSockets <= 0 {
		c.MaxSockets = 4
	}
	if c.SemaphoreWait <= 0 {
		c.SemaphoreWait = 5 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.RecvTimeout <= 0 {
		c.RecvTimeout = 10 * time.Second
	}
	if c.Tick <= 0 {
		c.Tick = time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
}

type slot struct {
	inUse       bool
	// gen identifies the allocation; a handle reused by Open gets a new one
	gen         uint64
	// closing is set by the first Close; the slot only waits to be freed
	closing     bool
	conn        modem.Conn
	connected   bool
	secure      bool
	readClosed  bool
	writeClosed bool
	sendTimeout time.Duration
	recvTimeout time.Duration
}

// SocketInfo is a snapshot of one allocated socket.
type SocketInfo struct {
	Socket      Socket         `json:"socket"`
	LinkID      int            `json:"link_id"`
	Type        string         `json:"type"`
	Remote      netip.AddrPort `json:"remote"`
	Connected   bool           `json:"connected"`
	Secure      bool           `json:"secure"`
	ReadClosed  bool           `json:"read_closed"`
	WriteClosed bool           `json:"write_closed"`
}

// Manager owns the socket table. The table mutex is never held while the
// modem mutex is acquired.
type Manager struct {
	link   Link
	config Config
	logger *slog.Logger

	table *semaphore.Weighted
	modem *semaphore.Weighted
	slots []slot
	gen   uint64
}

func NewManager(link Link, config Config) *Manager {
	config.setDefaults()
	return &Manager{
		link:   link,
		config: config,
		logger: config.Logger,
		table:  semaphore.NewWeighted(1),
		modem:  semaphore.NewWeighted(1),
		slots:  make([]slot, config.MaxSockets),
	}
}

func (m *Manager) acquire(ctx context.Context, sem *semaphore.Weighted) error {
	ctx, cancel := context.WithTimeout(ctx, m.config.SemaphoreWait)
	defer cancel()
	return sem.Acquire(ctx, 1)
}

// locked runs fn while holding the table mutex.
func (m *Manager) locked(ctx context.Context, op string, s Socket, fn func() error) error {
	if err := m.acquire(ctx, m.table); err != nil {
		return &Error{Op: op, Socket: s, Code: CodeResourceBusy, Err: err}
	}
	defer m.table.Release(1)
	return fn()
}

// lookup returns the live slot behind s. The table mutex must be held.
func (m *Manager) lookup(op string, s Socket) (*slot, error) {
	if s < 0 || int(s) >= len(m.slots) || !m.slots[s].inUse || m.slots[s].closing {
		return nil, &Error{Op: op, Socket: s, Code: CodeInvalidSocket}
	}
	return &m.slots[s], nil
}

// owned returns the slot behind s if it still holds allocation gen, closing
// or not. The table mutex must be held.
func (m *Manager) owned(s Socket, gen uint64) *slot {
	if s < 0 || int(s) >= len(m.slots) || !m.slots[s].inUse || m.slots[s].gen != gen {
		return nil
	}
	return &m.slots[s]
}

// view returns a copy of the slot behind s, optionally modifying it first.
func (m *Manager) view(ctx context.Context, op string, s Socket, modify func(*slot) error) (slot, error) {
	var out slot
	err := m.locked(ctx, op, s, func() error {
		sk, err := m.lookup(op, s)
		if err != nil {
			return err
		}
		if modify != nil {
			if err := modify(sk); err != nil {
				return err
			}
		}
		out = *sk
		return nil
	})
	return out, err
}

// recheck returns the slot behind s again once the caller holds the modem
// mutex. It fails when s was closed or handed to a new owner meanwhile.
func (m *Manager) recheck(ctx context.Context, op string, s Socket, gen uint64) (slot, error) {
	return m.view(ctx, op, s, func(sk *slot) error {
		if sk.gen != gen {
			return &Error{Op: op, Socket: s, Code: CodeInvalidSocket}
		}
		return nil
	})
}

// Open allocates the first free socket.
func (m *Manager) Open(ctx context.Context) (Socket, error) {
	if err := m.acquire(ctx, m.table); err != nil {
		return InvalidSocket, &Error{Op: "open", Socket: InvalidSocket, Code: CodeNoFreeSocket, Err: err}
	}
	defer m.table.Release(1)

	for i := range m.slots {
		if m.slots[i].inUse {
			continue
		}
		m.gen++
		m.slots[i] = slot{
			inUse:       true,
			gen:         m.gen,
			conn:        modem.Conn{LinkID: i, Type: at.TCP},
			sendTimeout: m.config.SendTimeout,
			recvTimeout: m.config.RecvTimeout,
		}
		m.logger.Debug("Socket opened", "socket", i)
		return Socket(i), nil
	}
	return InvalidSocket, &Error{Op: "open", Socket: InvalidSocket, Code: CodeNoFreeSocket}
}

// Connect opens the module link of s towards addr. On failure the socket
// stays allocated.
func (m *Manager) Connect(ctx context.Context, s Socket, addr netip.AddrPort) error {
	if !addr.IsValid() || addr.Port() == 0 {
		return &Error{Op: "connect", Socket: s, Code: CodeInvalidArgument}
	}
	sk, err := m.view(ctx, "connect", s, func(sk *slot) error {
		sk.conn.Remote = addr
		return nil
	})
	if err != nil {
		return err
	}

	if err := m.acquire(ctx, m.modem); err != nil {
		return &Error{Op: "connect", Socket: s, Code: CodeResourceBusy, Err: err}
	}
	defer m.modem.Release(1)

	if sk, err = m.recheck(ctx, "connect", s, sk.gen); err != nil {
		return err
	}
	if err := m.link.StartClient(&sk.conn); err != nil {
		return &Error{Op: "connect", Socket: s, Code: CodeConnectFailed, Err: err}
	}

	// Recorded under the modem mutex so a concurrent Close stops this link.
	err = m.locked(context.Background(), "connect", s, func() error {
		cur := m.owned(s, sk.gen)
		if cur == nil {
			return &Error{Op: "connect", Socket: s, Code: CodeInvalidSocket}
		}
		cur.connected = true
		return nil
	})
	if err != nil {
		return err
	}
	m.logger.Info("Socket connected", "socket", int(s), "remote", addr.String(), "type", sk.conn.Type.String())
	return nil
}

// Send writes all of p unless the module fails.
func (m *Manager) Send(ctx context.Context, s Socket, p []byte) (int, error) {
	return m.send(ctx, s, p, 0)
}

func (m *Manager) send(ctx context.Context, s Socket, p []byte, timeout time.Duration) (int, error) {
	sk, err := m.view(ctx, "send", s, nil)
	if err != nil {
		return 0, err
	}
	if sk.writeClosed {
		return 0, &Error{Op: "send", Socket: s, Code: CodeClosedForDirection}
	}
	if !sk.connected {
		return 0, &Error{Op: "send", Socket: s, Code: CodeInvalidSocket, Err: errNotConnected}
	}
	if timeout <= 0 {
		timeout = sk.sendTimeout
	}

	if err := m.acquire(ctx, m.modem); err != nil {
		return 0, &Error{Op: "send", Socket: s, Code: CodeResourceBusy, Err: err}
	}
	defer m.modem.Release(1)

	if _, err := m.recheck(ctx, "send", s, sk.gen); err != nil {
		return 0, err
	}

	n, err := m.link.Send(&sk.conn, p, timeout)
	if err != nil {
		return n, &Error{Op: "send", Socket: s, Code: modemCode(err), Err: err}
	}
	return n, nil
}

// Recv reads into p. It returns as soon as any data was delivered and 0, nil
// when the receive timeout passes without data.
func (m *Manager) Recv(ctx context.Context, s Socket, p []byte) (int, error) {
	return m.recv(ctx, s, p, 0)
}

func (m *Manager) recv(ctx context.Context, s Socket, p []byte, timeout time.Duration) (int, error) {
	if p == nil {
		panic("sockets: nil receive buffer")
	}
	sk, err := m.view(ctx, "recv", s, nil)
	if err != nil {
		return 0, err
	}
	if sk.readClosed {
		return 0, &Error{Op: "recv", Socket: s, Code: CodeClosedForDirection}
	}
	if !sk.connected {
		return 0, &Error{Op: "recv", Socket: s, Code: CodeInvalidSocket, Err: errNotConnected}
	}
	if len(p) == 0 {
		return 0, nil
	}
	if timeout <= 0 {
		timeout = sk.recvTimeout
	}
	deadline := time.Now().Add(timeout)

	for {
		wait := max(time.Until(deadline), m.config.Tick)
		if err := m.acquire(ctx, m.modem); err != nil {
			return 0, &Error{Op: "recv", Socket: s, Code: CodeResourceBusy, Err: err}
		}
		if _, err := m.recheck(ctx, "recv", s, sk.gen); err != nil {
			m.modem.Release(1)
			return 0, err
		}
		n, err := m.link.Recv(&sk.conn, p, wait)
		m.modem.Release(1)

		switch {
		case n > 0:
			return n, nil
		case err == nil || errors.Is(err, modem.ErrTimeout):
		case errors.Is(err, modem.ErrPeerClosed):
			return 0, &Error{Op: "recv", Socket: s, Code: CodePeerClosed, Err: err}
		default:
			return 0, &Error{Op: "recv", Socket: s, Code: CodeProtocol, Err: err}
		}

		if !time.Now().Before(deadline) {
			return 0, nil
		}
		select {
		case <-ctx.Done():
			return 0, &Error{Op: "recv", Socket: s, Code: CodeTimeout, Err: ctx.Err()}
		case <-time.After(m.config.Tick):
		}
	}
}

// Shutdown closes one or both directions of s. Closing an already closed
// direction succeeds.
func (m *Manager) Shutdown(s Socket, how How) error {
	_, err := m.view(context.Background(), "shutdown", s, func(sk *slot) error {
		switch how {
		case ShutRead:
			sk.readClosed = true
		case ShutWrite:
			sk.writeClosed = true
		case ShutReadWrite:
			sk.readClosed = true
			sk.writeClosed = true
		default:
			return &Error{Op: "shutdown", Socket: s, Code: CodeInvalidArgument}
		}
		return nil
	})
	return err
}

// Close stops the module link of s and frees the socket. The socket is freed
// even when the module fails to stop the link; that error is still returned.
// A second Close of the same handle fails with CodeInvalidSocket.
func (m *Manager) Close(ctx context.Context, s Socket) error {
	sk, err := m.view(ctx, "close", s, func(sk *slot) error {
		sk.closing = true
		sk.readClosed = true
		sk.writeClosed = true
		return nil
	})
	if err != nil {
		return err
	}

	stopErr := m.stop(ctx, s, sk.gen)

	// Short holds only, so wait as long as it takes
	_ = m.table.Acquire(context.Background(), 1)
	if cur := m.owned(s, sk.gen); cur != nil {
		*cur = slot{}
	}
	m.table.Release(1)

	if stopErr != nil {
		m.logger.Warn("Link stop failed, socket released anyway", "socket", int(s), "error", stopErr)
	} else {
		m.logger.Debug("Socket closed", "socket", int(s))
	}
	return stopErr
}

// stop ends the module link of allocation gen of s if it was connected.
// Connect records the connection while holding the modem mutex, so a connect
// in flight is seen here.
func (m *Manager) stop(ctx context.Context, s Socket, gen uint64) error {
	if err := m.acquire(ctx, m.modem); err != nil {
		return &Error{Op: "close", Socket: s, Code: CodeResourceBusy, Err: err}
	}
	defer m.modem.Release(1)

	var (
		conn      modem.Conn
		connected bool
	)
	err := m.locked(context.Background(), "close", s, func() error {
		if cur := m.owned(s, gen); cur != nil {
			conn, connected = cur.conn, cur.connected
		}
		return nil
	})
	if err != nil || !connected {
		return err
	}

	if err := m.link.StopClient(&conn); err != nil {
		return &Error{Op: "close", Socket: s, Code: modemCode(err), Err: err}
	}
	return nil
}

// SetOption changes a socket option. Timeouts take a time.Duration below
// MaxTimeout. OptNonBlocking and OptRequireTLS ignore value.
func (m *Manager) SetOption(s Socket, opt Option, value any) error {
	_, err := m.view(context.Background(), "setoption", s, func(sk *slot) error {
		switch opt {
		case OptSendTimeout, OptRecvTimeout:
			d, ok := value.(time.Duration)
			if !ok || d < 0 || d >= MaxTimeout {
				return &Error{Op: "setoption", Socket: s, Code: CodeInvalidArgument}
			}
			if opt == OptSendTimeout {
				sk.sendTimeout = d
			} else {
				sk.recvTimeout = d
			}
		case OptNonBlocking:
			sk.sendTimeout = m.config.Tick
			sk.recvTimeout = m.config.Tick
		case OptRequireTLS:
			sk.secure = true
			sk.conn.Type = at.SSL
		default:
			return &Error{Op: "setoption", Socket: s, Code: CodeNoProtocolOption}
		}
		return nil
	})
	return err
}

// GetHostByName resolves name through the module. Literal addresses are
// returned without asking the module.
func (m *Manager) GetHostByName(ctx context.Context, name string) (netip.Addr, error) {
	if addr, err := netip.ParseAddr(name); err == nil {
		return addr, nil
	}
	if _, ok := dns.IsDomainName(name); !ok || name == "" {
		return netip.Addr{}, &Error{Op: "resolve", Socket: InvalidSocket, Code: CodeInvalidArgument}
	}

	if err := m.acquire(ctx, m.modem); err != nil {
		return netip.Addr{}, &Error{Op: "resolve", Socket: InvalidSocket, Code: CodeResourceBusy, Err: err}
	}
	defer m.modem.Release(1)

	addr, err := m.link.GetHostIP(name)
	if err != nil {
		return netip.Addr{}, &Error{Op: "resolve", Socket: InvalidSocket, Code: modemCode(err), Err: err}
	}
	return addr, nil
}

// Exclusive runs fn while holding the modem mutex, for callers that issue
// commands on the modem directly.
func (m *Manager) Exclusive(ctx context.Context, fn func() error) error {
	if err := m.acquire(ctx, m.modem); err != nil {
		return &Error{Op: "exclusive", Socket: InvalidSocket, Code: CodeResourceBusy, Err: err}
	}
	defer m.modem.Release(1)
	return fn()
}

// Sockets lists the allocated sockets.
func (m *Manager) Sockets(ctx context.Context) ([]SocketInfo, error) {
	if err := m.acquire(ctx, m.table); err != nil {
		return nil, &Error{Op: "list", Socket: InvalidSocket, Code: CodeResourceBusy, Err: err}
	}
	defer m.table.Release(1)

	var infos []SocketInfo
	for i, sk := range m.slots {
		if !sk.inUse {
			continue
		}
		infos = append(infos, SocketInfo{
			Socket:      Socket(i),
			LinkID:      sk.conn.LinkID,
			Type:        sk.conn.Type.String(),
			Remote:      sk.conn.Remote,
			Connected:   sk.connected,
			Secure:      sk.secure,
			ReadClosed:  sk.readClosed,
			WriteClosed: sk.writeClosed,
		})
	}
	return infos, nil
}
