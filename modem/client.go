package modem

import (
	"fmt"
	"net/netip"
	"time"

	"i4.energy/across/espwifi/at"
)

// maxSendChunk is the largest payload written after a single AT+CIPSEND.
const maxSendChunk = 1024

// Conn describes one client link on the module.
type Conn struct {
	// LinkID selects the link in multiple connection mode.
	LinkID int
	Type   at.ConnType
	Remote netip.AddrPort
	// KeepAlive in seconds for TCP and SSL, 0 disables it.
	KeepAlive uint16
	// LocalPort for UDP, 0 lets the module pick one.
	LocalPort uint16
	UDPMode   int
}

func (c *Conn) params() at.StartParams {
	return at.StartParams{
		LinkID:    c.LinkID,
		Type:      c.Type,
		Remote:    c.Remote,
		KeepAlive: c.KeepAlive,
		LocalPort: c.LocalPort,
		UDPMode:   c.UDPMode,
	}
}

// linkOf returns the link the module reports for c. Every report names link
// 0 in single connection mode.
func (m *Modem) linkOf(c *Conn) int {
	if !m.multi.Load() {
		return 0
	}
	return c.LinkID
}

// StartClient opens the link described by c. Data still staged from an
// earlier use of the link is discarded.
func (m *Modem) StartClient(c *Conn) error {
	if !c.Remote.IsValid() || c.Remote.Port() == 0 {
		return fmt.Errorf("start link %d: remote %s: %w", c.LinkID, c.Remote, ErrInvalidArgument)
	}
	m.pending.discard(m.linkOf(c))

	if _, err := m.expectOK(at.StartClient(c.params(), m.multi.Load()), m.config.JoinTimeout, 0); err != nil {
		return fmt.Errorf("start link %d: %w", c.LinkID, err)
	}
	m.setLinkClosed(m.linkOf(c), false)
	return nil
}

// StopClient closes the link described by c.
func (m *Modem) StopClient(c *Conn) error {
	if _, err := m.expectOK(at.CloseClient(c.LinkID, m.multi.Load()), m.config.CommandTimeout, 0); err != nil {
		return fmt.Errorf("stop link %d: %w", c.LinkID, err)
	}
	m.setLinkClosed(m.linkOf(c), true)
	return nil
}

// Send writes p on the link in chunks of at most 1024 bytes and returns the
// number of bytes the module confirmed. Each chunk is announced with
// AT+CIPSEND, written after the prompt and confirmed by SEND OK. The whole
// call is bounded by timeout; a command following Send waits for the quiet
// period.
func (m *Modem) Send(c *Conn, p []byte, timeout time.Duration) (int, error) {
	end := m.clock.Now().Add(timeout)

	var remote netip.AddrPort
	if c.Type == at.UDP && c.LocalPort > 0 {
		remote = c.Remote
	}

	sent := 0
	for sent < len(p) {
		chunk := p[sent:min(len(p), sent+maxSendChunk)]
		if err := m.sendChunk(c, chunk, remote, end); err != nil {
			return sent, fmt.Errorf("send on link %d: %w", c.LinkID, err)
		}
		sent += len(chunk)
	}
	return sent, nil
}

func (m *Modem) sendChunk(c *Conn, chunk []byte, remote netip.AddrPort, end time.Time) error {
	left := end.Sub(m.clock.Now())
	if left <= 0 {
		return ErrTimeout
	}

	m.active = opSend
	defer func() { m.active = opNone }()

	cmd := at.SendLength(c.LinkID, len(chunk), m.multi.Load(), remote)
	if _, err := m.expectOK(cmd, left, m.config.SendQuiet); err != nil {
		return err
	}

	res := m.await(end)
	if res.status != StatusSend {
		if res.status == StatusOK {
			return fmt.Errorf("%w: no prompt", ErrUnexpectedResponse)
		}
		return statusError(res.status)
	}

	for off := 0; off < len(chunk); {
		n, err := m.transport.Write(chunk[off:])
		if err != nil {
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}
		if n == 0 {
			return ErrTransport
		}
		off += n
	}

	return statusError(m.await(end).status)
}

// Recv reads inbound data for the link into p. Data staged while no receive
// was running is delivered first. Otherwise Recv scans until a payload for
// the link arrives, filling p with it and returning without waiting for p
// to be full. Payloads for other links are staged for them, as is the part of
// a payload that does not fit in p.
//
// Recv returns ErrPeerClosed once the peer closed the link and nothing is
// staged for it, and ErrTimeout when no data arrived in time.
func (m *Modem) Recv(c *Conn, p []byte, timeout time.Duration) (int, error) {
	if p == nil {
		panic("modem: Recv with nil buffer")
	}
	if len(p) == 0 {
		return 0, nil
	}
	end := m.clock.Now().Add(timeout)
	link := m.linkOf(c)

	if n := m.pending.take(link, p); n > 0 {
		return n, nil
	}
	if m.linkClosed(link) {
		return 0, ErrPeerClosed
	}

	m.active = opRecv
	m.recvLink = link
	defer func() { m.active = opNone }()

	for {
		if !m.clock.Now().Before(end) {
			return 0, ErrTimeout
		}
		res := m.scan(end)
		switch {
		case res.peerClosed:
			return 0, ErrPeerClosed
		case res.status == StatusRecv:
			if res.ipd.LinkID != link {
				m.stage(res.ipd.LinkID, res.payload)
				continue
			}
			n := copy(p, res.payload)
			if n < len(res.payload) {
				m.stage(link, res.payload[n:])
			}
			return n, nil
		case res.status == StatusTimeout:
			return 0, ErrTimeout
		case res.status == StatusError:
			return 0, fmt.Errorf("receive on link %d: %w", c.LinkID, ErrProtocol)
		}
		// A stray OK or prompt does not end a receive.
	}
}
