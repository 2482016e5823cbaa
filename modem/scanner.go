package modem

import (
	"bytes"
	"errors"
	"time"

	"github.com/dustin/go-humanize"

	"i4.energy/across/espwifi/at"
)

// Status is the outcome of scanning the module output.
type Status int

const (
	StatusOK      Status = iota // OK or SEND OK
	StatusError                 // ERROR, FAIL or SEND FAIL
	StatusTimeout               // no terminator before the deadline
	StatusSend                  // the CIPSEND prompt
	StatusRecv                  // a +IPD payload was consumed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	case StatusTimeout:
		return "timeout"
	case StatusSend:
		return "send"
	case StatusRecv:
		return "recv"
	default:
		return "unknown"
	}
}

const (
	// ipdWindow is how far back from a ':' the +IPD, marker is searched.
	ipdWindow = 32
	// maxIPDLength rejects announcements no ESP-AT firmware produces.
	maxIPDLength = 8192
)

type scanResult struct {
	status Status
	// text holds the non-report lines, each terminated by CRLF
	text []byte
	// ipd and payload describe the data consumed for StatusRecv
	ipd     at.IPD
	payload []byte
	// peerClosed is set when the link being received on was closed
	peerClosed bool
}

// scan consumes the receive ring until a terminator is recognized or the
// deadline passes. Each line is classified when its LF arrives; the prompt
// is recognized at the start of a line and an inbound data announcement at
// the ':' closing its header.
//
// While a receive runs the announced payload is returned to the caller;
// otherwise it is staged in the pending queue. Either way scan returns
// StatusRecv.
func (m *Modem) scan(deadline time.Time) scanResult {
	var (
		res  scanResult
		line []byte
	)
	limit := m.config.ResponseBufferSize

	for {
		b, err := m.rx.Pop()
		if err != nil {
			if !m.clock.Now().Before(deadline) {
				res.status = StatusTimeout
				return res
			}
			m.sleep()
			continue
		}

		switch {
		case b == '\n':
			s := string(bytes.TrimRight(line, "\r"))
			line = line[:0]
			if s == "" {
				continue
			}
			switch at.Classify(s) {
			case at.TypeOK:
				res.text = appendLine(res.text, s, limit)
				res.status = StatusOK
				return res
			case at.TypeError:
				res.text = appendLine(res.text, s, limit)
				res.status = StatusError
				return res
			case at.TypeURC:
				m.handleURC(s)
				if m.active == opRecv {
					if link, event, ok := at.ParseLinkEvent(s); ok && event == at.UrcClosed && link == m.recvLink {
						res.status = StatusError
						res.peerClosed = true
						return res
					}
				}
			default:
				res.text = appendLine(res.text, s, limit)
			}

		case b == at.Prompt && len(line) == 0:
			res.status = StatusSend
			return res

		case b == ':':
			window := line[max(0, len(line)-ipdWindow):]
			ipd, err := at.ParseIPD(window, m.multi.Load())
			if err == nil && ipd.Length <= maxIPDLength {
				return m.intercept(res, ipd)
			}
			if !errors.Is(err, at.ErrNoIPD) {
				m.logger.Warn("malformed data announcement", "header", string(window), "error", err)
			}
			line = append(line, b)

		default:
			if len(line) < limit {
				line = append(line, b)
			}
		}
	}
}

// intercept reads the payload announced by ipd. Bytes are read without a
// deadline because the module always delivers the full announced length.
func (m *Modem) intercept(res scanResult, ipd at.IPD) scanResult {
	data, err := m.readRaw(ipd.Length)
	if err != nil {
		m.logger.Warn("inbound payload aborted",
			"link", ipd.LinkID,
			"want", ipd.Length,
			"got", len(data),
			"error", err)
		res.status = StatusError
		return res
	}

	res.status = StatusRecv
	res.ipd = ipd
	if m.active == opRecv {
		res.payload = data
	} else {
		m.stage(ipd.LinkID, data)
	}
	return res
}

// readRaw takes exactly n bytes from the ring. It only gives up when no
// more bytes can arrive.
func (m *Modem) readRaw(n int) ([]byte, error) {
	data := make([]byte, 0, n)
	for len(data) < n {
		b, err := m.rx.Pop()
		if err != nil {
			if m.readerGone() {
				return data, ErrAlreadyClosed
			}
			m.sleep()
			continue
		}
		data = append(data, b)
	}
	return data, nil
}

// stage queues data for a later receive on link.
func (m *Modem) stage(link int, data []byte) {
	if old, ok := m.pending.push(link, data); ok {
		m.logger.Warn("pending data dropped",
			"link", old.link,
			"size", humanize.Bytes(uint64(len(old.data))))
	}
	m.logger.Debug("inbound data staged", "link", link, "size", len(data))
}

// await scans until a terminator that ends the active operation. Payloads
// staged for later receives do not end it: scanning resumes with the time
// left and the text collected so far is kept.
func (m *Modem) await(deadline time.Time) scanResult {
	var text []byte
	for {
		res := m.scan(deadline)
		text = appendBounded(text, res.text, m.config.ResponseBufferSize)
		if res.status == StatusRecv && m.active != opRecv {
			continue
		}
		res.text = text
		return res
	}
}

func appendLine(buf []byte, line string, limit int) []byte {
	buf = appendBounded(buf, []byte(line), limit)
	return appendBounded(buf, []byte(at.CRLF), limit)
}

func appendBounded(buf, p []byte, limit int) []byte {
	if room := limit - len(buf); room < len(p) {
		p = p[:max(0, room)]
	}
	return append(buf, p...)
}
