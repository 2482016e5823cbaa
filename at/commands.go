package at

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// ConnType is the transport requested in AT+CIPSTART.
type ConnType int

const (
	TCP ConnType = iota
	UDP
	SSL
)

func (t ConnType) String() string {
	switch t {
	case UDP:
		return "UDP"
	case SSL:
		return "SSL"
	default:
		return "TCP"
	}
}

// Quote returns s as an AT string argument. Quotes and backslashes are
// escaped the way the ESP-AT firmware expects.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if c := s[i]; c == '"' || c == '\\' || c == ',' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('"')
	return b.String()
}

func quoteAddr(a netip.Addr) string {
	return `"` + a.Unmap().String() + `"`
}

// JoinAP builds AT+CWJAP="<ssid>","<password>".
func JoinAP(ssid, password string) string {
	return "AT+CWJAP=" + Quote(ssid) + "," + Quote(password)
}

// SetMultiConn builds AT+CIPMUX=<0|1>.
func SetMultiConn(on bool) string {
	if on {
		return "AT+CIPMUX=1"
	}
	return "AT+CIPMUX=0"
}

// Domain builds AT+CIPDOMAIN="<host>".
func Domain(host string) string {
	return "AT+CIPDOMAIN=" + Quote(host)
}

// StartParams holds the AT+CIPSTART arguments of one link.
type StartParams struct {
	LinkID    int
	Type      ConnType
	Remote    netip.AddrPort
	KeepAlive uint16 // TCP and SSL only, 0 omits it
	LocalPort uint16 // UDP only, 0 omits it and UDPMode
	UDPMode   int
}

// StartClient builds
//
//	AT+CIPSTART=[<link>,]"TCP"|"SSL","<ip>",<port>[,<keepalive>]
//	AT+CIPSTART=[<link>,]"UDP","<ip>",<port>[,<localport>,<mode>]
func StartClient(p StartParams, multi bool) string {
	var b strings.Builder
	b.WriteString("AT+CIPSTART=")
	if multi {
		b.WriteString(strconv.Itoa(p.LinkID))
		b.WriteByte(',')
	}
	fmt.Fprintf(&b, "%q,%s,%d", p.Type.String(), quoteAddr(p.Remote.Addr()), p.Remote.Port())
	if p.Type == UDP {
		if p.LocalPort > 0 {
			fmt.Fprintf(&b, ",%d,%d", p.LocalPort, p.UDPMode)
		}
	} else if p.KeepAlive > 0 {
		fmt.Fprintf(&b, ",%d", p.KeepAlive)
	}
	return b.String()
}

// CloseClient builds AT+CIPCLOSE[=<link>].
func CloseClient(link int, multi bool) string {
	if multi {
		return "AT+CIPCLOSE=" + strconv.Itoa(link)
	}
	return "AT+CIPCLOSE"
}

// SendLength builds AT+CIPSEND=[<link>,]<length>[,"<ip>",<port>]. The
// remote address is only added when remote is valid (UDP with a local port).
func SendLength(link, length int, multi bool, remote netip.AddrPort) string {
	var b strings.Builder
	b.WriteString("AT+CIPSEND=")
	if multi {
		b.WriteString(strconv.Itoa(link))
		b.WriteByte(',')
	}
	b.WriteString(strconv.Itoa(length))
	if remote.IsValid() {
		fmt.Fprintf(&b, ",%s,%d", quoteAddr(remote.Addr()), remote.Port())
	}
	return b.String()
}
