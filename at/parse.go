package at

import (
	"errors"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// The parsers below are positional. They depend on the field order of the
// ESP-AT firmware responses; a firmware that reorders fields breaks them.

// ErrNoAddress is returned by ParseDomain when no +CIPDOMAIN line is present.
var ErrNoAddress = errors.New("at: no address in response")

// NetStatus holds the AT+CIFSR addresses. Zero values mean "not reported".
type NetStatus struct {
	StationIP  netip.Addr
	StationMAC net.HardwareAddr
	APIP       netip.Addr
	APMAC      net.HardwareAddr
}

// Security is the encryption of a scanned access point.
type Security int

const (
	SecurityOpen Security = iota
	SecurityWEP
	SecurityWPA
	SecurityWPA2
	SecurityNotSupported
)

func (s Security) String() string {
	switch s {
	case SecurityOpen:
		return "open"
	case SecurityWEP:
		return "wep"
	case SecurityWPA:
		return "wpa"
	case SecurityWPA2:
		return "wpa2"
	default:
		return "unsupported"
	}
}

// AccessPoint is one AT+CWLAP entry.
type AccessPoint struct {
	Security Security
	SSID     string
	RSSI     int
	BSSID    net.HardwareAddr
	Channel  int
}

// ParseIP decodes a dotted quad, tolerating surrounding quotes.
func ParseIP(s string) (netip.Addr, error) {
	return netip.ParseAddr(strings.Trim(strings.TrimSpace(s), `"`))
}

// ParseMAC decodes a colon separated MAC, tolerating surrounding quotes.
func ParseMAC(s string) (net.HardwareAddr, error) {
	return net.ParseMAC(strings.Trim(strings.TrimSpace(s), `"`))
}

// ParseAddresses decodes the AT+CIFSR response:
//
//	+CIFSR:STAIP,"192.168.1.10"
//	+CIFSR:STAMAC,"5c:cf:7f:00:00:01"
//
// Unknown or malformed lines are skipped.
func ParseAddresses(text string) NetStatus {
	var st NetStatus
	for _, line := range Lines(text) {
		if !strings.HasPrefix(line, PrefixCIFSR) {
			continue
		}
		f := Fields(strings.TrimPrefix(line, PrefixCIFSR), ",")
		if len(f) < 2 {
			continue
		}
		switch f[0] {
		case "STAIP":
			if ip, err := ParseIP(f[1]); err == nil {
				st.StationIP = ip
			}
		case "STAMAC":
			if mac, err := ParseMAC(f[1]); err == nil {
				st.StationMAC = mac
			}
		case "APIP":
			if ip, err := ParseIP(f[1]); err == nil {
				st.APIP = ip
			}
		case "APMAC":
			if mac, err := ParseMAC(f[1]); err == nil {
				st.APMAC = mac
			}
		}
	}
	return st
}

// ParseAccessPoints decodes up to max entries of the AT+CWLAP response:
//
//	+CWLAP:(<ecn>,"<ssid>",<rssi>,"<mac>",<channel>,...)
//
// A max of zero or less returns every entry.
func ParseAccessPoints(text string, max int) []AccessPoint {
	var aps []AccessPoint
	for _, line := range Lines(text) {
		if max > 0 && len(aps) >= max {
			break
		}
		if !strings.HasPrefix(line, PrefixCWLAP) {
			continue
		}
		body := strings.TrimPrefix(line, PrefixCWLAP)
		body = strings.TrimSuffix(strings.TrimPrefix(body, "("), ")")

		f := Fields(body, ",")
		if len(f) < 5 {
			continue
		}
		var ap AccessPoint
		ecn, _ := strconv.Atoi(f[0])
		switch {
		case ecn == 4:
			// WPA_WPA2 is reported as WPA2
			ap.Security = SecurityWPA2
		case ecn > 4 || ecn < 0:
			ap.Security = SecurityNotSupported
		default:
			ap.Security = Security(ecn)
		}
		ap.SSID = f[1]
		ap.RSSI, _ = strconv.Atoi(f[2])
		ap.BSSID, _ = ParseMAC(f[3])
		ap.Channel, _ = strconv.Atoi(f[4])
		aps = append(aps, ap)
	}
	return aps
}

// ParseDomain decodes the AT+CIPDOMAIN response "+CIPDOMAIN:<ip>".
func ParseDomain(text string) (netip.Addr, error) {
	for _, line := range Lines(text) {
		if !strings.HasPrefix(line, PrefixCIPDOMAIN) {
			continue
		}
		return ParseIP(strings.TrimPrefix(line, PrefixCIPDOMAIN))
	}
	return netip.Addr{}, ErrNoAddress
}
