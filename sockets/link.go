package sockets

//go:generate go tool mockgen -source=link.go -destination=mock_link_test.go -package=sockets

import (
	"net/netip"
	"time"

	"i4.energy/across/espwifi/modem"
)

// Link is the part of the modem the socket manager drives. *modem.Modem
// implements it.
type Link interface {
	StartClient(c *modem.Conn) error
	StopClient(c *modem.Conn) error
	Send(c *modem.Conn, p []byte, timeout time.Duration) (int, error)
	Recv(c *modem.Conn, p []byte, timeout time.Duration) (int, error)
	GetHostIP(host string) (netip.Addr, error)
}

var _ Link = (*modem.Modem)(nil)
