package modem

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"i4.energy/across/espwifi/at"
)

// Init checks that the module answers, turns command echo off and selects
// the configured connection mode. Loop must be running.
func (m *Modem) Init() error {
	// 1. Wake-up / sanity check
	if _, err := m.expectOK(at.CmdAt, m.config.CommandTimeout, 0); err != nil {
		return fmt.Errorf("modem not responding: %w", err)
	}

	if _, err := m.expectOK(at.CmdEchoOff, m.config.CommandTimeout, 0); err != nil {
		return fmt.Errorf("could not disable echo: %w", err)
	}

	if err := m.SetMultiConn(m.config.MultiConn); err != nil {
		return fmt.Errorf("select connection mode: %w", err)
	}
	return nil
}

// Reset restarts the module, waits until it answers again and repeats Init.
// Every link and the WiFi association are lost.
func (m *Modem) Reset(ctx context.Context, config PollConfig) error {
	if _, err := m.expectOK(at.CmdReset, m.config.CommandTimeout, m.config.ResetQuiet); err != nil {
		return err
	}

	m.setConnected(false)
	m.mu.Lock()
	clear(m.closedLinks)
	m.mu.Unlock()
	m.multi.Store(false)

	if err := m.waitReady(ctx, config); err != nil {
		return err
	}
	return m.Init()
}

// waitReady polls the module with AT until it answers OK. This is necessary
// after a reset, as the module prints its boot banner and needs time to come
// back. Uses configurable polling interval and retry limits to avoid
// infinite waiting.
func (m *Modem) waitReady(ctx context.Context, config PollConfig) error {
	var (
		pollInterval = config.Interval
		timeout      = config.Timeout
		maxRetries   = config.MaxRetries
	)

	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxRetries <= 0 {
		maxRetries = int(timeout / pollInterval)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	retries := 0

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("module not ready: %w", ctx.Err())
		case <-ticker.C:
			retries++
			if retries > maxRetries {
				return fmt.Errorf("module not ready after %d retries", maxRetries)
			}
			resp, err := m.execute(at.CmdAt, pollInterval, 0)
			if err != nil {
				// Fail fast on critical errors
				if errors.Is(err, ErrAlreadyClosed) || errors.Is(err, ErrNotInitialized) {
					return fmt.Errorf("ready check failed: %w", err)
				}
				continue
			}
			if resp.Status == StatusOK {
				return nil
			}
		}
	}
}

// JoinAP switches the module to station mode and associates with the access
// point. The password may be empty for open networks.
func (m *Modem) JoinAP(ssid, password string) error {
	if ssid == "" {
		return fmt.Errorf("join: empty SSID: %w", ErrInvalidArgument)
	}
	if _, err := m.expectOK(at.CmdStationMode, m.config.CommandTimeout, 0); err != nil {
		return err
	}
	if _, err := m.expectOK(at.JoinAP(ssid, password), m.config.JoinTimeout, 0); err != nil {
		return err
	}
	m.setConnected(true)
	return nil
}

// QuitAP leaves the current access point.
func (m *Modem) QuitAP() error {
	if _, err := m.expectOK(at.CmdQuitAP, m.config.CommandTimeout, 0); err != nil {
		return err
	}
	m.setConnected(false)
	return nil
}

// ScanAPs lists the access points in range, at most max of them when max is
// positive. Scanning takes a few seconds, so it runs with the join timeout.
func (m *Modem) ScanAPs(max int) ([]at.AccessPoint, error) {
	resp, err := m.expectOK(at.CmdListAP, m.config.JoinTimeout, 0)
	if err != nil {
		return nil, err
	}
	return at.ParseAccessPoints(resp.Text, max), nil
}

// NetStatus reads the station and soft-AP addresses.
func (m *Modem) NetStatus() (at.NetStatus, error) {
	resp, err := m.expectOK(at.CmdAddress, m.config.CommandTimeout, 0)
	if err != nil {
		return at.NetStatus{}, err
	}
	return at.ParseAddresses(resp.Text), nil
}

// GetHostIP resolves host with the module's DNS client.
func (m *Modem) GetHostIP(host string) (netip.Addr, error) {
	resp, err := m.expectOK(at.Domain(host), m.config.JoinTimeout, 0)
	if err != nil {
		return netip.Addr{}, err
	}
	addr, err := at.ParseDomain(resp.Text)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("resolve %s: %w: %w", host, ErrUnexpectedResponse, err)
	}
	return addr, nil
}

// SetMultiConn selects single or multiple connection mode. The module only
// accepts the change while no link is open.
func (m *Modem) SetMultiConn(on bool) error {
	if _, err := m.expectOK(at.SetMultiConn(on), m.config.CommandTimeout, 0); err != nil {
		return err
	}
	m.multi.Store(on)
	return nil
}
