package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"

	"i4.energy/across/espwifi/at"
	"i4.energy/across/espwifi/modem"
	"i4.energy/across/espwifi/sockets"
)

// Server handles incoming HTTP requests for inspecting and testing the
// configured module
type Server struct {
	Logger  *slog.Logger
	Modem   *modem.Modem
	Sockets *sockets.Manager
	Echo    *EchoRunner
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /networks", s.handleNetworks)
	mux.HandleFunc("GET /resolve", s.handleResolve)
	mux.HandleFunc("POST /echo", s.handleEcho)
	mux.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	resp := ErrorResponse{Message: message}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("Failed to encode response", "error", err)
	}
}

// errorStatus maps socket failures to HTTP status codes.
func errorStatus(err error) int {
	switch sockets.CodeOf(err) {
	case sockets.CodeInvalidArgument:
		return http.StatusBadRequest
	case sockets.CodeResourceBusy, sockets.CodeNoFreeSocket:
		return http.StatusServiceUnavailable
	case sockets.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// handleStatus reports the module addresses, receive path counters and open
// sockets
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	type StatusResponse struct {
		Connected      bool                 `json:"connected"`
		MultiConn      bool                 `json:"multi_conn"`
		StationIP      string               `json:"station_ip,omitempty"`
		StationMAC     string               `json:"station_mac,omitempty"`
		RxBuffered     int                  `json:"rx_buffered"`
		RxOverflows    uint64               `json:"rx_overflows"`
		PendingBlocks  int                  `json:"pending_blocks"`
		PendingBytes   string               `json:"pending_bytes"`
		PendingDropped uint64               `json:"pending_dropped"`
		Sockets        []sockets.SocketInfo `json:"sockets"`
	}

	var st at.NetStatus
	err := s.Sockets.Exclusive(r.Context(), func() error {
		var err error
		st, err = s.Modem.NetStatus()
		return err
	})
	if err != nil {
		s.Logger.Error("Failed to query addresses", "error", err)
		s.sendError(w, err.Error(), errorStatus(err))
		return
	}

	infos, err := s.Sockets.Sockets(r.Context())
	if err != nil {
		s.sendError(w, err.Error(), errorStatus(err))
		return
	}

	stats := s.Modem.Stats()
	resp := StatusResponse{
		Connected:      s.Modem.IsConnected(),
		MultiConn:      s.Modem.IsMultiConn(),
		RxBuffered:     stats.RxBuffered,
		RxOverflows:    stats.RxOverflows,
		PendingBlocks:  stats.PendingBlocks,
		PendingBytes:   humanize.Bytes(uint64(stats.PendingBytes)),
		PendingDropped: stats.PendingDropped,
		Sockets:        infos,
	}
	if st.StationIP.IsValid() {
		resp.StationIP = st.StationIP.String()
	}
	if st.StationMAC != nil {
		resp.StationMAC = st.StationMAC.String()
	}
	s.sendJSON(w, resp)
}

// handleNetworks scans for access points. The optional max parameter limits
// the number of entries.
func (s *Server) handleNetworks(w http.ResponseWriter, r *http.Request) {
	type Network struct {
		SSID     string `json:"ssid"`
		BSSID    string `json:"bssid"`
		RSSI     int    `json:"rssi"`
		Channel  int    `json:"channel"`
		Security string `json:"security"`
	}

	limit := 16
	if v := r.URL.Query().Get("max"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.sendError(w, "max must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	var aps []at.AccessPoint
	err := s.Sockets.Exclusive(r.Context(), func() error {
		var err error
		aps, err = s.Modem.ScanAPs(limit)
		return err
	})
	if err != nil {
		s.Logger.Error("Failed to scan access points", "error", err)
		s.sendError(w, err.Error(), errorStatus(err))
		return
	}

	networks := make([]Network, 0, len(aps))
	for _, ap := range aps {
		networks = append(networks, Network{
			SSID:     ap.SSID,
			BSSID:    ap.BSSID.String(),
			RSSI:     ap.RSSI,
			Channel:  ap.Channel,
			Security: ap.Security.String(),
		})
	}
	s.sendJSON(w, networks)
}

// handleResolve looks up the host parameter through the module
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("host")
	if host == "" {
		s.sendError(w, "'host' parameter is required", http.StatusBadRequest)
		return
	}

	addr, err := s.Sockets.GetHostByName(r.Context(), host)
	if err != nil {
		s.Logger.Error("Failed to resolve host", "host", host, "error", err)
		s.sendError(w, err.Error(), errorStatus(err))
		return
	}

	s.sendJSON(w, map[string]string{"host": host, "address": addr.String()})
}

// handleEcho runs a self test against an echo server and waits for the result
func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	var req EchoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Address == "" {
		req.Address = s.Echo.Address
	}
	if req.Address == "" || req.Message == "" {
		s.sendError(w, "both 'address' and 'message' fields are required", http.StatusBadRequest)
		return
	}
	if _, _, err := net.SplitHostPort(req.Address); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	res, err := s.Echo.Run(r.Context(), req)
	if err != nil && !errors.Is(err, errEchoMismatch) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(errorStatus(err))
		json.NewEncoder(w).Encode(res)
		return
	}

	s.sendJSON(w, res)
}
