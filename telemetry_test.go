package main

import (
	"context"
	"log/slog"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"i4.energy/across/espwifi/modem"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func newTestTelemetry(t *testing.T, tr *modem.ScriptedTransport) *Telemetry {
	t.Helper()
	m, mgr := newStack(t, tr)
	logger := slog.New(slog.DiscardHandler)
	return &Telemetry{
		Logger:  logger,
		Modem:   m,
		Sockets: mgr,
		Echo:    &EchoRunner{Logger: logger, Sockets: mgr, Address: "10.0.0.2:7"},
		Broker:  "tcp://broker.local:1883",
		Topic:   "espwifi",
	}
}

func TestTelemetryDial(t *testing.T) {
	tr := modem.NewScriptedTransport()
	tr.Expect(`AT+CIPDOMAIN="broker.local"`, "+CIPDOMAIN:10.1.1.1\r\n\r\nOK\r\n")
	tr.Always("AT+CIPSTART=", "CONNECT\r\n\r\nOK\r\n")
	tel := newTestTelemetry(t, tr)

	uri, err := url.Parse("tcp://broker.local:8883")
	require.NoError(t, err)

	conn, err := tel.dial(context.Background(), uri)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "10.1.1.1:8883", conn.RemoteAddr().String())
	assert.Contains(t, tr.Commands(), `AT+CIPSTART="TCP","10.1.1.1",8883`)
}

func TestTelemetryDialDefaultPort(t *testing.T) {
	tr := modem.NewScriptedTransport()
	tr.Always("AT+CIPSTART=", "CONNECT\r\n\r\nOK\r\n")
	tel := newTestTelemetry(t, tr)

	uri, err := url.Parse("tcp://10.1.1.2")
	require.NoError(t, err)

	conn, err := tel.dial(context.Background(), uri)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, "10.1.1.2:1883", conn.RemoteAddr().String())
}

func TestTelemetryCommands(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		queued  bool
	}{
		{name: "Echo", payload: `{"op":"echo","id":"abc","address":"10.0.0.3:7","message":"hi"}`, queued: true},
		{name: "Echo to the default address", payload: `{"op":"echo","message":"hi"}`, queued: true},
		{name: "Echo without message", payload: `{"op":"echo","address":"10.0.0.3:7"}`},
		{name: "Unknown op", payload: `{"op":"reboot"}`},
		{name: "Bad JSON", payload: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tel := newTestTelemetry(t, modem.NewScriptedTransport())

			tel.handleCommand(nil, &fakeMessage{topic: "espwifi/cmd", payload: []byte(tt.payload)})

			if !tt.queued {
				assert.Zero(t, len(tel.Echo.jobs()))
				return
			}
			require.Equal(t, 1, len(tel.Echo.jobs()))
			job := <-tel.Echo.jobs()
			assert.Equal(t, "hi", job.req.Message)
			assert.NotEmpty(t, job.req.ID)
			assert.NotEmpty(t, job.req.Address)
		})
	}
}

func TestTelemetryHeartbeat(t *testing.T) {
	tr := modem.NewScriptedTransport()
	tel := newTestTelemetry(t, tr)

	tr.Inject("WIFI CONNECTED\r\nWIFI GOT IP\r\n")
	require.NoError(t, tel.Sockets.Exclusive(context.Background(), func() error {
		// Any command lets the scanner see the reports queued before it
		_, err := tel.Modem.Execute("AT")
		return err
	}))

	hb := tel.heartbeat(context.Background())
	assert.True(t, hb.Connected)
	assert.Zero(t, hb.Sockets)
	assert.Equal(t, "0 B", hb.PendingBytes)
	assert.WithinDuration(t, time.Now(), hb.Time, time.Minute)

	// Not connected to a broker, so nothing is published
	tel.PublishResult(EchoResult{ID: "x"})
}
