package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"i4.energy/across/espwifi/modem"
	"i4.energy/across/espwifi/sockets"
)

const defaultMQTTPort = 1883

// Heartbeat is published periodically on the telemetry topic.
type Heartbeat struct {
	Time           time.Time `json:"time"`
	Connected      bool      `json:"connected"`
	Sockets        int       `json:"sockets"`
	RxBuffered     int       `json:"rx_buffered"`
	RxOverflows    uint64    `json:"rx_overflows"`
	PendingBlocks  int       `json:"pending_blocks"`
	PendingBytes   string    `json:"pending_bytes"`
	PendingDropped uint64    `json:"pending_dropped"`
}

// Command is a request received on "<topic>/cmd".
type Command struct {
	Op      string `json:"op"`
	ID      string `json:"id,omitempty"`
	Address string `json:"address,omitempty"`
	Message string `json:"message,omitempty"`
}

// Telemetry connects to an MQTT broker through the module, publishes
// heartbeats and accepts echo commands.
type Telemetry struct {
	Logger   *slog.Logger
	Modem    *modem.Modem
	Sockets  *sockets.Manager
	Echo     *EchoRunner
	Broker   string
	ClientID string
	Topic    string
	Username string
	Password string
	Interval time.Duration

	client mqtt.Client
}

// Start connects to the broker and runs the heartbeat until ctx is done.
func (t *Telemetry) Start(ctx context.Context) error {
	clientID := t.ClientID
	if clientID == "" {
		clientID = "espwifi-" + uuid.NewString()
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(t.Broker)
	opts.SetClientID(clientID)
	if t.Username != "" {
		opts.SetUsername(t.Username)
		opts.SetPassword(t.Password)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetConnectTimeout(30 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetCustomOpenConnectionFn(func(uri *url.URL, _ mqtt.ClientOptions) (net.Conn, error) {
		return t.dial(ctx, uri)
	})
	opts.SetOnConnectHandler(t.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		t.Logger.Warn("MQTT connection lost", "error", err)
	})

	t.client = mqtt.NewClient(opts)
	token := t.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to %s: %w", t.Broker, token.Error())
	}
	t.Logger.Info("MQTT connected", "broker", t.Broker, "client_id", clientID)

	go t.heartbeatLoop(ctx)
	go func() {
		<-ctx.Done()
		t.client.Disconnect(500)
	}()
	return nil
}

// dial opens a module socket to the broker named in uri.
func (t *Telemetry) dial(ctx context.Context, uri *url.URL) (net.Conn, error) {
	port := defaultMQTTPort
	if p := uri.Port(); p != "" {
		v, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("broker port %q: %w", p, err)
		}
		port = int(v)
	}
	ip, err := t.Sockets.GetHostByName(ctx, uri.Hostname())
	if err != nil {
		return nil, err
	}
	return sockets.Dial(ctx, t.Sockets, netip.AddrPortFrom(ip, uint16(port)))
}

func (t *Telemetry) onConnect(c mqtt.Client) {
	topic := t.Topic + "/cmd"
	token := c.Subscribe(topic, 0, t.handleCommand)
	if token.Wait() && token.Error() != nil {
		t.Logger.Error("MQTT subscribe failed", "topic", topic, "error", token.Error())
		return
	}
	t.Logger.Info("MQTT subscribed", "topic", topic)
}

func (t *Telemetry) handleCommand(_ mqtt.Client, msg mqtt.Message) {
	var cmd Command
	if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
		t.Logger.Warn("MQTT bad command payload", "error", err)
		return
	}
	switch cmd.Op {
	case "echo":
		if cmd.Address == "" {
			cmd.Address = t.Echo.Address
		}
		if cmd.Address == "" || cmd.Message == "" {
			t.Logger.Warn("MQTT echo command without address or message", "id", cmd.ID)
			return
		}
		id, err := t.Echo.Enqueue(EchoRequest{ID: cmd.ID, Address: cmd.Address, Message: cmd.Message})
		if err != nil {
			t.Logger.Error("Echo not queued", "error", err)
			return
		}
		t.Logger.Info("Echo queued", "id", id, "address", cmd.Address)
	default:
		t.Logger.Warn("MQTT unknown command", "op", cmd.Op)
	}
}

// PublishResult sends an echo result on "<topic>/echo".
func (t *Telemetry) PublishResult(res EchoResult) {
	t.publish(t.Topic+"/echo", res)
}

func (t *Telemetry) heartbeat(ctx context.Context) Heartbeat {
	st := t.Modem.Stats()
	hb := Heartbeat{
		Time:           time.Now().UTC(),
		Connected:      t.Modem.IsConnected(),
		RxBuffered:     st.RxBuffered,
		RxOverflows:    st.RxOverflows,
		PendingBlocks:  st.PendingBlocks,
		PendingBytes:   humanize.Bytes(uint64(st.PendingBytes)),
		PendingDropped: st.PendingDropped,
	}
	if infos, err := t.Sockets.Sockets(ctx); err == nil {
		hb.Sockets = len(infos)
	}
	return hb
}

func (t *Telemetry) heartbeatLoop(ctx context.Context) {
	interval := t.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.publish(t.Topic+"/heartbeat", t.heartbeat(ctx))
		}
	}
}

func (t *Telemetry) publish(topic string, v any) {
	if t.client == nil || !t.client.IsConnectionOpen() {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		t.Logger.Error("MQTT encode failed", "topic", topic, "error", err)
		return
	}
	token := t.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(10*time.Second) || token.Error() != nil {
		t.Logger.Warn("MQTT publish failed", "topic", topic, "error", token.Error())
	}
}
