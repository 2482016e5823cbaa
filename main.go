package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"i4.energy/across/espwifi/modem"
	"i4.energy/across/espwifi/sockets"
)

func main() {
	configFile := flag.String("config", "", "Path to a YAML configuration file")
	flag.String("serial-port", "/dev/ttyUSB0", "Serial port to connect to the module")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("bind-address", "0.0.0.0:8080", "Bind address for the HTTP server")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("ssid", "", "Access point to join")
	flag.String("passphrase", "", "Access point passphrase")
	flag.Bool("multi-conn", false, "Enable multiple connection mode")
	flag.Int("max-sockets", 4, "Size of the socket table")
	flag.Duration("command-timeout", 5*time.Second, "Timeout of a single AT command")
	flag.String("echo-address", "", "Echo server used by self tests (host:port)")
	flag.Int("echo-retries", 3, "Connection attempts of a self test")
	flag.String("mqtt-broker", "", "MQTT broker URL, empty disables telemetry")
	flag.String("mqtt-topic", "espwifi", "MQTT topic prefix")
	flag.Duration("mqtt-interval", time.Minute, "Heartbeat interval")
	flag.Parse()

	config, err := LoadConfig(WithDefaults(), WithFile(*configFile), WithEnv(), WithFlags(flag.CommandLine))
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	modemConfig, err := modem.NewConfigBuilder().
		WithCommandTimeout(config.CommandTimeout).
		WithMultiConn(config.MultiConn).
		WithLogger(logger.With("component", "modem")).
		WithDialer(modem.SerialDialer{
			PortName: config.SerialPort,
			BaudRate: config.BaudRate,
		}).
		Build()
	if err != nil {
		logger.Error("Failed to create modem config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m, err := modem.New(ctx, modemConfig)
	if err != nil {
		logger.Error("Failed to create modem", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := m.Loop(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Modem read loop stopped", "error", err)
			cancel()
		}
	}()
	go func() {
		for urc := range m.URC() {
			logger.Debug("Unsolicited report", "line", urc)
		}
	}()

	if err := m.Init(); err != nil {
		logger.Error("Failed to initialize module", "error", err)
		os.Exit(1)
	}
	if config.SSID != "" {
		if err := m.JoinAP(config.SSID, config.Passphrase); err != nil {
			logger.Error("Failed to join access point", "ssid", config.SSID, "error", err)
			os.Exit(1)
		}
		if st, err := m.NetStatus(); err == nil {
			logger.Info("Joined access point", "ssid", config.SSID, "ip", st.StationIP.String(), "mac", st.StationMAC.String())
		}
	}

	mgr := sockets.NewManager(m, sockets.Config{
		MaxSockets: config.MaxSockets,
		Logger:     logger.With("component", "sockets"),
	})

	echo := &EchoRunner{
		Logger:  logger.With("component", "echo"),
		Sockets: mgr,
		Address: config.EchoAddress,
		Retries: config.EchoRetries,
		Backoff: time.Second,
		Limit:   NewRate(config.EchoRatePerMin),
	}

	if config.MQTTBroker != "" {
		telemetry := &Telemetry{
			Logger:   logger.With("component", "telemetry"),
			Modem:    m,
			Sockets:  mgr,
			Echo:     echo,
			Broker:   config.MQTTBroker,
			ClientID: config.MQTTClientID,
			Topic:    config.MQTTTopic,
			Username: config.MQTTUsername,
			Password: config.MQTTPassword,
			Interval: config.MQTTInterval,
		}
		echo.OnResult = telemetry.PublishResult
		if err := telemetry.Start(ctx); err != nil {
			logger.Error("Failed to start telemetry", "error", err)
		}
	}
	go echo.Work(ctx)

	logger.Info("Starting ESP8266 WiFi daemon", "serial_port", config.SerialPort, "multi_conn", m.IsMultiConn())

	httpServer := &http.Server{
		Addr: config.BindAddress,
		Handler: &Server{
			Logger:  logger.With("component", "server"),
			Modem:   m,
			Sockets: mgr,
			Echo:    echo,
		},
	}

	// Start HTTP server in a goroutine
	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Info("Closing HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to gracefully shutdown server", "error", err)
	}

	logger.Info("Closing modem connection")
	if err := m.Close(); err != nil {
		logger.Error("Failed to close modem", "error", err)
		os.Exit(1)
	}
}
