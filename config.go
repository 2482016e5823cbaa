package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the server listens on (e.g. "0.0.0.0:8080")
	BindAddress string `yaml:"bind_address"`
	// SerialPort is the path to the module's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string `yaml:"serial_port"`
	// BaudRate is the baud rate for serial communication with the module (e.g. 115200)
	BaudRate int `yaml:"baud_rate"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `yaml:"log_level"`

	SSID       string `yaml:"ssid"`
	Passphrase string `yaml:"passphrase"`
	// MultiConn enables multiple connection mode on the module
	MultiConn bool `yaml:"multi_conn"`
	// MaxSockets is the size of the socket table
	MaxSockets     int           `yaml:"max_sockets"`
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// EchoAddress is the default echo server for self tests (e.g. "192.168.1.2:7")
	EchoAddress string `yaml:"echo_address"`
	// EchoRetries is the number of connection attempts of a self test
	EchoRetries int `yaml:"echo_retries"`
	// EchoRatePerMin limits queued self tests
	EchoRatePerMin int `yaml:"echo_rate_per_min"`

	// MQTTBroker enables telemetry when set (e.g. "tcp://broker.local:1883")
	MQTTBroker   string        `yaml:"mqtt_broker"`
	MQTTClientID string        `yaml:"mqtt_client_id"`
	MQTTTopic    string        `yaml:"mqtt_topic"`
	MQTTUsername string        `yaml:"mqtt_username"`
	MQTTPassword string        `yaml:"mqtt_password"`
	MQTTInterval time.Duration `yaml:"mqtt_interval"`
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.MaxSockets = 4
		c.CommandTimeout = 5 * time.Second
		c.EchoRetries = 3
		c.EchoRatePerMin = 30
		c.MQTTTopic = "espwifi"
		c.MQTTInterval = time.Minute
		return nil
	}
}

// WithFile loads configuration from a YAML file. An empty path is ignored.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		if addr := os.Getenv("BIND_ADDRESS"); addr != "" {
			c.BindAddress = addr
		}

		if serial := os.Getenv("SERIAL_PORT"); serial != "" {
			c.SerialPort = serial
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			if b, err := strconv.Atoi(baud); err == nil {
				c.BaudRate = b
			}
		}

		if level := os.Getenv("LOG_LEVEL"); level != "" {
			c.LogLevel = level
		}

		if ssid := os.Getenv("WIFI_SSID"); ssid != "" {
			c.SSID = ssid
		}

		if pass := os.Getenv("WIFI_PASSPHRASE"); pass != "" {
			c.Passphrase = pass
		}

		if multi := os.Getenv("MULTI_CONN"); multi != "" {
			if b, err := strconv.ParseBool(multi); err == nil {
				c.MultiConn = b
			}
		}

		if n := os.Getenv("MAX_SOCKETS"); n != "" {
			if v, err := strconv.Atoi(n); err == nil {
				c.MaxSockets = v
			}
		}

		if d := os.Getenv("COMMAND_TIMEOUT"); d != "" {
			if v, err := time.ParseDuration(d); err == nil {
				c.CommandTimeout = v
			}
		}

		if addr := os.Getenv("ECHO_ADDRESS"); addr != "" {
			c.EchoAddress = addr
		}

		if n := os.Getenv("ECHO_RETRIES"); n != "" {
			if v, err := strconv.Atoi(n); err == nil {
				c.EchoRetries = v
			}
		}

		if broker := os.Getenv("MQTT_BROKER"); broker != "" {
			c.MQTTBroker = broker
		}

		if id := os.Getenv("MQTT_CLIENT_ID"); id != "" {
			c.MQTTClientID = id
		}

		if topic := os.Getenv("MQTT_TOPIC"); topic != "" {
			c.MQTTTopic = topic
		}

		if user := os.Getenv("MQTT_USERNAME"); user != "" {
			c.MQTTUsername = user
		}

		if pass := os.Getenv("MQTT_PASSWORD"); pass != "" {
			c.MQTTPassword = pass
		}

		if d := os.Getenv("MQTT_INTERVAL"); d != "" {
			if v, err := time.ParseDuration(d); err == nil {
				c.MQTTInterval = v
			}
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		var err error
		fSet.Visit(func(f *flag.Flag) {
			value := f.Value.String()
			switch f.Name {
			case "bind-address":
				c.BindAddress = value
			case "serial-port":
				c.SerialPort = value
			case "baud-rate":
				if b, perr := strconv.Atoi(value); perr == nil {
					c.BaudRate = b
				}
			case "log-level":
				c.LogLevel = value
			case "ssid":
				c.SSID = value
			case "passphrase":
				c.Passphrase = value
			case "multi-conn":
				c.MultiConn = value == "true"
			case "max-sockets":
				if v, perr := strconv.Atoi(value); perr == nil {
					c.MaxSockets = v
				}
			case "command-timeout":
				if v, perr := time.ParseDuration(value); perr == nil {
					c.CommandTimeout = v
				} else {
					err = fmt.Errorf("flag -command-timeout: %w", perr)
				}
			case "echo-address":
				c.EchoAddress = value
			case "echo-retries":
				if v, perr := strconv.Atoi(value); perr == nil {
					c.EchoRetries = v
				}
			case "mqtt-broker":
				c.MQTTBroker = value
			case "mqtt-topic":
				c.MQTTTopic = value
			case "mqtt-interval":
				if v, perr := time.ParseDuration(value); perr == nil {
					c.MQTTInterval = v
				} else {
					err = fmt.Errorf("flag -mqtt-interval: %w", perr)
				}
			}
		})
		return err
	}
}
