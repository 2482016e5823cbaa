package modem

import (
	"log/slog"
	"time"
)

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	return nil
}

type Config struct {
	Dialer Dialer
	Logger *slog.Logger
	Clock  Clock

	// RxBufferSize is the number of ring slots between the UART reader and
	// the response scanner.
	RxBufferSize int
	// ResponseBufferSize bounds the response text kept per command.
	ResponseBufferSize int
	// MaxPendingBlocks bounds the inbound data blocks staged while no
	// receive is running.
	MaxPendingBlocks int

	CommandTimeout time.Duration
	JoinTimeout    time.Duration
	// SendQuiet delays the command that follows an AT+CIPSEND.
	SendQuiet time.Duration
	// ResetQuiet delays the command that follows an AT+RST.
	ResetQuiet time.Duration
	// PollInterval is the sleep between two polls of an empty ring.
	PollInterval time.Duration

	// MultiConn selects AT+CIPMUX=1 during Init.
	MultiConn bool
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Clock == nil {
		c.Clock = systemClock{}
	}
	if c.RxBufferSize == 0 {
		c.RxBufferSize = 2048
	}
	if c.ResponseBufferSize == 0 {
		c.ResponseBufferSize = 2048
	}
	if c.MaxPendingBlocks == 0 {
		c.MaxPendingBlocks = 8
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = 5 * time.Second
	}
	if c.JoinTimeout == 0 {
		c.JoinTimeout = 20 * time.Second
	}
	if c.SendQuiet == 0 {
		c.SendQuiet = 300 * time.Millisecond
	}
	if c.ResetQuiet == 0 {
		c.ResetQuiet = time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = time.Millisecond
	}
}

// ConfigBuilder assembles a Config with a fluent API. Build applies the
// defaults for every field left unset.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

func (b *ConfigBuilder) WithClock(c Clock) *ConfigBuilder {
	b.config.Clock = c
	return b
}

func (b *ConfigBuilder) WithRxBufferSize(n int) *ConfigBuilder {
	b.config.RxBufferSize = n
	return b
}

func (b *ConfigBuilder) WithMaxPendingBlocks(n int) *ConfigBuilder {
	b.config.MaxPendingBlocks = n
	return b
}

func (b *ConfigBuilder) WithCommandTimeout(d time.Duration) *ConfigBuilder {
	b.config.CommandTimeout = d
	return b
}

func (b *ConfigBuilder) WithJoinTimeout(d time.Duration) *ConfigBuilder {
	b.config.JoinTimeout = d
	return b
}

func (b *ConfigBuilder) WithSendQuiet(d time.Duration) *ConfigBuilder {
	b.config.SendQuiet = d
	return b
}

func (b *ConfigBuilder) WithResetQuiet(d time.Duration) *ConfigBuilder {
	b.config.ResetQuiet = d
	return b
}

func (b *ConfigBuilder) WithPollInterval(d time.Duration) *ConfigBuilder {
	b.config.PollInterval = d
	return b
}

func (b *ConfigBuilder) WithMultiConn(on bool) *ConfigBuilder {
	b.config.MultiConn = on
	return b
}

func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	c.setDefaults()
	return c, nil
}
