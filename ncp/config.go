package ncp

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DefaultRxBufferSize matches the transfer MTU of the co-processor link.
	DefaultRxBufferSize = 6 * 1024
	// DefaultQueueSize is the capacity of the response and event queues.
	DefaultQueueSize = 30
	// DefaultMaxATLogLength is the number of characters kept when tracing
	// AT traffic.
	DefaultMaxATLogLength = 30
)

// Config holds the settings of a Driver. Build it with NewConfigBuilder.
type Config struct {
	Dialer Dialer
	Logger *slog.Logger
	// Registerer receives the driver metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer

	RxBufferSize int
	QueueSize    int

	// LockTimeout bounds Begin when the caller's context has no deadline.
	LockTimeout time.Duration
	// LockRetries is the number of extra lock attempts after a timeout,
	// LockRetryPeriod apart.
	LockRetries     int
	LockRetryPeriod time.Duration
	// ResponseTimeout bounds Recv when the caller's context has no deadline.
	ResponseTimeout time.Duration

	TraceAT        bool
	MaxATLogLength int
}

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.RxBufferSize <= 0 {
		c.RxBufferSize = DefaultRxBufferSize
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.LockTimeout == 0 {
		c.LockTimeout = 2 * time.Second
	}
	if c.LockRetryPeriod == 0 {
		c.LockRetryPeriod = 100 * time.Millisecond
	}
	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = 10 * time.Second
	}
	if c.MaxATLogLength <= 0 {
		c.MaxATLogLength = DefaultMaxATLogLength
	}
}

// ConfigBuilder assembles a Config with chained With* calls.
type ConfigBuilder struct {
	config Config
}

// NewConfigBuilder returns a builder with no dialer and default settings.
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

func (b *ConfigBuilder) WithRegisterer(r prometheus.Registerer) *ConfigBuilder {
	b.config.Registerer = r
	return b
}

func (b *ConfigBuilder) WithRxBufferSize(n int) *ConfigBuilder {
	b.config.RxBufferSize = n
	return b
}

func (b *ConfigBuilder) WithQueueSize(n int) *ConfigBuilder {
	b.config.QueueSize = n
	return b
}

func (b *ConfigBuilder) WithLockTimeout(d time.Duration) *ConfigBuilder {
	b.config.LockTimeout = d
	return b
}

func (b *ConfigBuilder) WithLockRetry(retries int, period time.Duration) *ConfigBuilder {
	b.config.LockRetries = retries
	b.config.LockRetryPeriod = period
	return b
}

func (b *ConfigBuilder) WithResponseTimeout(d time.Duration) *ConfigBuilder {
	b.config.ResponseTimeout = d
	return b
}

// WithATTrace enables debug logging of raw traffic, each record cut to
// maxLen characters.
func (b *ConfigBuilder) WithATTrace(maxLen int) *ConfigBuilder {
	b.config.TraceAT = true
	b.config.MaxATLogLength = maxLen
	return b
}

// Build validates the configuration and fills in defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	c.setDefaults()
	return c, nil
}
