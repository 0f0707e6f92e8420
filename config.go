package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"i4.energy/across/ncpctl/ncp"
)

// Config holds the application configuration
type Config struct {
	// SerialPort is the path to the co-processor UART (e.g. "/dev/ttyUSB0")
	SerialPort string `mapstructure:"serial_port"`
	// BaudRate is the baud rate of the UART (e.g. 115200)
	BaudRate int `mapstructure:"baud_rate"`
	// ReadTimeout bounds a single serial read so shutdown is noticed on a quiet link
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// BindAddress is the address the HTTP server listens on; empty disables it
	BindAddress string `mapstructure:"bind_address"`

	Log    LogConfig    `mapstructure:"log"`
	Driver DriverConfig `mapstructure:"driver"`
}

// LogConfig selects the log level, format and optional rotating log file.
type LogConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"`
	File   LogFileConfig `mapstructure:"file"`
}

type LogFileConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// DriverConfig mirrors the tunables of ncp.Config.
type DriverConfig struct {
	RxBufferSize    int           `mapstructure:"rx_buffer_size"`
	QueueSize       int           `mapstructure:"queue_size"`
	LockTimeout     time.Duration `mapstructure:"lock_timeout"`
	LockRetries     int           `mapstructure:"lock_retries"`
	LockRetryPeriod time.Duration `mapstructure:"lock_retry_period"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout"`
	TraceAT         bool          `mapstructure:"trace_at"`
	MaxATLogLength  int           `mapstructure:"max_at_log_length"`
}

// flagKeys maps command line flags to configuration keys.
var flagKeys = map[string]string{
	"serial-port":  "serial_port",
	"baud-rate":    "baud_rate",
	"bind-address": "bind_address",
	"log-level":    "log.level",
	"log-format":   "log.format",
	"log-file":     "log.file.filename",
	"trace":        "driver.trace_at",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial_port", "/dev/ttyUSB0")
	v.SetDefault("baud_rate", 115200)
	v.SetDefault("read_timeout", ncp.DefaultSerialReadTimeout)
	v.SetDefault("bind_address", "0.0.0.0:9100")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file.filename", "")
	v.SetDefault("log.file.max_size", 10)
	v.SetDefault("log.file.max_backups", 3)
	v.SetDefault("log.file.max_age", 28)
	v.SetDefault("log.file.compress", false)

	v.SetDefault("driver.rx_buffer_size", ncp.DefaultRxBufferSize)
	v.SetDefault("driver.queue_size", ncp.DefaultQueueSize)
	v.SetDefault("driver.lock_timeout", 2*time.Second)
	v.SetDefault("driver.lock_retries", 0)
	v.SetDefault("driver.lock_retry_period", 100*time.Millisecond)
	v.SetDefault("driver.response_timeout", 10*time.Second)
	v.SetDefault("driver.max_at_log_length", ncp.DefaultMaxATLogLength)
	v.SetDefault("driver.trace_at", false)
}

// LoadConfig resolves the configuration from defaults, the config file,
// NCPCTL_* environment variables and the flags that were set, in increasing
// order of precedence. An empty path searches for ncpctl.yaml in the working
// directory and /etc/ncpctl; a missing file is not an error then.
func LoadConfig(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("NCPCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("ncpctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/ncpctl")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	if c.SerialPort == "" {
		return errors.New("serial_port is required")
	}
	if c.BaudRate <= 0 {
		return fmt.Errorf("invalid baud_rate %d", c.BaudRate)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log.format %q", c.Log.Format)
	}
	return nil
}

// builder returns an ncp.ConfigBuilder for the serial co-processor described
// by c.
func (c *Config) builder() *ncp.ConfigBuilder {
	b := ncp.NewConfigBuilder().
		WithDialer(ncp.SerialDialer{
			PortName:    c.SerialPort,
			BaudRate:    c.BaudRate,
			ReadTimeout: c.ReadTimeout,
		}).
		WithRxBufferSize(c.Driver.RxBufferSize).
		WithQueueSize(c.Driver.QueueSize).
		WithLockTimeout(c.Driver.LockTimeout).
		WithLockRetry(c.Driver.LockRetries, c.Driver.LockRetryPeriod).
		WithResponseTimeout(c.Driver.ResponseTimeout)
	if c.Driver.TraceAT {
		b.WithATTrace(c.Driver.MaxATLogLength)
	}
	return b
}
