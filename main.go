package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"i4.energy/across/ncpctl/ncp"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "ncpctl",
	Short: "Drive a network co-processor over its AT command link",
	Long: `ncpctl talks to a Wi-Fi/BLE network co-processor over a UART.

It runs the AT driver in the foreground, logging unsolicited events and serving
metrics and an AT endpoint over HTTP, or executes single commands and raw
payload transfers from the command line.`,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "config file path (default ./ncpctl.yaml or /etc/ncpctl/ncpctl.yaml)")
	flags.String("serial-port", "/dev/ttyUSB0", "Serial port connected to the co-processor")
	flags.Int("baud-rate", 115200, "Baud rate for serial communication")
	flags.String("bind-address", "0.0.0.0:9100", "Bind address for the HTTP server (empty disables it)")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "json", "Log format (json, text)")
	flags.String("log-file", "", "Also write logs to this file, rotated by size")
	flags.Bool("trace", false, "Log AT traffic at debug level")

	rootCmd.AddCommand(runCmd, execCmd, sendCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// session is an open driver with its workers running.
type session struct {
	config   *Config
	logger   *slog.Logger
	registry *prometheus.Registry
	driver   *ncp.Driver

	logFile io.Closer
	cancel  context.CancelFunc
	done    chan error
}

// openSession loads the configuration, opens the co-processor link and
// starts the driver workers. The returned context is cancelled on SIGINT or
// SIGTERM and when the driver stops.
func openSession(cmd *cobra.Command, setup func(*ncp.Driver, *slog.Logger) error) (context.Context, *session, error) {
	config, err := LoadConfig(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	logger, logFile := newLogger(config.Log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	driverConfig, err := config.builder().
		WithLogger(logger).
		WithRegisterer(registry).
		Build()
	if err != nil {
		logFile.Close()
		return nil, nil, fmt.Errorf("driver config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	d, err := ncp.New(ctx, driverConfig)
	if err != nil {
		cancel()
		logFile.Close()
		return nil, nil, fmt.Errorf("open %s: %w", config.SerialPort, err)
	}
	if setup != nil {
		if err := setup(d, logger); err != nil {
			cancel()
			d.Close()
			logFile.Close()
			return nil, nil, err
		}
	}

	s := &session{
		config:   config,
		logger:   logger,
		registry: registry,
		driver:   d,
		logFile:  logFile,
		cancel:   cancel,
		done:     make(chan error, 1),
	}
	go func() {
		err := d.Run(ctx)
		cancel()
		s.done <- err
	}()
	return ctx, s, nil
}

// Close stops the driver and waits for its workers. It returns the error
// that stopped the driver unless that was the session's own cancellation.
func (s *session) Close() error {
	s.cancel()
	closeErr := s.driver.Close()
	runErr := <-s.done
	s.logFile.Close()

	if runErr != nil && !isCancel(runErr) {
		return runErr
	}
	return closeErr
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
