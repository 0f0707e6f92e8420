package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"i4.energy/across/ncpctl/at"
	"i4.energy/across/ncpctl/ncp"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the driver, log unsolicited events and serve HTTP",
	Args:  cobra.NoArgs,
	RunE:  runDriver,
}

var execCmd = &cobra.Command{
	Use:   "exec COMMAND",
	Short: "Send one AT command and print every response line",
	Example: `  ncpctl exec AT+GMR
  ncpctl exec 'AT+CWJAP="ssid","secret"'`,
	Args: cobra.ExactArgs(1),
	RunE: execCommand,
}

var sendCmd = &cobra.Command{
	Use:     "send COMMAND DATA",
	Short:   "Send a payload announcing command, then DATA after the prompt",
	Example: `  ncpctl send AT+CIPSEND=0,5 hello`,
	Args:    cobra.ExactArgs(2),
	RunE:    sendPayload,
}

func runDriver(cmd *cobra.Command, _ []string) error {
	ctx, s, err := openSession(cmd, registerEventLoggers)
	if err != nil {
		return err
	}

	var httpServer *http.Server
	if s.config.BindAddress != "" {
		httpServer = &http.Server{
			Addr: s.config.BindAddress,
			Handler: &Server{
				Logger:   s.logger.With("component", "server"),
				Driver:   s.driver,
				Gatherer: s.registry,
			},
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			s.logger.Info("Starting HTTP server", "address", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Error("HTTP server failed", "error", err)
			}
		}()
	}

	if err := s.driver.Exec(ctx, at.CmdProbe); err != nil {
		s.logger.Warn("Co-processor did not answer the probe", "error", err)
	} else {
		s.logger.Info("Co-processor ready", "port", s.config.SerialPort)
	}

	<-ctx.Done()
	s.logger.Info("Shutting down")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to gracefully shutdown server", "error", err)
		}
	}
	return s.Close()
}

// registerEventLoggers logs every unsolicited event. MQTT and BLE payloads
// land in buffers registered here; their handlers run once the payload is
// complete and read it back using the announced length.
func registerEventLoggers(d *ncp.Driver, logger *slog.Logger) error {
	logger = logger.With("component", "events")
	for cat := at.CategoryWiFi; cat < at.NumCategories; cat++ {
		var buf []byte
		if cat == at.CategoryMQTT || cat == at.CategoryBLE {
			buf = make([]byte, ncp.DefaultRxBufferSize)
			if err := d.SetRecvBuffer(cat, buf); err != nil {
				return err
			}
		}
		h := ncp.HandlerFunc(func(cat at.Category, payload []byte) {
			if hdr, res := at.ParseDataHeader(payload); res == at.HeaderComplete && buf != nil {
				logger.Info("Data received",
					"category", cat,
					"header", string(payload),
					"data", string(buf[:min(hdr.PayloadLen, len(buf))]))
				return
			}
			logger.Info("Event", "category", cat, "line", strings.TrimSpace(string(payload)))
		})
		if err := d.RegisterHandler(cat, h); err != nil {
			return err
		}
	}
	return nil
}

func execCommand(cmd *cobra.Command, args []string) error {
	ctx, s, err := openSession(cmd, nil)
	if err != nil {
		return err
	}

	err = s.driver.Do(ctx, func(txn *ncp.Txn) error {
		if err := txn.SendCommand(args[0]); err != nil {
			return err
		}
		buf := make([]byte, s.config.Driver.RxBufferSize)
		for {
			n, err := txn.Recv(ctx, buf)
			if err != nil {
				return err
			}
			line := buf[:n]
			fmt.Fprint(cmd.OutOrStdout(), strings.TrimLeft(string(line), "\r\n"))
			switch at.ParseStatus(line) {
			case at.StatusOK:
				return nil
			case at.StatusError:
				return ncp.ErrCommandFailed
			}
		}
	})
	return errors.Join(err, s.Close())
}

func sendPayload(cmd *cobra.Command, args []string) error {
	ctx, s, err := openSession(cmd, nil)
	if err != nil {
		return err
	}

	data := []byte(args[1])
	err = s.driver.Do(ctx, func(txn *ncp.Txn) error {
		if err := txn.SendCommand(args[0]); err != nil {
			return err
		}
		return txn.SendData(ctx, data)
	})
	if err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "sent %d bytes\n", len(data))
	}
	return errors.Join(err, s.Close())
}
