package ncp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

//go:generate go tool mockgen -destination=mock_transport.go -package=ncp . Transport,Dialer

// Transport represents an established, bidirectional byte stream to the
// network co-processor.
//
// A Transport is assumed to be already connected and ready for use. Reads may
// return partial data and may return (0, nil) when a read timeout expires; the
// ingestion worker treats that as an idle tick. Typical implementations
// include serial ports, TCP connections to emulators, or in-memory fakes used
// for testing.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport to the co-processor.
//
// Dialer abstracts how the connection is created (for example, via a serial
// port, a TCP-based emulator, or a test double) and is used during driver
// construction only. Once a Transport is obtained, the Dialer is no longer
// needed.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport. It
	// may perform blocking operations and should respect cancellation and
	// deadlines provided by the context.
	Dial(ctx context.Context) (Transport, error)
}

// DefaultSerialReadTimeout wakes the ingestion worker periodically so that it
// notices shutdown even on a silent link.
const DefaultSerialReadTimeout = time.Second

// SerialDialer opens the co-processor over a UART using go.bug.st/serial.
type SerialDialer struct {
	PortName string
	BaudRate int
	// Mode overrides BaudRate when set.
	Mode *serial.Mode
	// ReadTimeout defaults to DefaultSerialReadTimeout.
	ReadTimeout time.Duration
}

var _ Dialer = SerialDialer{}

// Dial opens and configures the serial port.
func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("ncp: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("ncp: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := d.Mode
	if mode == nil {
		baud := d.BaudRate
		if baud == 0 {
			baud = 115200
		}
		mode = &serial.Mode{
			BaudRate: baud,
			Parity:   serial.NoParity,
			DataBits: 8,
			StopBits: serial.OneStopBit,
		}
	}

	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("ncp: open serial port %s: %w", d.PortName, err)
	}

	timeout := d.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultSerialReadTimeout
	}
	if err := port.SetReadTimeout(timeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("ncp: set read timeout on %s: %w", d.PortName, err)
	}

	return port, nil
}
