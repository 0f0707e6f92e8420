package ncp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"i4.energy/across/ncpctl/at"
)

// responseBufferSize is the scratch size used by Exec, Query and SendData
// for status and acknowledgement lines.
const responseBufferSize = 256

// Txn is an exclusive command transaction. While it is open no other
// goroutine can write commands or read responses, so every response it
// receives belongs to the commands it sent. Always call End, typically
// deferred right after Begin.
type Txn struct {
	d     *Driver
	ended atomic.Bool
	// recv marks the receive buffers installed through this transaction;
	// End clears them.
	recv [at.NumCategories]bool
}

// Begin acquires the command transaction lock. When ctx has no deadline
// each attempt waits at most the configured lock timeout, and up to
// LockRetries further attempts are made LockRetryPeriod apart.
//
// Begin fails with ErrWorkerReentry when called from an event handler or
// any other code running on a driver worker, and with ErrBusy when the
// lock could not be acquired.
func (d *Driver) Begin(ctx context.Context) (*Txn, error) {
	if d.closed.Load() {
		return nil, ErrAlreadyClosed
	}
	if d.lock.onWorker() {
		d.logger.Error("command transaction started on a driver worker, refused")
		d.metrics.lockReentry.Inc()
		return nil, ErrWorkerReentry
	}

	for attempt := 0; ; attempt++ {
		if d.lock.acquire(ctx, d.config.LockTimeout) {
			break
		}
		if ctx.Err() != nil || attempt >= d.config.LockRetries {
			d.metrics.lockBusy.Inc()
			return nil, fmt.Errorf("acquire command lock: %w", ErrBusy)
		}
		select {
		case <-time.After(d.config.LockRetryPeriod):
		case <-ctx.Done():
			d.metrics.lockBusy.Inc()
			return nil, fmt.Errorf("acquire command lock: %w", ErrBusy)
		}
	}

	// Responses left over from a transaction that timed out would otherwise
	// be taken for answers to this one.
	if n := d.responses.drain(); n > 0 {
		d.logger.Warn("stale responses discarded", "count", n)
	}
	return &Txn{d: d}, nil
}

// End releases the lock and clears receive buffers installed through t.
// Calls after the first are no-ops.
func (t *Txn) End() {
	if t.ended.Swap(true) {
		return
	}
	for cat, set := range t.recv {
		if set {
			t.d.recv.clear(at.Category(cat))
		}
	}
	t.d.lock.release()
}

// Send writes p to the transport as is and returns the number of bytes
// written.
func (t *Txn) Send(p []byte) (int, error) {
	if t.ended.Load() {
		return 0, ErrTxnEnded
	}
	n, err := t.d.transport.Write(p)
	t.d.trace("tx", p[:n])
	t.d.metrics.txBytes.Add(float64(n))
	if err != nil {
		return n, fmt.Errorf("%w: write: %w", ErrIO, err)
	}
	return n, nil
}

// Recv copies the next queued response into p and returns its length. A
// response longer than p is truncated. When ctx has no deadline Recv waits
// at most the configured response timeout.
func (t *Txn) Recv(ctx context.Context, p []byte) (int, error) {
	if t.ended.Load() {
		return 0, ErrTxnEnded
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.d.config.ResponseTimeout)
		defer cancel()
	}

	e, err := t.d.responses.pop(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	defer e.release()

	n := copy(p, e.payload)
	if n < len(e.payload) {
		t.d.logger.Warn("response truncated",
			"len", len(e.payload),
			"capacity", len(p))
	}
	return n, nil
}

// SetRecvBuffer installs buf as the destination of binary payloads of cat
// until End. Set it before sending the command that triggers the transfer.
func (t *Txn) SetRecvBuffer(cat at.Category, buf []byte) error {
	if t.ended.Load() {
		return ErrTxnEnded
	}
	if !cat.Valid() {
		return ErrInvalidCategory
	}
	t.d.recv.set(cat, buf)
	t.recv[cat] = buf != nil
	return nil
}

// ClearRecvBuffer removes the destination of cat. Once it returns no more
// payload bytes are written into the previous buffer.
func (t *Txn) ClearRecvBuffer(cat at.Category) error {
	if !cat.Valid() {
		return ErrInvalidCategory
	}
	t.d.recv.clear(cat)
	t.recv[cat] = false
	return nil
}

// SendCommand writes cmd terminated by CRLF.
func (t *Txn) SendCommand(cmd string) error {
	_, err := t.Send([]byte(strings.TrimRight(cmd, at.CRLF) + at.CRLF))
	return err
}

// Status reads the next response and decodes it as a final result line.
func (t *Txn) Status(ctx context.Context) error {
	buf := make([]byte, responseBufferSize)
	n, err := t.Recv(ctx, buf)
	if err != nil {
		return err
	}
	return statusError(buf[:n])
}

// Exec sends cmd and waits for its OK or ERROR.
func (t *Txn) Exec(ctx context.Context, cmd string) error {
	if err := t.SendCommand(cmd); err != nil {
		return err
	}
	if err := t.Status(ctx); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return nil
}

// Query sends cmd, reads one response line and then its final status. The
// line is returned without its terminator.
func (t *Txn) Query(ctx context.Context, cmd string) (string, error) {
	if err := t.SendCommand(cmd); err != nil {
		return "", err
	}
	buf := make([]byte, t.d.config.RxBufferSize)
	n, err := t.Recv(ctx, buf)
	if err != nil {
		return "", fmt.Errorf("%s: %w", cmd, err)
	}
	resp := strings.TrimRight(string(buf[:n]), at.CRLF)
	if err := statusError(buf[:n]); errors.Is(err, ErrCommandFailed) {
		return "", fmt.Errorf("%s: %w", cmd, err)
	}
	if err := t.Status(ctx); err != nil {
		return "", fmt.Errorf("%s: %w", cmd, err)
	}
	return resp, nil
}

// SendData completes a raw payload transfer whose command has already been
// sent: it waits for the prompt, writes data and checks that the
// co-processor accepted every byte.
func (t *Txn) SendData(ctx context.Context, data []byte) error {
	buf := make([]byte, responseBufferSize)
	n, err := t.Recv(ctx, buf)
	if err != nil {
		return fmt.Errorf("wait for prompt: %w", err)
	}
	// The command itself may be acknowledged before the prompt.
	if at.ParseStatus(buf[:n]) == at.StatusOK {
		if n, err = t.Recv(ctx, buf); err != nil {
			return fmt.Errorf("wait for prompt: %w", err)
		}
	}
	if !at.IsPrompt(buf[:n]) {
		if err := statusError(buf[:n]); errors.Is(err, ErrCommandFailed) {
			return err
		}
		return fmt.Errorf("%w: expected prompt, got %q", ErrUnexpectedResponse, buf[:n])
	}

	for sent := 0; sent < len(data); {
		w, err := t.Send(data[sent:])
		if err != nil {
			return err
		}
		if w == 0 {
			return fmt.Errorf("%w: %w", ErrIO, io.ErrShortWrite)
		}
		sent += w
	}

	n, err = t.Recv(ctx, buf)
	if err != nil {
		return fmt.Errorf("wait for acknowledgement: %w", err)
	}
	accepted, ok := at.BytesAccepted(buf[:n])
	if !ok {
		return fmt.Errorf("%w: expected byte count, got %q", ErrUnexpectedResponse, buf[:n])
	}
	if accepted != len(data) {
		return fmt.Errorf("%w: co-processor accepted %d of %d bytes", ErrIO, accepted, len(data))
	}
	return nil
}

func statusError(line []byte) error {
	switch at.ParseStatus(line) {
	case at.StatusOK:
		return nil
	case at.StatusError:
		return ErrCommandFailed
	default:
		return fmt.Errorf("%w: %q", ErrUnexpectedResponse, line)
	}
}

// Do runs fn inside a command transaction and ends it when fn returns.
func (d *Driver) Do(ctx context.Context, fn func(*Txn) error) error {
	txn, err := d.Begin(ctx)
	if err != nil {
		return err
	}
	defer txn.End()
	return fn(txn)
}

// Exec runs a single command in its own transaction.
func (d *Driver) Exec(ctx context.Context, cmd string) error {
	return d.Do(ctx, func(t *Txn) error {
		return t.Exec(ctx, cmd)
	})
}

// Query runs a single query command in its own transaction.
func (d *Driver) Query(ctx context.Context, cmd string) (string, error) {
	var resp string
	err := d.Do(ctx, func(t *Txn) error {
		var err error
		resp, err = t.Query(ctx, cmd)
		return err
	})
	return resp, err
}

// SetRecvBuffer installs buf as the long lived destination of binary
// payloads of cat, as needed for unsolicited MQTT and BLE data. A nil buf
// clears it.
func (d *Driver) SetRecvBuffer(cat at.Category, buf []byte) error {
	if !cat.Valid() {
		return ErrInvalidCategory
	}
	d.recv.set(cat, buf)
	return nil
}
