package ncp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Driver talks AT to a network co-processor over a byte stream transport.
//
// Two workers run while Run is active. The ingestion worker is the only
// reader of the transport: it frames responses, events and binary data
// frames. The event dispatch worker hands events to the registered
// handlers. Commands are written by callers inside a Txn, which serializes
// them across goroutines.
type Driver struct {
	config    Config
	logger    *slog.Logger
	transport Transport
	metrics   *metrics

	pool      *envelopePool
	responses *queue
	events    *queue
	recv      *recvContexts
	handlers  *registry
	parser    *reassembler
	rx        rxBuffer
	lock      *txnLock

	running atomic.Bool
	closed  atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New dials the transport and prepares the driver. Workers do not start
// until Run is called, so handlers can be registered first.
func New(ctx context.Context, config Config) (*Driver, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	transport, err := config.Dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	if transport == nil {
		return nil, ErrNotInitialized
	}

	logger := config.Logger.With("component", "ncp")
	m := newMetrics(config.Registerer)
	pool := newEnvelopePool()

	d := &Driver{
		config:    config,
		logger:    logger,
		transport: transport,
		metrics:   m,
		pool:      pool,
		responses: newQueue("response", config.QueueSize, logger, m),
		events:    newQueue("event", config.QueueSize, logger, m),
		recv:      &recvContexts{},
		handlers:  &registry{metrics: m},
		rx:        rxBuffer{buf: make([]byte, config.RxBufferSize)},
		lock:      newTxnLock(),
	}
	d.parser = &reassembler{
		logger:    logger,
		metrics:   m,
		pool:      pool,
		responses: d.responses,
		events:    d.events,
		recv:      d.recv,
		handlers:  d.handlers,
	}
	return d, nil
}

// Run starts the ingestion and event dispatch workers and blocks until ctx
// is cancelled or a worker fails. A transport read error, io.EOF included,
// stops both workers and is returned wrapped in ErrIO. Queued envelopes are
// released before Run returns.
func (d *Driver) Run(ctx context.Context) error {
	if d.closed.Load() {
		return ErrAlreadyClosed
	}
	if !d.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer d.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	d.logger.Info("driver started",
		"rx_buffer", d.config.RxBufferSize,
		"queue_size", d.config.QueueSize)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.ingest(gctx) })
	g.Go(func() error { return d.dispatch(gctx) })
	err := g.Wait()

	d.drain()
	if errors.Is(err, context.Canceled) {
		d.logger.Info("driver stopped")
	} else {
		d.logger.Error("driver stopped", "error", err)
	}
	return err
}

// Close stops the workers, closes the transport and releases every queued
// envelope. A second Close returns ErrAlreadyClosed.
func (d *Driver) Close() error {
	if d.closed.Swap(true) {
		return ErrAlreadyClosed
	}
	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()

	err := d.transport.Close()
	d.drain()
	return err
}

func (d *Driver) drain() {
	n := d.responses.drain() + d.events.drain()
	if n > 0 {
		d.logger.Debug("queued messages released", "count", n)
	}
}

// Pending reports the envelopes currently owned by the queues or by a
// consumer that has not released them.
func (d *Driver) Pending() int64 {
	return d.pool.inUse()
}
