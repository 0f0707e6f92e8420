package ncp

import (
	"context"
	"fmt"
)

// rxBuffer is the ingestion worker's receive buffer. Bytes in
// buf[consumed:filled] are an incomplete unit kept from earlier reads.
type rxBuffer struct {
	buf      []byte
	filled   int
	consumed int
}

// keep records that the last remaining bytes of buf[:filled] are still
// unconsumed and makes room for the next read. It reports true when the
// buffer was full of a single unit that could not be framed and had to be
// discarded.
func (rx *rxBuffer) keep(remaining int) bool {
	if remaining == 0 {
		rx.filled, rx.consumed = 0, 0
		return false
	}
	rx.consumed = rx.filled - remaining
	if rx.filled < len(rx.buf) {
		return false
	}
	if rx.consumed == 0 {
		rx.filled = 0
		return true
	}
	copy(rx.buf, rx.buf[rx.consumed:rx.filled])
	rx.filled, rx.consumed = remaining, 0
	return false
}

// ingest is the ingestion worker: the only reader of the transport and the
// only caller of the reassembler. Zero byte reads, as produced by a serial
// port read timeout, are idle ticks.
func (d *Driver) ingest(ctx context.Context) error {
	d.lock.ingestID.Store(goid())
	defer d.lock.ingestID.Store(0)

	rx := &d.rx
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := d.transport.Read(rx.buf[rx.filled:])
		if n > 0 {
			d.trace("rx", rx.buf[rx.filled:rx.filled+n])
			d.metrics.rxBytes.Add(float64(n))
			rx.filled += n

			remaining := d.parser.process(rx.buf[rx.consumed:rx.filled])
			if rx.keep(remaining) {
				d.logger.Warn("receive buffer full without a complete message, discarded",
					"size", len(rx.buf))
				d.metrics.rxOverflows.Inc()
			}
			d.metrics.queueDepth.WithLabelValues(d.responses.name).Set(float64(d.responses.len()))
			d.metrics.queueDepth.WithLabelValues(d.events.name).Set(float64(d.events.len()))
		}

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%w: read: %w", ErrIO, err)
		}
	}
}
