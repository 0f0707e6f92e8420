package ncp

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// queue is a bounded FIFO of envelope ownership transfers. Producers never
// block: an envelope that does not fit is released and counted as dropped.
type queue struct {
	name    string
	ch      chan *envelope
	logger  *slog.Logger
	queued  prometheus.Counter
	dropped prometheus.Counter
}

func newQueue(name string, size int, logger *slog.Logger, m *metrics) *queue {
	return &queue{
		name:    name,
		ch:      make(chan *envelope, size),
		logger:  logger,
		queued:  m.envelopesQueued.WithLabelValues(name),
		dropped: m.envelopesDropped.WithLabelValues(name),
	}
}

// push transfers e into the queue. It reports false, after releasing e, when
// the queue is full.
func (q *queue) push(e *envelope) bool {
	select {
	case q.ch <- e:
		q.queued.Inc()
		return true
	default:
		q.logger.Error("queue full, message dropped",
			"queue", q.name,
			"category", e.category,
			"len", len(e.payload))
		e.release()
		q.dropped.Inc()
		return false
	}
}

// pop blocks until an envelope is available or ctx is done. The caller owns
// the returned envelope.
func (q *queue) pop(ctx context.Context) (*envelope, error) {
	select {
	case e := <-q.ch:
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// drain releases every queued envelope and reports how many there were.
func (q *queue) drain() int {
	n := 0
	for {
		select {
		case e := <-q.ch:
			e.release()
			n++
		default:
			return n
		}
	}
}

func (q *queue) len() int {
	return len(q.ch)
}
