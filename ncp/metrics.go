package ncp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the collectors of one Driver. They are registered with the
// configured Registerer, or left unregistered when it is nil.
type metrics struct {
	envelopesQueued  *prometheus.CounterVec
	envelopesDropped *prometheus.CounterVec
	queueDepth       *prometheus.GaugeVec

	rxBytes     prometheus.Counter
	txBytes     prometheus.Counter
	rxOverflows prometheus.Counter
	parserAbort prometheus.Counter

	framesCompleted *prometheus.CounterVec
	framesTruncated *prometheus.CounterVec
	payloadDropped  *prometheus.CounterVec

	eventsDispatched *prometheus.CounterVec
	eventsDiscarded  *prometheus.CounterVec

	lockBusy    prometheus.Counter
	lockReentry prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		envelopesQueued: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ncp_envelopes_queued_total",
				Help: "Envelopes accepted by a queue",
			},
			[]string{"queue"},
		),
		envelopesDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ncp_envelopes_dropped_total",
				Help: "Envelopes dropped because the queue was full",
			},
			[]string{"queue"},
		),
		queueDepth: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ncp_queue_depth",
				Help: "Envelopes waiting in a queue, sampled after each read",
			},
			[]string{"queue"},
		),
		rxBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "ncp_rx_bytes_total",
			Help: "Bytes read from the transport",
		}),
		txBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "ncp_tx_bytes_total",
			Help: "Bytes written to the transport",
		}),
		rxOverflows: f.NewCounter(prometheus.CounterOpts{
			Name: "ncp_rx_overflow_total",
			Help: "Times the receive buffer filled without a complete message and was discarded",
		}),
		parserAbort: f.NewCounter(prometheus.CounterOpts{
			Name: "ncp_parser_aborts_total",
			Help: "Reads abandoned by the frame reassembler loop guard",
		}),
		framesCompleted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ncp_data_frames_completed_total",
				Help: "Binary data frames fully received",
			},
			[]string{"category"},
		),
		framesTruncated: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ncp_data_frames_truncated_total",
				Help: "Binary data frames larger than the registered receive buffer",
			},
			[]string{"category"},
		),
		payloadDropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ncp_payload_bytes_dropped_total",
				Help: "Payload bytes discarded for lack of a receive buffer or of space in it",
			},
			[]string{"category"},
		),
		eventsDispatched: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ncp_events_dispatched_total",
				Help: "Events delivered to a registered handler",
			},
			[]string{"category"},
		),
		eventsDiscarded: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ncp_events_discarded_total",
				Help: "Events discarded because no handler was registered",
			},
			[]string{"category"},
		),
		lockBusy: f.NewCounter(prometheus.CounterOpts{
			Name: "ncp_lock_busy_total",
			Help: "Command transactions refused because the lock was held",
		}),
		lockReentry: f.NewCounter(prometheus.CounterOpts{
			Name: "ncp_lock_reentry_total",
			Help: "Command transactions attempted from a driver worker",
		}),
	}
}
