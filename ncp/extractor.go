package ncp

import (
	"sync"

	"i4.energy/across/ncpctl/at"
)

// dataFrame tracks the binary payload announced by the last data header.
// While active, the reassembler copies bytes into the receive buffer of the
// frame category instead of framing lines.
type dataFrame struct {
	active   bool
	category at.Category
	// payloadLen is the announced payload size; expected adds the CRLF
	// that closes the frame.
	payloadLen int
	expected   int
	// delivered counts frame bytes consumed from the stream so far.
	delivered int
	// header keeps the header text for the completion notification.
	header []byte
	// warned limits receive buffer warnings to one per frame.
	warned bool
}

// recvContexts holds, per category, the caller buffer that receives binary
// payloads. The mutex is held while payload bytes are copied, so once
// clear returns no more bytes are written into the old buffer.
type recvContexts struct {
	mu   sync.Mutex
	bufs [at.NumCategories][]byte
}

func (c *recvContexts) set(cat at.Category, buf []byte) {
	c.mu.Lock()
	c.bufs[cat] = buf
	c.mu.Unlock()
}

func (c *recvContexts) clear(cat at.Category) {
	c.set(cat, nil)
}

func (r *reassembler) beginFrame(hdr at.DataHeader, raw []byte) {
	f := &r.frame
	f.active = true
	f.category = hdr.Category
	f.payloadLen = hdr.PayloadLen
	f.expected = hdr.PayloadLen + len(at.CRLF)
	f.delivered = 0
	f.header = append(f.header[:0], raw...)
	f.warned = false
}

// extract consumes up to the remaining frame bytes from data and returns how
// many it took. The frame completes, and the reassembler returns to line
// mode, as soon as the closing CRLF has been consumed.
func (r *reassembler) extract(data []byte) int {
	f := &r.frame
	n := min(len(data), f.expected-f.delivered)
	if f.delivered < f.payloadLen {
		r.copyPayload(data[:min(n, f.payloadLen-f.delivered)])
	}
	f.delivered += n

	if f.delivered == f.expected {
		r.completeFrame()
	}
	return n
}

// copyPayload writes chunk at the current frame offset of the receive
// buffer, truncating to its capacity.
func (r *reassembler) copyPayload(chunk []byte) {
	f := &r.frame
	label := f.category.String()

	r.recv.mu.Lock()
	defer r.recv.mu.Unlock()

	dst := r.recv.bufs[f.category]
	if dst == nil {
		if !f.warned {
			f.warned = true
			r.logger.Warn("no receive buffer set, payload dropped",
				"category", f.category,
				"len", f.payloadLen)
		}
		r.metrics.payloadDropped.WithLabelValues(label).Add(float64(len(chunk)))
		return
	}

	space := max(len(dst)-f.delivered, 0)
	if len(chunk) > space {
		if !f.warned {
			f.warned = true
			r.logger.Warn("receive buffer too small, payload truncated",
				"category", f.category,
				"len", f.payloadLen,
				"capacity", len(dst))
			r.metrics.framesTruncated.WithLabelValues(label).Inc()
		}
		r.metrics.payloadDropped.WithLabelValues(label).Add(float64(len(chunk) - space))
		chunk = chunk[:space]
	}
	copy(dst[f.delivered:], chunk)
}

// completeFrame leaves data mode and signals the end of the transfer. A
// socket payload answers an outstanding receive command, so its header goes
// to the response queue. MQTT and BLE payloads are unsolicited and their
// handler is called right here, on the ingestion goroutine.
func (r *reassembler) completeFrame() {
	f := &r.frame
	f.active = false
	r.metrics.framesCompleted.WithLabelValues(f.category.String()).Inc()

	switch f.category {
	case at.CategoryNet:
		r.responses.push(r.pool.get(at.CategoryNet, f.header))
	case at.CategoryMQTT, at.CategoryBLE:
		r.handlers.invoke(f.category, f.header)
	}
}
