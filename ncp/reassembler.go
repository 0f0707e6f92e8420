package ncp

import (
	"bytes"
	"log/slog"

	"i4.energy/across/ncpctl/at"
)

// reassembler turns the raw byte stream into responses, events and binary
// data frames. It is driven exclusively by the ingestion worker.
type reassembler struct {
	logger    *slog.Logger
	metrics   *metrics
	pool      *envelopePool
	responses *queue
	events    *queue
	recv      *recvContexts
	handlers  *registry

	// loopLimit caps the passes over a single input. Zero means one pass
	// per input byte: every pass consumes at least one byte or returns, so
	// that cap is only reached when framing stops making progress.
	loopLimit int

	frame dataFrame
}

// process frames as many complete units as data holds and returns the
// number of trailing bytes that form an incomplete unit. The caller keeps
// those bytes and presents them again, followed by newly read bytes.
func (r *reassembler) process(data []byte) int {
	limit := r.loopLimit
	if limit <= 0 {
		limit = len(data)
	}

	pos := 0
	for loops := 0; pos < len(data); loops++ {
		if loops >= limit {
			r.logger.Error("frame reassembler stuck, dropping input",
				"unparsed", len(data)-pos)
			r.metrics.parserAbort.Inc()
			return 0
		}

		if r.frame.active {
			pos += r.extract(data[pos:])
			continue
		}

		n, waiting := r.frameUnit(data[pos:])
		pos += n
		if waiting {
			return len(data) - pos
		}
	}
	return 0
}

// frameUnit frames at most one unit from the start of data in line mode. It
// returns the bytes consumed and whether the rest of data is an incomplete
// unit that needs more input.
func (r *reassembler) frameUnit(data []byte) (int, bool) {
	skip := leadingTerminators(data)
	data = data[skip:]
	if len(data) == 0 {
		return skip, false
	}

	if at.IsPrompt(data) {
		r.responses.push(r.pool.get(at.CategoryNone, data[:len(at.Prompt)]))
		return skip + len(at.Prompt), false
	}

	// Data headers end in the same terminator as ordinary lines once their
	// payload is appended, so they are recognized before any line search.
	hdr, res := at.ParseDataHeader(data)
	switch res {
	case at.HeaderComplete:
		r.beginFrame(hdr, data[:hdr.Size])
		return skip + hdr.Size, false
	case at.HeaderPartial:
		return skip, true
	}

	end := lineEnd(data)
	if end == 0 {
		return skip, true
	}
	r.route(data[:end])
	return skip + end, false
}

// leadingTerminators counts the CRLF pairs at the start of data that can be
// discarded. A pair is kept when it precedes the prompt character, and when
// the byte after it has not arrived yet.
func leadingTerminators(data []byte) int {
	n := 0
	for len(data)-n > len(at.CRLF) &&
		data[n] == '\r' && data[n+1] == '\n' &&
		data[n+2] != at.PromptChar {
		n += len(at.CRLF)
	}
	return n
}

// lineEnd returns the length of the first line in data, terminator included,
// or 0 when no terminator has arrived. A line holds at least one byte before
// its terminator.
func lineEnd(data []byte) int {
	if len(data) < 3 {
		return 0
	}
	i := bytes.Index(data[1:], []byte(at.CRLF))
	if i < 0 {
		return 0
	}
	return 1 + i + len(at.CRLF)
}

// route queues a complete line as an event or a response.
func (r *reassembler) route(line []byte) {
	if cat, ok := at.ClassifyEvent(line); ok {
		r.events.push(r.pool.get(cat, line))
		return
	}
	if at.IsSendOutcome(line) {
		r.logger.Debug("send outcome suppressed", "line", string(bytes.TrimSpace(line)))
		return
	}
	r.responses.push(r.pool.get(at.CategoryNone, line))
}
