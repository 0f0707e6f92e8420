package ncp

import (
	"sync"
	"sync/atomic"

	"i4.energy/across/ncpctl/at"
)

// envelope carries one classified unit from the ingestion worker to a queue
// consumer. Whoever holds the pointer owns it; the owner hands it back to the
// pool exactly once, after copying out what it needs.
type envelope struct {
	category at.Category
	payload  []byte
	pool     *envelopePool
}

// release returns e to its pool. e must not be used afterwards.
func (e *envelope) release() {
	e.pool.put(e)
}

// envelopePool recycles envelopes and their payload buffers. It tracks the
// number of envelopes handed out and not yet released.
type envelopePool struct {
	pool        sync.Pool
	outstanding atomic.Int64
}

func newEnvelopePool() *envelopePool {
	p := &envelopePool{}
	p.pool.New = func() any {
		return &envelope{pool: p}
	}
	return p
}

// get returns an envelope holding a copy of data.
func (p *envelopePool) get(category at.Category, data []byte) *envelope {
	e := p.pool.Get().(*envelope)
	e.category = category
	e.payload = append(e.payload[:0], data...)
	p.outstanding.Add(1)
	return e
}

func (p *envelopePool) put(e *envelope) {
	e.category = at.CategoryNone
	e.payload = e.payload[:0]
	p.outstanding.Add(-1)
	p.pool.Put(e)
}

// inUse reports the envelopes currently owned by a queue or consumer.
func (p *envelopePool) inUse() int64 {
	return p.outstanding.Load()
}
