package ncp

import (
	"context"
	"sync"

	"i4.energy/across/ncpctl/at"
)

// Handler receives unsolicited notifications of one category.
//
// For WiFi, Net, MQTT and BLE event lines, HandleEvent runs on the event
// dispatch goroutine. For completed MQTT and BLE data frames it runs on the
// ingestion goroutine with the frame header as payload; the frame body is in
// the buffer registered with SetRecvBuffer. Either way payload is only valid
// for the duration of the call, and the handler must not start a command
// transaction: Begin returns ErrWorkerReentry from both goroutines.
type Handler interface {
	HandleEvent(category at.Category, payload []byte)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(category at.Category, payload []byte)

func (f HandlerFunc) HandleEvent(category at.Category, payload []byte) {
	f(category, payload)
}

// registry maps each category to at most one handler.
type registry struct {
	mu       sync.RWMutex
	handlers [at.NumCategories]Handler
	metrics  *metrics
}

func (r *registry) set(cat at.Category, h Handler) {
	r.mu.Lock()
	r.handlers[cat] = h
	r.mu.Unlock()
}

func (r *registry) get(cat at.Category) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[cat]
}

// invoke calls the handler registered for cat and reports whether there was
// one.
func (r *registry) invoke(cat at.Category, payload []byte) bool {
	h := r.get(cat)
	if h == nil {
		r.metrics.eventsDiscarded.WithLabelValues(cat.String()).Inc()
		return false
	}
	h.HandleEvent(cat, payload)
	r.metrics.eventsDispatched.WithLabelValues(cat.String()).Inc()
	return true
}

// RegisterHandler installs h for cat, replacing any previous handler. A nil
// h removes the registration; events of that category are then discarded.
// It is safe to call while the driver runs.
func (d *Driver) RegisterHandler(cat at.Category, h Handler) error {
	if !cat.Valid() || cat == at.CategoryNone {
		return ErrInvalidCategory
	}
	d.handlers.set(cat, h)
	return nil
}

// dispatch is the event dispatch worker. It pops events in arrival order,
// copies each into a scratch buffer, releases the envelope and then calls
// the handler, so a slow handler never holds pooled memory.
func (d *Driver) dispatch(ctx context.Context) error {
	d.lock.dispatchID.Store(goid())
	defer d.lock.dispatchID.Store(0)

	scratch := make([]byte, d.config.RxBufferSize)
	for {
		e, err := d.events.pop(ctx)
		if err != nil {
			return err
		}
		cat := e.category
		n := copy(scratch, e.payload)
		e.release()

		if !d.handlers.invoke(cat, scratch[:n]) {
			d.logger.Debug("no handler registered, event discarded",
				"category", cat,
				"event", d.clip(scratch[:n]))
		}
	}
}
