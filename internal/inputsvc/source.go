// Package inputsvc delivers pointer samples from the input system to subscribers.
package inputsvc

import (
	"github.com/inkbridge/inkbridge-agent/pkg/penframe"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/atomic"
)

// Listener receives one sample at a time. It is called synchronously on the goroutine that
// delivers the sample.
type Listener func(sample penframe.Sample)

// Source is an input-event source.
type Source interface {
	// Subscribe registers l and returns a function removing it. The returned function may be
	// called from within l.
	Subscribe(l Listener) (unsubscribe func())
}

// Dispatcher is a Source fed by one or more delivery channels. Channels deliver
// independently, so one physical gesture may reach a listener through more than one of them,
// possibly at the same time. Dispatcher does not deduplicate.
type Dispatcher struct {
	seq       *atomic.Uint64
	listeners *xsync.MapOf[uint64, Listener]
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		seq:       atomic.NewUint64(0),
		listeners: xsync.NewMapOf[uint64, Listener](),
	}
}

func (d *Dispatcher) Subscribe(l Listener) func() {
	id := d.seq.Inc()
	d.listeners.Store(id, l)
	return func() {
		d.listeners.Delete(id)
	}
}

// Dispatch delivers sample to every listener.
func (d *Dispatcher) Dispatch(sample penframe.Sample) {
	d.listeners.Range(func(_ uint64, l Listener) bool {
		l(sample)
		return true
	})
}

// Listeners returns the number of registered listeners.
func (d *Dispatcher) Listeners() int {
	return d.listeners.Size()
}
