package signal

import (
	"sync"

	"github.com/vietddude/suindexer/internal/indexing/metrics"
)

// DefaultBuffer is the dispatcher queue length used when none is given.
const DefaultBuffer = 256

// Dispatcher delivers signals to its sinks on a dedicated goroutine.
// Emit never blocks: when the queue is full the signal is dropped and counted.
type Dispatcher struct {
	sink Sink
	ch   chan Signal
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

var _ Sink = (*Dispatcher)(nil)

// NewDispatcher starts a dispatcher fanning out to sinks.
func NewDispatcher(buffer int, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	d := &Dispatcher{
		sink: Multi(sinks...),
		ch:   make(chan Signal, buffer),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for s := range d.ch {
		d.sink.Emit(s)
	}
}

// Emit queues s for delivery.
func (d *Dispatcher) Emit(s Signal) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.ch <- s:
	default:
		metrics.SignalsDropped.Inc()
	}
}

// Close stops accepting signals and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.ch)
	}
	d.mu.Unlock()
	<-d.done
}
