package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Dispatcher decouples event producers from the sink with a buffered
// channel. A full buffer drops the event rather than stalling a login;
// the drop count is observable via Dropped.
type Dispatcher struct {
	sink Sink

	events    chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the forwarding goroutine. A nil sink means events
// are still drained, just discarded.
func NewDispatcher(sink Sink, buffer int) *Dispatcher {
	if sink == nil {
		sink = NoOpSink{}
	}
	if buffer <= 0 {
		buffer = 1
	}

	d := &Dispatcher{
		sink:   sink,
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	d.wg.Add(1)
	go d.forward()
	return d
}

func (d *Dispatcher) forward() {
	defer d.wg.Done()
	for {
		select {
		case event := <-d.events:
			d.sink.Record(context.Background(), event)
		case <-d.done:
			// Drain whatever made it into the buffer before Close.
			for {
				select {
				case event := <-d.events:
					d.sink.Record(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

// Emit enqueues the event, dropping it when the buffer is full or the
// dispatcher is closed. Never blocks.
func (d *Dispatcher) Emit(event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.events <- event:
	case <-d.done:
	default:
		d.dropped.Add(1)
	}
}

// Close stops intake, flushes the buffer, and waits for the forwarder.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports how many events were discarded due to a full buffer.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
