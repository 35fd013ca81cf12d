package dispatch

import (
	"log/slog"
	"sync"
	"time"

	"loom/internal/event"
	"loom/internal/observability"
)

// DefaultFlushInterval aligns with a typical terminal redraw budget
// (~60 frames per second).
const DefaultFlushInterval = 16 * time.Millisecond

// Consumer receives one coalesced batch per flush tick. The slice is reused
// by the dispatcher after the call returns; consumers must not retain it.
type Consumer func([]event.Event)

// window is one fill buffer plus the index of queued coalescing keys.
type window struct {
	events []event.Event
	index  map[string]int
}

func newWindow() *window {
	return &window{index: make(map[string]int)}
}

func (w *window) reset() {
	w.events = w.events[:0]
	clear(w.index)
}

// Dispatcher buffers published events and flushes them on a fixed cadence.
// Two windows are swapped on flush so the hot enqueue path never allocates
// a fresh buffer.
type Dispatcher struct {
	logger   *slog.Logger
	metrics  *observability.Metrics
	interval time.Duration

	mu        sync.Mutex
	front     *window
	back      *window
	consumers []consumerEntry
	nextID    int

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type consumerEntry struct {
	id int
	fn Consumer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithFlushInterval overrides the flush cadence.
func WithFlushInterval(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.interval = d
		}
	}
}

// WithMetrics attaches the counters collector.
func WithMetrics(m *observability.Metrics) Option {
	return func(disp *Dispatcher) { disp.metrics = m }
}

// New creates a dispatcher. Call Start to begin the flush loop.
func New(logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		logger:   logger,
		interval: DefaultFlushInterval,
		front:    newWindow(),
		back:     newWindow(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscribe registers a batch consumer. The returned function removes it and
// is safe to call twice.
func (d *Dispatcher) Subscribe(fn Consumer) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.consumers = append(d.consumers, consumerEntry{id: id, fn: fn})
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, c := range d.consumers {
			if c.id == id {
				d.consumers = append(d.consumers[:i:i], d.consumers[i+1:]...)
				return
			}
		}
	}
}

// Enqueue buffers one event for the current window. If the event has a
// coalescing key already queued this window, the newer event overwrites the
// queued one in place (last-write-wins).
func (d *Dispatcher) Enqueue(ev event.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.metrics.AddEnqueued(1)
	key, ok := Key(ev)
	if ok {
		if i, queued := d.front.index[key]; queued {
			d.front.events[i] = ev
			d.metrics.AddCoalesced(1)
			return
		}
		d.front.index[key] = len(d.front.events)
	}
	d.front.events = append(d.front.events, ev)
}

// Start launches the flush loop. It returns immediately; Stop ends the loop
// and performs a final flush.
func (d *Dispatcher) Start() {
	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				d.Flush()
			case <-d.stop:
				d.Flush()
				return
			}
		}
	}()
}

// Stop ends the flush loop after one final flush. Safe to call twice.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	<-d.done
}

// Flush swaps windows and delivers the filled one to every consumer. With no
// consumers attached, queued events are dropped, not retained. Flush must
// not run concurrently with itself; the flush loop is the only steady-state
// caller.
func (d *Dispatcher) Flush() {
	d.mu.Lock()
	if len(d.front.events) == 0 {
		d.mu.Unlock()
		return
	}
	full := d.front
	d.front, d.back = d.back, full
	consumers := make([]consumerEntry, len(d.consumers))
	copy(consumers, d.consumers)
	d.mu.Unlock()

	batch := full.events
	d.metrics.AddFlush()
	if len(consumers) > 0 {
		for _, c := range consumers {
			c.fn(batch)
		}
		d.metrics.AddDelivered(int64(len(batch)))
	} else {
		d.metrics.AddDropped(int64(len(batch)))
		d.logger.Debug("batch dropped, no consumers", "events", len(batch))
	}
	full.reset()
}
