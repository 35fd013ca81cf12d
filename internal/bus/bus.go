// Package bus implements the in-process publish/subscribe hub all pipeline
// events flow through. Delivery is synchronous and fan-out is ordered by
// registration; a misbehaving handler is isolated so it can never block the
// remaining handlers or corrupt bus state.
package bus

import (
	"log/slog"
	"sync"

	"loom/internal/event"
)

// Handler consumes one validated event.
type Handler func(event.Event)

type entry struct {
	id int
	fn Handler
}

// Bus is a synchronous typed pub/sub hub. Publication validates the payload
// against the schema for the event's kind; invalid events are logged and
// never delivered.
type Bus struct {
	logger *slog.Logger

	mu       sync.Mutex
	nextID   int
	byKind   map[event.Kind][]entry
	wildcard []entry

	onInvalid func(event.Event, error)
}

// New creates an empty bus. A nil logger falls back to slog.Default.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		byKind: make(map[event.Kind][]entry),
	}
}

// OnInvalid installs a hook invoked for each rejected event, after logging.
// Used by the pipeline to count validation failures.
func (b *Bus) OnInvalid(fn func(event.Event, error)) {
	b.mu.Lock()
	b.onInvalid = fn
	b.mu.Unlock()
}

// Subscribe registers a handler for one event kind. The returned function
// removes the registration; it is safe to call twice and safe to call while
// a delivery is in flight.
func (b *Bus) Subscribe(kind event.Kind, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.byKind[kind] = append(b.byKind[kind], entry{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.byKind[kind] = remove(b.byKind[kind], id)
	}
}

// SubscribeAll registers a wildcard handler receiving every event after the
// kind-specific handlers for that event.
func (b *Bus) SubscribeAll(fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.wildcard = append(b.wildcard, entry{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.wildcard = remove(b.wildcard, id)
	}
}

// Publish validates ev and delivers it synchronously to every handler for
// its kind and every wildcard handler, in registration order. A validation
// failure is logged and returned; the event is not delivered. A handler
// panic is recovered, logged, and does not stop delivery to the rest.
func (b *Bus) Publish(ev event.Event) error {
	if err := ev.Validate(); err != nil {
		b.logger.Warn("event rejected",
			"kind", ev.Kind,
			"run_id", ev.RunID,
			"error", err)
		b.mu.Lock()
		hook := b.onInvalid
		b.mu.Unlock()
		if hook != nil {
			hook(ev, err)
		}
		return err
	}

	// Snapshot under lock so handlers may subscribe/unsubscribe during
	// delivery without invalidating this iteration.
	b.mu.Lock()
	targets := make([]entry, 0, len(b.byKind[ev.Kind])+len(b.wildcard))
	targets = append(targets, b.byKind[ev.Kind]...)
	targets = append(targets, b.wildcard...)
	b.mu.Unlock()

	for _, target := range targets {
		b.deliver(target, ev)
	}
	return nil
}

func (b *Bus) deliver(target entry, ev event.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"kind", ev.Kind,
				"run_id", ev.RunID,
				"panic", r)
		}
	}()
	target.fn(ev)
}

func remove(entries []entry, id int) []entry {
	for i, e := range entries {
		if e.id == id {
			return append(entries[:i:i], entries[i+1:]...)
		}
	}
	return entries
}
