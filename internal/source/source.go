// Package source adapts the three incompatible backend delivery shapes
// (pull sequences, push callbacks, hybrid replay channels) onto the event
// bus. Backend identity never leaks past this layer: everything downstream
// sees only taxonomy events.
package source

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"loom/internal/event"
)

// ErrAlreadyStarted is returned when Start is called twice on one adapter.
var ErrAlreadyStarted = errors.New("source: adapter already started")

// ErrDisposed is returned when Start is called on a disposed adapter.
var ErrDisposed = errors.New("source: adapter disposed")

// Publisher is the slice of the bus that adapters need.
type Publisher interface {
	Publish(ev event.Event) error
}

// Adapter translates one backend handle's native delivery into bus event
// publications for the handle's lifetime. Dispose is idempotent, never
// panics, and guarantees the adapter publishes nothing after it returns.
type Adapter interface {
	Start() error
	Dispose()
}

// provisionalID mints a placeholder identifier for content whose canonical
// id is not known yet. Time-ordered so provisional ids sort sensibly in
// debug output.
func provisionalID(prefix string) string {
	if id, err := uuid.NewV7(); err == nil {
		return prefix + "-" + id.String()
	}
	return prefix + "-" + uuid.NewString()
}

// ProvisionalCallID mints a placeholder tool-call identifier.
func ProvisionalCallID() string { return provisionalID("prov-tool") }

// ProvisionalAgentID mints a placeholder agent identifier.
func ProvisionalAgentID() string { return provisionalID("prov-agent") }

// stream bundles what every adapter needs to publish: the bus, the handle's
// identifiers, and the guarantee of exactly one terminal lifecycle event.
type stream struct {
	pub       Publisher
	logger    *slog.Logger
	sessionID string
	runID     string
	terminal  sync.Once
}

func newStream(pub Publisher, logger *slog.Logger, sessionID, runID string) *stream {
	if logger == nil {
		logger = slog.Default()
	}
	return &stream{pub: pub, logger: logger, sessionID: sessionID, runID: runID}
}

func (s *stream) publish(kind event.Kind, payload event.Payload) {
	ev := event.Event{
		Kind:      kind,
		SessionID: s.sessionID,
		RunID:     s.runID,
		Timestamp: time.Now(),
		Payload:   payload,
	}
	if err := s.pub.Publish(ev); err != nil {
		// The bus already logged the rejection; nothing more to do here.
		s.logger.Debug("publish rejected", "kind", kind, "error", err)
	}
}

// finish publishes the stream's single terminal lifecycle event. Later
// calls, from any goroutine, are no-ops.
func (s *stream) finish(kind event.Kind, payload event.Payload) {
	s.terminal.Do(func() {
		s.publish(kind, payload)
	})
}
