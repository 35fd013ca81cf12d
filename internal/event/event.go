// Package event defines the closed taxonomy of streaming events exchanged
// between backend source adapters and the rendering pipeline. Every event is
// an immutable envelope carrying a kind, session/run identifiers, a timestamp
// and a typed payload validated before it enters the bus.
package event

import (
	"fmt"
	"time"
)

// Kind identifies one event flavor from the closed taxonomy.
type Kind string

const (
	KindTextDelta         Kind = "text.delta"
	KindTextComplete      Kind = "text.complete"
	KindReasoningDelta    Kind = "reasoning.delta"
	KindReasoningComplete Kind = "reasoning.complete"
	KindToolStart         Kind = "tool.start"
	KindToolComplete      Kind = "tool.complete"
	KindAgentStart        Kind = "agent.start"
	KindAgentUpdate       Kind = "agent.update"
	KindAgentComplete     Kind = "agent.complete"
	KindSessionStatus     Kind = "session.status"
	KindSessionError      Kind = "session.error"
	KindUsage             Kind = "usage"
	KindLifecycleStart    Kind = "lifecycle.start"
	KindLifecycleEnd      Kind = "lifecycle.end"
	KindLifecycleAbort    Kind = "lifecycle.abort"
	KindLifecycleError    Kind = "lifecycle.error"
)

var knownKinds = map[Kind]struct{}{
	KindTextDelta:         {},
	KindTextComplete:      {},
	KindReasoningDelta:    {},
	KindReasoningComplete: {},
	KindToolStart:         {},
	KindToolComplete:      {},
	KindAgentStart:        {},
	KindAgentUpdate:       {},
	KindAgentComplete:     {},
	KindSessionStatus:     {},
	KindSessionError:      {},
	KindUsage:             {},
	KindLifecycleStart:    {},
	KindLifecycleEnd:      {},
	KindLifecycleAbort:    {},
	KindLifecycleError:    {},
}

// Known reports whether k belongs to the taxonomy.
func (k Kind) Known() bool {
	_, ok := knownKinds[k]
	return ok
}

// Lifecycle reports whether k is one of the per-handle lifecycle kinds.
func (k Kind) Lifecycle() bool {
	switch k {
	case KindLifecycleStart, KindLifecycleEnd, KindLifecycleAbort, KindLifecycleError:
		return true
	}
	return false
}

// Terminal reports whether k closes a handle's event stream.
func (k Kind) Terminal() bool {
	switch k {
	case KindLifecycleEnd, KindLifecycleAbort, KindLifecycleError:
		return true
	}
	return false
}

// Payload is the typed content attached to an event. Each kind has exactly
// one payload variant; the bus rejects events whose payload does not match.
type Payload interface {
	PayloadKind() Kind
	Validate() error
}

// Event is one immutable record of something that happened in a streaming
// session. Adapters create events; nothing downstream mutates them.
type Event struct {
	Kind      Kind
	SessionID string
	RunID     string
	Timestamp time.Time
	Payload   Payload
}

// Validate checks the envelope and delegates to the payload schema. It is
// called once at the bus boundary; downstream components may assume a
// delivered event is well formed.
func (e Event) Validate() error {
	if !e.Kind.Known() {
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.SessionID == "" {
		return fmt.Errorf("%s: missing session id", e.Kind)
	}
	if e.RunID == "" {
		return fmt.Errorf("%s: missing run id", e.Kind)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%s: missing timestamp", e.Kind)
	}
	if e.Payload == nil {
		return fmt.Errorf("%s: missing payload", e.Kind)
	}
	if pk := e.Payload.PayloadKind(); pk != e.Kind {
		return fmt.Errorf("%s: payload declares kind %q", e.Kind, pk)
	}
	if err := e.Payload.Validate(); err != nil {
		return fmt.Errorf("%s: %w", e.Kind, err)
	}
	return nil
}

// New builds an event stamped with the current time.
func New(kind Kind, sessionID, runID string, payload Payload) Event {
	return Event{
		Kind:      kind,
		SessionID: sessionID,
		RunID:     runID,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}
