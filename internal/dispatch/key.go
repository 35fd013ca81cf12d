// Package dispatch buffers bus events and flushes them to batch consumers at
// a fixed cadence, coalescing same-key state snapshots within a window so
// per-frame work stays bounded under bursty load.
package dispatch

import "loom/internal/event"

// Key maps an event to its coalescing key. Incremental content (text and
// reasoning deltas) returns ok=false: every delta is individually preserved.
// Full-state-replacement events return a composite kind+entity key; within
// one flush window only the most recent event per key survives.
func Key(ev event.Event) (string, bool) {
	switch p := ev.Payload.(type) {
	case event.TextDelta, event.ReasoningDelta:
		return "", false
	case event.TextComplete:
		return compose(ev.Kind, p.MessageID), true
	case event.ReasoningComplete:
		return compose(ev.Kind, p.MessageID), true
	case event.ToolStart:
		return compose(ev.Kind, p.CallID), true
	case event.ToolComplete:
		return compose(ev.Kind, p.CallID), true
	case event.AgentStart:
		return compose(ev.Kind, p.AgentID), true
	case event.AgentUpdate:
		return compose(ev.Kind, p.AgentID), true
	case event.AgentComplete:
		return compose(ev.Kind, p.AgentID), true
	case event.SessionStatus:
		return compose(ev.Kind, ev.SessionID), true
	case event.SessionError:
		return compose(ev.Kind, ev.SessionID), true
	case event.Usage:
		return compose(ev.Kind, ev.RunID), true
	default:
		if ev.Kind.Lifecycle() {
			// Lifecycle events are per-run snapshots; one terminal event
			// exists per handle so last-write-wins is safe.
			return compose(ev.Kind, ev.RunID), true
		}
		return "", false
	}
}

func compose(kind event.Kind, entityID string) string {
	return string(kind) + "|" + entityID
}
