package source

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"loom/internal/event"
)

// PushEvent is the native payload a push-style backend hands to registered
// callbacks. The backend reuses one shape for every notification; the topic
// it was registered under decides which fields matter.
type PushEvent struct {
	MessageID string
	Text      string
	Final     bool

	CallID    string
	ToolName  string
	Input     map[string]any
	Output    string
	Failed    bool
	EchoProne bool

	AgentID      string
	ParentCallID string
	Task         string
	Background   bool
	Status       string
	Note         string
	Result       string
	Tasks        []event.TaskItem

	InputTokens  int
	OutputTokens int
	Err          string
}

// Native topics a push-style backend publishes on.
const (
	PushTextDelta  = "text_delta"
	PushTextStop   = "text_stop"
	PushThinking   = "thinking"
	PushToolUse    = "tool_use"
	PushToolResult = "tool_result"
	PushAgent      = "subagent"
	PushUsage      = "usage"
	PushError      = "error"
	PushDone       = "done"
)

// PushHandle is a backend that delivers through registered callbacks. On
// returns an unregister function.
type PushHandle interface {
	SessionID() string
	RunID() string
	On(topic string, fn func(PushEvent)) func()
}

// PushAdapter registers one callback per native topic and translates each
// delivery into a taxonomy event. Callbacks may fire on arbitrary backend
// goroutines; a disposed adapter drops every late delivery on the floor.
type PushAdapter struct {
	handle PushHandle
	stream *stream

	disposed atomic.Bool

	mu      sync.Mutex
	offs    []func()
	started bool
}

// NewPushAdapter wraps handle. Start must be called to register callbacks.
func NewPushAdapter(handle PushHandle, pub Publisher, logger *slog.Logger) *PushAdapter {
	return &PushAdapter{
		handle: handle,
		stream: newStream(pub, logger, handle.SessionID(), handle.RunID()),
	}
}

// Start registers the adapter's callbacks with the backend. It may be called
// once.
func (a *PushAdapter) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.disposed.Load() {
		return ErrDisposed
	}
	if a.started {
		return ErrAlreadyStarted
	}
	a.started = true

	register := func(topic string, fn func(PushEvent)) {
		off := a.handle.On(topic, func(pe PushEvent) {
			if a.disposed.Load() {
				return
			}
			fn(pe)
		})
		a.offs = append(a.offs, off)
	}

	register(PushTextDelta, a.onTextDelta)
	register(PushTextStop, a.onTextStop)
	register(PushThinking, a.onThinking)
	register(PushToolUse, a.onToolUse)
	register(PushToolResult, a.onToolResult)
	register(PushAgent, a.onAgent)
	register(PushUsage, a.onUsage)
	register(PushError, a.onError)
	register(PushDone, a.onDone)

	a.stream.publish(event.KindLifecycleStart, event.LifecycleStart{})
	return nil
}

// Dispose unregisters every callback and stops all publication. Safe to call
// multiple times, before Start, and concurrently with deliveries.
func (a *PushAdapter) Dispose() {
	if a.disposed.Swap(true) {
		return
	}
	a.mu.Lock()
	offs := a.offs
	a.offs = nil
	started := a.started
	a.mu.Unlock()

	for _, off := range offs {
		off()
	}
	if started {
		a.stream.finish(event.KindLifecycleAbort, event.LifecycleAbort{Reason: "disposed"})
	}
}

func (a *PushAdapter) onTextDelta(pe PushEvent) {
	a.stream.publish(event.KindTextDelta, event.TextDelta{MessageID: pe.MessageID, Text: pe.Text})
}

func (a *PushAdapter) onTextStop(pe PushEvent) {
	a.stream.publish(event.KindTextComplete, event.TextComplete{MessageID: pe.MessageID, Text: pe.Text})
}

func (a *PushAdapter) onThinking(pe PushEvent) {
	if pe.Final {
		a.stream.publish(event.KindReasoningComplete, event.ReasoningComplete{MessageID: pe.MessageID, Text: pe.Text})
		return
	}
	a.stream.publish(event.KindReasoningDelta, event.ReasoningDelta{MessageID: pe.MessageID, Text: pe.Text})
}

func (a *PushAdapter) onToolUse(pe PushEvent) {
	a.stream.publish(event.KindToolStart, event.ToolStart{
		CallID:    pe.CallID,
		Name:      pe.ToolName,
		OwnerID:   pe.AgentID,
		MessageID: pe.MessageID,
		Input:     pe.Input,
	})
}

func (a *PushAdapter) onToolResult(pe PushEvent) {
	status := event.ToolCompleted
	var errMsg string
	if pe.Failed {
		status = event.ToolError
		errMsg = pe.Output
	}
	a.stream.publish(event.KindToolComplete, event.ToolComplete{
		CallID:       pe.CallID,
		MessageID:    pe.MessageID,
		Status:       status,
		Output:       pe.Output,
		ErrorMessage: errMsg,
		EchoProne:    pe.EchoProne,
	})
}

// onAgent folds the backend's single sub-agent topic into start, update, or
// complete depending on the reported status.
func (a *PushAdapter) onAgent(pe PushEvent) {
	status := event.AgentStatus(pe.Status)
	switch {
	case status == event.AgentPending || status == "":
		a.stream.publish(event.KindAgentStart, event.AgentStart{
			AgentID:      pe.AgentID,
			ParentToolID: pe.ParentCallID,
			MessageID:    pe.MessageID,
			Task:         pe.Task,
			Background:   pe.Background,
		})
	case event.TerminalAgent(status):
		a.stream.publish(event.KindAgentComplete, event.AgentComplete{
			AgentID:      pe.AgentID,
			Status:       status,
			Result:       pe.Result,
			ErrorMessage: pe.Err,
		})
	default:
		a.stream.publish(event.KindAgentUpdate, event.AgentUpdate{
			AgentID: pe.AgentID,
			Status:  status,
			Note:    pe.Note,
			Tasks:   pe.Tasks,
		})
	}
}

func (a *PushAdapter) onUsage(pe PushEvent) {
	a.stream.publish(event.KindUsage, event.Usage{InputTokens: pe.InputTokens, OutputTokens: pe.OutputTokens})
}

func (a *PushAdapter) onError(pe PushEvent) {
	a.stream.finish(event.KindLifecycleError, event.LifecycleError{Message: pe.Err})
}

func (a *PushAdapter) onDone(PushEvent) {
	a.stream.finish(event.KindLifecycleEnd, event.LifecycleEnd{})
}
