package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"loom/internal/event"
)

// PullUnit is the native record a pull-style backend yields from Next. Type
// selects which of the remaining fields are meaningful.
type PullUnit struct {
	Type      string
	MessageID string
	Text      string

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
	Note         string
	Result       string
	Tasks        []event.TaskItem

	Status       string
	InputTokens  int
	OutputTokens int
}

// Native unit types produced by pull-style backends.
const (
	PullText         = "text"
	PullTextDone     = "text_done"
	PullThinking     = "thinking"
	PullThinkingDone = "thinking_done"
	PullToolBegin    = "tool_begin"
	PullToolEnd      = "tool_end"
	PullAgentBegin   = "agent_begin"
	PullAgentStatus  = "agent_status"
	PullAgentDone    = "agent_done"
	PullStatus       = "status"
	PullUsage        = "usage"
)

// PullHandle is a backend stream consumed by repeated blocking calls. Next
// returns io.EOF when the stream completes normally.
type PullHandle interface {
	SessionID() string
	RunID() string
	Next(ctx context.Context) (*PullUnit, error)
}

// PullAdapter drives a PullHandle from a dedicated goroutine, translating
// each unit into a taxonomy event. The stream ends with exactly one terminal
// lifecycle event: end on io.EOF, abort on disposal, error on any other
// failure.
type PullAdapter struct {
	handle PullHandle
	stream *stream

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	started  bool
	disposed bool

	// Tool calls announced before their canonical id is known, keyed by
	// tool name. A later unit carrying the canonical id upgrades them.
	openProvisional map[string]string
}

// NewPullAdapter wraps handle. Start must be called to begin consumption.
func NewPullAdapter(handle PullHandle, pub Publisher, logger *slog.Logger) *PullAdapter {
	return &PullAdapter{
		handle:          handle,
		stream:          newStream(pub, logger, handle.SessionID(), handle.RunID()),
		openProvisional: make(map[string]string),
	}
}

// Start launches the consumption goroutine. It may be called once.
func (a *PullAdapter) Start() error {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return ErrDisposed
	}
	if a.started {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.done = make(chan struct{})
	a.started = true
	a.mu.Unlock()

	a.stream.publish(event.KindLifecycleStart, event.LifecycleStart{})
	go a.loop(ctx)
	return nil
}

func (a *PullAdapter) loop(ctx context.Context) {
	defer close(a.done)
	for {
		unit, err := a.handle.Next(ctx)
		switch {
		case err == nil:
			a.translate(unit)
		case errors.Is(err, io.EOF):
			a.stream.finish(event.KindLifecycleEnd, event.LifecycleEnd{})
			return
		case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
			a.stream.finish(event.KindLifecycleAbort, event.LifecycleAbort{Reason: "disposed"})
			return
		default:
			a.stream.finish(event.KindLifecycleError, event.LifecycleError{Message: err.Error()})
			return
		}
	}
}

// Dispose cancels the consumption goroutine, waits for in-flight work to
// settle, and guarantees no event is published after it returns. Safe to
// call multiple times and before Start.
func (a *PullAdapter) Dispose() {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return
	}
	a.disposed = true
	cancel := a.cancel
	done := a.done
	started := a.started
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if started {
		a.stream.finish(event.KindLifecycleAbort, event.LifecycleAbort{Reason: "disposed"})
	}
}

func (a *PullAdapter) translate(u *PullUnit) {
	switch u.Type {
	case PullText:
		a.stream.publish(event.KindTextDelta, event.TextDelta{MessageID: u.MessageID, Text: u.Text})
	case PullTextDone:
		a.stream.publish(event.KindTextComplete, event.TextComplete{MessageID: u.MessageID, Text: u.Text})
	case PullThinking:
		a.stream.publish(event.KindReasoningDelta, event.ReasoningDelta{MessageID: u.MessageID, Text: u.Text})
	case PullThinkingDone:
		a.stream.publish(event.KindReasoningComplete, event.ReasoningComplete{MessageID: u.MessageID, Text: u.Text})
	case PullToolBegin:
		a.translateToolBegin(u)
	case PullToolEnd:
		a.translateToolEnd(u)
	case PullAgentBegin:
		a.stream.publish(event.KindAgentStart, event.AgentStart{
			AgentID:      u.AgentID,
			ParentToolID: u.ParentCallID,
			MessageID:    u.MessageID,
			Task:         u.Task,
			Background:   u.Background,
		})
	case PullAgentStatus:
		a.stream.publish(event.KindAgentUpdate, event.AgentUpdate{
			AgentID: u.AgentID,
			Status:  event.AgentStatus(u.Status),
			Note:    u.Note,
			Tasks:   u.Tasks,
		})
	case PullAgentDone:
		status := event.AgentCompleted
		if u.Failed {
			status = event.AgentError
		}
		a.stream.publish(event.KindAgentComplete, event.AgentComplete{
			AgentID:      u.AgentID,
			Status:       status,
			Result:       u.Result,
			ErrorMessage: u.Note,
		})
	case PullStatus:
		a.stream.publish(event.KindSessionStatus, event.SessionStatus{Status: u.Status, MessageID: u.MessageID})
	case PullUsage:
		a.stream.publish(event.KindUsage, event.Usage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens})
	default:
		a.stream.logger.Debug("skipping unrecognized pull unit", "type", u.Type)
	}
}

func (a *PullAdapter) translateToolBegin(u *PullUnit) {
	callID := u.CallID
	var provisional string
	if callID == "" {
		// Backend surfaced the call before assigning its id. Mint a
		// placeholder and remember it so the real id can upgrade it.
		callID = ProvisionalCallID()
		a.openProvisional[u.ToolName] = callID
	} else if prov, ok := a.openProvisional[u.ToolName]; ok {
		provisional = prov
		delete(a.openProvisional, u.ToolName)
	}
	a.stream.publish(event.KindToolStart, event.ToolStart{
		CallID:        callID,
		ProvisionalID: provisional,
		Name:          u.ToolName,
		OwnerID:       u.AgentID,
		MessageID:     u.MessageID,
		Input:         u.Input,
	})
}

func (a *PullAdapter) translateToolEnd(u *PullUnit) {
	callID := u.CallID
	if prov, ok := a.openProvisional[u.ToolName]; ok {
		if callID == "" {
			callID = prov
		} else {
			// The canonical id arrived only with the result. Upgrade the
			// provisional start before publishing the completion.
			a.stream.publish(event.KindToolStart, event.ToolStart{
				CallID:        callID,
				ProvisionalID: prov,
				Name:          u.ToolName,
				OwnerID:       u.AgentID,
				MessageID:     u.MessageID,
			})
		}
		delete(a.openProvisional, u.ToolName)
	}
	status := event.ToolCompleted
	var errMsg string
	if u.Failed {
		status = event.ToolError
		errMsg = u.Output
	}
	a.stream.publish(event.KindToolComplete, event.ToolComplete{
		CallID:       callID,
		MessageID:    u.MessageID,
		Status:       status,
		Output:       u.Output,
		ErrorMessage: errMsg,
		EchoProne:    u.EchoProne,
	})
}
