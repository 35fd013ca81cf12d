package source

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"loom/internal/event"
)

// Frame is one replayable record from a hybrid backend's primary channel.
// Seq increases monotonically within a stream; reconnection replays frames
// and the adapter drops any sequence number it has already seen.
type Frame struct {
	Seq  uint64 `json:"seq"`
	Type string `json:"type"`

	MessageID string `json:"message_id,omitempty"`
	Text      string `json:"text,omitempty"`

	CallID    string         `json:"call_id,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	Output    string         `json:"output,omitempty"`
	Failed    bool           `json:"failed,omitempty"`
	EchoProne bool           `json:"echo_prone,omitempty"`

	AgentID      string `json:"agent_id,omitempty"`
	ParentCallID string `json:"parent_call_id,omitempty"`
	Task         string `json:"task,omitempty"`
	Background   bool   `json:"background,omitempty"`

	Status       string `json:"status,omitempty"`
	Message      string `json:"message,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

// Frame types carried on the replay channel.
const (
	FrameText      = "text"
	FrameTextDone  = "text_done"
	FrameThinking  = "thinking"
	FrameToolBegin = "tool_begin"
	FrameToolEnd   = "tool_end"
	FrameStatus    = "status"
	FrameUsage     = "usage"
	FrameError     = "error"
)

// ReplayStream is the resumable primary channel of a hybrid backend. Recv
// returns io.EOF when the stream completes normally.
type ReplayStream interface {
	Recv(ctx context.Context) (*Frame, error)
	Close() error
}

// Signal is an out-of-band sub-agent notification delivered on the hybrid
// backend's secondary callback channel.
type Signal struct {
	AgentID      string
	ParentCallID string
	MessageID    string
	Status       string
	Task         string
	Background   bool
	Note         string
	Result       string
	Err          string
	Tasks        []event.TaskItem
}

// SignalChannel registers a callback for out-of-band signals and returns an
// unregister function.
type SignalChannel interface {
	On(fn func(Signal)) func()
}

// HybridHandle pairs a resumable replay stream with a callback channel for
// sub-agent signals.
type HybridHandle interface {
	SessionID() string
	RunID() string
	Replay() ReplayStream
	Signals() SignalChannel
}

// HybridAdapter consumes the replay stream from a goroutine while sub-agent
// signals arrive on backend callbacks. Duplicate frames replayed after a
// reconnect are dropped by sequence number.
type HybridAdapter struct {
	handle HybridHandle
	stream *stream

	disposed atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	off     func()
	started bool

	lastSeq uint64
}

// NewHybridAdapter wraps handle. Start must be called to begin consumption.
func NewHybridAdapter(handle HybridHandle, pub Publisher, logger *slog.Logger) *HybridAdapter {
	return &HybridAdapter{
		handle: handle,
		stream: newStream(pub, logger, handle.SessionID(), handle.RunID()),
	}
}

// Start registers the signal callback and launches the replay consumer. It
// may be called once.
func (a *HybridAdapter) Start() error {
	a.mu.Lock()
	if a.disposed.Load() {
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
	a.off = a.handle.Signals().On(func(sig Signal) {
		if a.disposed.Load() {
			return
		}
		a.translateSignal(sig)
	})
	a.mu.Unlock()

	a.stream.publish(event.KindLifecycleStart, event.LifecycleStart{})

	go func() {
		defer close(a.done)
		g, gctx := errgroup.WithContext(ctx)
		replay := a.handle.Replay()
		g.Go(func() error {
			defer replay.Close()
			return a.consumeReplay(gctx, replay)
		})
		err := g.Wait()
		switch {
		case err == nil:
			a.stream.finish(event.KindLifecycleEnd, event.LifecycleEnd{})
		case errors.Is(err, context.Canceled):
			a.stream.finish(event.KindLifecycleAbort, event.LifecycleAbort{Reason: "disposed"})
		default:
			a.stream.finish(event.KindLifecycleError, event.LifecycleError{Message: err.Error()})
		}
	}()
	return nil
}

func (a *HybridAdapter) consumeReplay(ctx context.Context, replay ReplayStream) error {
	for {
		frame, err := replay.Recv(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if frame.Seq <= a.lastSeq && a.lastSeq != 0 {
			a.stream.logger.Debug("dropping replayed frame", "seq", frame.Seq, "last_seq", a.lastSeq)
			continue
		}
		a.lastSeq = frame.Seq
		a.translateFrame(frame)
	}
}

// Dispose cancels the replay consumer, unregisters the signal callback,
// waits for in-flight work to settle, and stops all publication. Safe to
// call multiple times and before Start.
func (a *HybridAdapter) Dispose() {
	if a.disposed.Swap(true) {
		return
	}
	a.mu.Lock()
	cancel := a.cancel
	done := a.done
	off := a.off
	a.off = nil
	started := a.started
	a.mu.Unlock()

	if off != nil {
		off()
	}
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

func (a *HybridAdapter) translateFrame(f *Frame) {
	switch f.Type {
	case FrameText:
		a.stream.publish(event.KindTextDelta, event.TextDelta{MessageID: f.MessageID, Text: f.Text})
	case FrameTextDone:
		a.stream.publish(event.KindTextComplete, event.TextComplete{MessageID: f.MessageID, Text: f.Text})
	case FrameThinking:
		a.stream.publish(event.KindReasoningDelta, event.ReasoningDelta{MessageID: f.MessageID, Text: f.Text})
	case FrameToolBegin:
		a.stream.publish(event.KindToolStart, event.ToolStart{
			CallID:    f.CallID,
			Name:      f.ToolName,
			OwnerID:   f.AgentID,
			MessageID: f.MessageID,
			Input:     f.Input,
		})
	case FrameToolEnd:
		status := event.ToolCompleted
		var errMsg string
		if f.Failed {
			status = event.ToolError
			errMsg = f.Output
		}
		a.stream.publish(event.KindToolComplete, event.ToolComplete{
			CallID:       f.CallID,
			MessageID:    f.MessageID,
			Status:       status,
			Output:       f.Output,
			ErrorMessage: errMsg,
			EchoProne:    f.EchoProne,
		})
	case FrameStatus:
		a.stream.publish(event.KindSessionStatus, event.SessionStatus{Status: f.Status, MessageID: f.MessageID})
	case FrameUsage:
		a.stream.publish(event.KindUsage, event.Usage{InputTokens: f.InputTokens, OutputTokens: f.OutputTokens})
	case FrameError:
		a.stream.publish(event.KindSessionError, event.SessionError{Message: f.Message, MessageID: f.MessageID})
	default:
		a.stream.logger.Debug("skipping unrecognized frame", "type", f.Type, "seq", f.Seq)
	}
}

func (a *HybridAdapter) translateSignal(sig Signal) {
	status := event.AgentStatus(sig.Status)
	switch {
	case status == event.AgentPending || status == "":
		a.stream.publish(event.KindAgentStart, event.AgentStart{
			AgentID:      sig.AgentID,
			ParentToolID: sig.ParentCallID,
			MessageID:    sig.MessageID,
			Task:         sig.Task,
			Background:   sig.Background,
		})
	case event.TerminalAgent(status):
		a.stream.publish(event.KindAgentComplete, event.AgentComplete{
			AgentID:      sig.AgentID,
			Status:       status,
			Result:       sig.Result,
			ErrorMessage: sig.Err,
		})
	default:
		a.stream.publish(event.KindAgentUpdate, event.AgentUpdate{
			AgentID: sig.AgentID,
			Status:  status,
			Note:    sig.Note,
			Tasks:   sig.Tasks,
		})
	}
}
