package event

import "fmt"

// ToolStatus tracks the lifecycle of a tool invocation.
type ToolStatus string

const (
	ToolPending     ToolStatus = "pending"
	ToolRunning     ToolStatus = "running"
	ToolCompleted   ToolStatus = "completed"
	ToolError       ToolStatus = "error"
	ToolInterrupted ToolStatus = "interrupted"
)

// TerminalTool reports whether s is a terminal tool status.
func TerminalTool(s ToolStatus) bool {
	switch s {
	case ToolCompleted, ToolError, ToolInterrupted:
		return true
	}
	return false
}

// AgentStatus tracks the lifecycle of a spawned sub-agent.
type AgentStatus string

const (
	AgentPending     AgentStatus = "pending"
	AgentRunning     AgentStatus = "running"
	AgentCompleted   AgentStatus = "completed"
	AgentError       AgentStatus = "error"
	AgentInterrupted AgentStatus = "interrupted"
)

// TerminalAgent reports whether s is a terminal agent status.
func TerminalAgent(s AgentStatus) bool {
	switch s {
	case AgentCompleted, AgentError, AgentInterrupted:
		return true
	}
	return false
}

// TaskItem is one entry of a task-list snapshot carried on agent updates.
type TaskItem struct {
	Label string
	Done  bool
}

// TextDelta - incremental assistant text for one message.
type TextDelta struct {
	MessageID string
	Text      string
}

func (p TextDelta) PayloadKind() Kind { return KindTextDelta }

func (p TextDelta) Validate() error {
	if p.MessageID == "" {
		return fmt.Errorf("missing message id")
	}
	return nil
}

// TextComplete - closes the current text part for a message. Text, when set,
// is the backend's authoritative final content.
type TextComplete struct {
	MessageID string
	Text      string
}

func (p TextComplete) PayloadKind() Kind { return KindTextComplete }

func (p TextComplete) Validate() error {
	if p.MessageID == "" {
		return fmt.Errorf("missing message id")
	}
	return nil
}

// ReasoningDelta - incremental reasoning text for one message.
type ReasoningDelta struct {
	MessageID string
	Text      string
}

func (p ReasoningDelta) PayloadKind() Kind { return KindReasoningDelta }

func (p ReasoningDelta) Validate() error {
	if p.MessageID == "" {
		return fmt.Errorf("missing message id")
	}
	return nil
}

// ReasoningComplete - closes the current reasoning part for a message.
type ReasoningComplete struct {
	MessageID string
	Text      string
}

func (p ReasoningComplete) PayloadKind() Kind { return KindReasoningComplete }

func (p ReasoningComplete) Validate() error {
	if p.MessageID == "" {
		return fmt.Errorf("missing message id")
	}
	return nil
}

// ToolStart announces a tool invocation. CallID may be provisional when the
// backend surfaces the call before its canonical identifier is known; a
// later ToolStart carrying the canonical CallID plus the old id in
// ProvisionalID upgrades it in place. OwnerID names the agent running the
// tool; empty means the top-level session.
type ToolStart struct {
	CallID        string
	ProvisionalID string
	Name          string
	OwnerID       string
	MessageID     string
	Input         map[string]any
}

func (p ToolStart) PayloadKind() Kind { return KindToolStart }

func (p ToolStart) Validate() error {
	if p.CallID == "" {
		return fmt.Errorf("missing call id")
	}
	if p.Name == "" {
		return fmt.Errorf("missing tool name")
	}
	if p.MessageID == "" {
		return fmt.Errorf("missing message id")
	}
	return nil
}

// ToolComplete carries the terminal state of a tool invocation. EchoProne
// marks results the backend is known to re-emit verbatim as assistant text;
// the pipeline registers those with the echo suppressor.
type ToolComplete struct {
	CallID       string
	MessageID    string
	Status       ToolStatus
	Output       string
	ErrorMessage string
	EchoProne    bool
}

func (p ToolComplete) PayloadKind() Kind { return KindToolComplete }

func (p ToolComplete) Validate() error {
	if p.CallID == "" {
		return fmt.Errorf("missing call id")
	}
	if p.MessageID == "" {
		return fmt.Errorf("missing message id")
	}
	if !TerminalTool(p.Status) {
		return fmt.Errorf("non-terminal status %q", p.Status)
	}
	return nil
}

// AgentStart announces a spawned sub-agent. ParentToolID is the tool call
// that spawned it (the group's spawn point). ProvisionalID, when set, is the
// placeholder identifier an adapter minted before AgentID was known.
type AgentStart struct {
	AgentID       string
	ProvisionalID string
	ParentToolID  string
	MessageID     string
	Task          string
	Background    bool
}

func (p AgentStart) PayloadKind() Kind { return KindAgentStart }

func (p AgentStart) Validate() error {
	if p.AgentID == "" {
		return fmt.Errorf("missing agent id")
	}
	if p.MessageID == "" {
		return fmt.Errorf("missing message id")
	}
	return nil
}

// AgentUpdate is a full-state snapshot of a tracked sub-agent. Tasks, when
// present, replaces the agent's task-list snapshot.
type AgentUpdate struct {
	AgentID string
	Status  AgentStatus
	Note    string
	Tasks   []TaskItem
}

func (p AgentUpdate) PayloadKind() Kind { return KindAgentUpdate }

func (p AgentUpdate) Validate() error {
	if p.AgentID == "" {
		return fmt.Errorf("missing agent id")
	}
	if p.Status == "" {
		return fmt.Errorf("missing status")
	}
	return nil
}

// AgentComplete carries the terminal state of a sub-agent.
type AgentComplete struct {
	AgentID      string
	Status       AgentStatus
	Result       string
	ErrorMessage string
}

func (p AgentComplete) PayloadKind() Kind { return KindAgentComplete }

func (p AgentComplete) Validate() error {
	if p.AgentID == "" {
		return fmt.Errorf("missing agent id")
	}
	if !TerminalAgent(p.Status) {
		return fmt.Errorf("non-terminal status %q", p.Status)
	}
	return nil
}

// SessionStatus is an auxiliary status line for the session. MessageID is
// optional; when set, the status also surfaces as a renderable part.
type SessionStatus struct {
	Status    string
	MessageID string
}

func (p SessionStatus) PayloadKind() Kind { return KindSessionStatus }

func (p SessionStatus) Validate() error {
	if p.Status == "" {
		return fmt.Errorf("missing status")
	}
	return nil
}

// SessionError reports a non-fatal session-level failure.
type SessionError struct {
	Message   string
	MessageID string
}

func (p SessionError) PayloadKind() Kind { return KindSessionError }

func (p SessionError) Validate() error {
	if p.Message == "" {
		return fmt.Errorf("missing message")
	}
	return nil
}

// Usage is a running token/cost snapshot for the run. Totals are cumulative;
// within a flush window only the latest snapshot matters.
type Usage struct {
	InputTokens  int
	OutputTokens int
	Cost         float64
}

func (p Usage) PayloadKind() Kind { return KindUsage }

func (p Usage) Validate() error {
	if p.InputTokens < 0 || p.OutputTokens < 0 {
		return fmt.Errorf("negative token count")
	}
	return nil
}

// LifecycleStart marks the beginning of a handle's event stream.
type LifecycleStart struct{}

func (p LifecycleStart) PayloadKind() Kind { return KindLifecycleStart }
func (p LifecycleStart) Validate() error   { return nil }

// LifecycleEnd marks normal completion of a handle's event stream.
type LifecycleEnd struct{}

func (p LifecycleEnd) PayloadKind() Kind { return KindLifecycleEnd }
func (p LifecycleEnd) Validate() error   { return nil }

// LifecycleAbort marks disposal before the stream completed.
type LifecycleAbort struct {
	Reason string
}

func (p LifecycleAbort) PayloadKind() Kind { return KindLifecycleAbort }
func (p LifecycleAbort) Validate() error   { return nil }

// LifecycleError marks an upstream failure that ended the stream.
type LifecycleError struct {
	Message string
}

func (p LifecycleError) PayloadKind() Kind { return KindLifecycleError }

func (p LifecycleError) Validate() error {
	if p.Message == "" {
		return fmt.Errorf("missing message")
	}
	return nil
}
