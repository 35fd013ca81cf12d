// Package part maintains the canonical ordered document model the terminal
// renders: per-message arrays of renderable parts, sorted by a chronologic
// identifier, mutated by enriched pipeline events.
package part

import "loom/internal/event"

// Type discriminates the renderable part flavors.
type Type string

const (
	TypeText       Type = "text"
	TypeReasoning  Type = "reasoning"
	TypeTool       Type = "tool"
	TypeAgentGroup Type = "agent_group"
	TypeTaskList   Type = "task_list"
	TypeStatus     Type = "status"
)

// Question is an interactive prompt attached to a tool part while the tool
// waits for user input. It rides on the tool, not as a separate part.
type Question struct {
	Prompt   string
	Options  []string
	Answer   string
	Resolved bool
}

// ToolState is the mutable state of one tool invocation rendered inside a
// tool part. Terminal states are immutable.
type ToolState struct {
	CallID       string
	Name         string
	Status       event.ToolStatus
	Input        map[string]any
	Output       string
	ErrorMessage string
	Question     *Question
}

// Terminal reports whether the tool reached a final state.
func (s *ToolState) Terminal() bool {
	return event.TerminalTool(s.Status)
}

// AgentTrack is one tracked sub-agent inside an agent group. Each track has
// an independent lifecycle; Background marks detached agents that outlive
// the spawning call and must not be finalized when it returns.
type AgentTrack struct {
	AgentID    string
	Status     event.AgentStatus
	Task       string
	Note       string
	Result     string
	Background bool
	// Tools records nested tool activity attributed to this sub-agent and
	// excluded from top-level rendering.
	Tools []*ToolState
}

// Terminal reports whether the track reached a final state.
func (t *AgentTrack) Terminal() bool {
	return event.TerminalAgent(t.Status)
}

// Part is one renderable unit of a message. Exactly the fields matching
// Type are populated.
type Part struct {
	ID        ID
	Type      Type
	MessageID string

	// Text and reasoning parts. Open means deltas still append here; a tool
	// call interrupting a stream closes the part so later text starts a new
	// one in correct order.
	Text string
	Open bool

	// Tool part.
	Tool *ToolState

	// Agent group: sub-agents sharing a spawn point (the tool call that
	// launched them).
	SpawnToolID string
	Agents      []*AgentTrack

	// Task list snapshot.
	Tasks []event.TaskItem

	// Auxiliary status line.
	Status string
}

// Track returns the group's track for agentID, or nil.
func (p *Part) Track(agentID string) *AgentTrack {
	for _, tr := range p.Agents {
		if tr.AgentID == agentID {
			return tr
		}
	}
	return nil
}

// Settled reports whether every non-background track of an agent group has
// reached a terminal state.
func (p *Part) Settled() bool {
	for _, tr := range p.Agents {
		if tr.Background {
			continue
		}
		if !tr.Terminal() {
			return false
		}
	}
	return true
}
