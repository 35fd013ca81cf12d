package correlate

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"loom/internal/event"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ev(runID string, kind event.Kind, payload event.Payload) event.Event {
	return event.Event{
		Kind:      kind,
		SessionID: "sess-1",
		RunID:     runID,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

func TestEventsAreStaleUntilRunRegistered(t *testing.T) {
	c := New(quietLogger())
	en := c.Enrich(ev("run-1", event.KindTextDelta, event.TextDelta{MessageID: "m", Text: "x"}))
	require.True(t, en.Stale)

	c.RegisterRun("run-1", "sess-1")
	en = c.Enrich(ev("run-1", event.KindTextDelta, event.TextDelta{MessageID: "m", Text: "x"}))
	require.False(t, en.Stale)
}

func TestSupersededRunEventsAreStale(t *testing.T) {
	c := New(quietLogger())
	c.RegisterRun("run-a", "sess-1")
	c.RegisterRun("run-b", "sess-1")

	stale := c.Enrich(ev("run-a", event.KindTextDelta, event.TextDelta{MessageID: "m", Text: "late"}))
	require.True(t, stale.Stale, "events tagged with a superseded run are enriched but dropped")

	fresh := c.Enrich(ev("run-b", event.KindTextDelta, event.TextDelta{MessageID: "m", Text: "ok"}))
	require.False(t, fresh.Stale)
}

func TestResetRetiresActiveRun(t *testing.T) {
	c := New(quietLogger())
	c.RegisterRun("run-1", "sess-1")
	c.Reset()
	require.Empty(t, c.ActiveRun())
	en := c.Enrich(ev("run-1", event.KindTextDelta, event.TextDelta{MessageID: "m", Text: "x"}))
	require.True(t, en.Stale)
}

func TestProvisionalToolIDResolvedFirstSeenWins(t *testing.T) {
	c := New(quietLogger())
	c.RegisterRun("run-1", "sess-1")

	c.Enrich(ev("run-1", event.KindToolStart, event.ToolStart{
		CallID: "prov-1", Name: "task", MessageID: "m",
	}))
	c.Enrich(ev("run-1", event.KindToolStart, event.ToolStart{
		CallID: "tool-77", ProvisionalID: "prov-1", Name: "task", MessageID: "m",
	}))

	// Conflicting later claim for the same provisional id loses.
	c.Enrich(ev("run-1", event.KindToolStart, event.ToolStart{
		CallID: "tool-99", ProvisionalID: "prov-1", Name: "task", MessageID: "m",
	}))

	en := c.Enrich(ev("run-1", event.KindToolComplete, event.ToolComplete{
		CallID: "prov-1", MessageID: "m", Status: event.ToolCompleted,
	}))
	require.Equal(t, "tool-77", en.ResolvedToolID, "subsequent lookups use the canonical id")
}

func TestSubagentToolTagging(t *testing.T) {
	c := New(quietLogger())
	c.RegisterRun("run-1", "sess-1")

	// Top-level tool t1 spawns two concurrent sub-agents.
	top := c.Enrich(ev("run-1", event.KindToolStart, event.ToolStart{
		CallID: "t1", Name: "task", MessageID: "m",
	}))
	require.False(t, top.SubagentTool)

	a := c.Enrich(ev("run-1", event.KindAgentStart, event.AgentStart{
		AgentID: "agent-a", ParentToolID: "t1", MessageID: "m",
	}))
	b := c.Enrich(ev("run-1", event.KindAgentStart, event.AgentStart{
		AgentID: "agent-b", ParentToolID: "t1", MessageID: "m",
	}))
	require.Equal(t, "t1", a.ResolvedToolID)
	require.Equal(t, "t1", b.ResolvedToolID)

	// Nested tool under a sub-agent is tagged and suppressed.
	nested := c.Enrich(ev("run-1", event.KindToolStart, event.ToolStart{
		CallID: "t2", Name: "grep", OwnerID: "agent-a", MessageID: "m",
	}))
	require.True(t, nested.SubagentTool)
	require.True(t, nested.SuppressFromMainChat)
	require.Equal(t, "agent-a", nested.ResolvedAgentID)

	nestedDone := c.Enrich(ev("run-1", event.KindToolComplete, event.ToolComplete{
		CallID: "t2", MessageID: "m", Status: event.ToolCompleted,
	}))
	require.True(t, nestedDone.SubagentTool)
	require.Equal(t, "agent-a", nestedDone.ResolvedAgentID)

	// The spawning call itself stays top-level.
	topDone := c.Enrich(ev("run-1", event.KindToolComplete, event.ToolComplete{
		CallID: "t1", MessageID: "m", Status: event.ToolCompleted,
	}))
	require.False(t, topDone.SubagentTool)
	require.False(t, topDone.SuppressFromMainChat)
}

func TestFirstSeenAttributionIsAuthoritative(t *testing.T) {
	// A tool observed before its owner was known as a sub-agent keeps its
	// top-level attribution; the late agent.start does not re-tag it.
	c := New(quietLogger())
	c.RegisterRun("run-1", "sess-1")

	first := c.Enrich(ev("run-1", event.KindToolStart, event.ToolStart{
		CallID: "t5", Name: "read", OwnerID: "agent-late", MessageID: "m",
	}))
	require.False(t, first.SubagentTool, "owner not yet tracked as sub-agent")

	c.Enrich(ev("run-1", event.KindAgentStart, event.AgentStart{
		AgentID: "agent-late", MessageID: "m",
	}))

	done := c.Enrich(ev("run-1", event.KindToolComplete, event.ToolComplete{
		CallID: "t5", MessageID: "m", Status: event.ToolCompleted,
	}))
	require.False(t, done.SubagentTool, "first-seen attribution is not retroactively changed")
}

func TestProvisionalAgentIDUpgrade(t *testing.T) {
	c := New(quietLogger())
	c.RegisterRun("run-1", "sess-1")

	c.Enrich(ev("run-1", event.KindAgentStart, event.AgentStart{
		AgentID: "agent-7", ProvisionalID: "prov-agent-1", MessageID: "m",
	}))
	en := c.Enrich(ev("run-1", event.KindAgentUpdate, event.AgentUpdate{
		AgentID: "prov-agent-1", Status: event.AgentRunning,
	}))
	require.Equal(t, "agent-7", en.ResolvedAgentID)
}

func TestRegisterRunClearsCorrelationState(t *testing.T) {
	c := New(quietLogger())
	c.RegisterRun("run-1", "sess-1")
	c.Enrich(ev("run-1", event.KindAgentStart, event.AgentStart{
		AgentID: "agent-a", MessageID: "m",
	}))

	c.RegisterRun("run-2", "sess-1")
	nested := c.Enrich(ev("run-2", event.KindToolStart, event.ToolStart{
		CallID: "t1", Name: "grep", OwnerID: "agent-a", MessageID: "m",
	}))
	require.False(t, nested.SubagentTool, "sub-agent tracking does not leak across runs")
}
