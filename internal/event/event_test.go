package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validEvent() Event {
	return Event{
		Kind:      KindTextDelta,
		SessionID: "sess-1",
		RunID:     "run-1",
		Timestamp: time.Now(),
		Payload:   TextDelta{MessageID: "msg-1", Text: "hi"},
	}
}

func TestValidateAcceptsWellFormedEvent(t *testing.T) {
	require.NoError(t, validEvent().Validate())
}

func TestValidateRejectsEnvelopeDefects(t *testing.T) {
	cases := map[string]func(*Event){
		"unknown kind":      func(e *Event) { e.Kind = "mystery" },
		"missing session":   func(e *Event) { e.SessionID = "" },
		"missing run":       func(e *Event) { e.RunID = "" },
		"missing timestamp": func(e *Event) { e.Timestamp = time.Time{} },
		"missing payload":   func(e *Event) { e.Payload = nil },
		"kind mismatch":     func(e *Event) { e.Kind = KindToolStart },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			e := validEvent()
			mutate(&e)
			require.Error(t, e.Validate())
		})
	}
}

func TestValidateRejectsPayloadDefects(t *testing.T) {
	cases := []struct {
		name    string
		payload Payload
	}{
		{"text delta without message", TextDelta{}},
		{"tool start without call id", ToolStart{Name: "search", MessageID: "m"}},
		{"tool start without name", ToolStart{CallID: "c", MessageID: "m"}},
		{"tool complete non-terminal", ToolComplete{CallID: "c", MessageID: "m", Status: ToolRunning}},
		{"agent start without id", AgentStart{MessageID: "m"}},
		{"agent complete non-terminal", AgentComplete{AgentID: "a", Status: AgentRunning}},
		{"session error without message", SessionError{}},
		{"usage negative tokens", Usage{InputTokens: -1}},
		{"lifecycle error without message", LifecycleError{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := Event{
				Kind:      tc.payload.PayloadKind(),
				SessionID: "sess-1",
				RunID:     "run-1",
				Timestamp: time.Now(),
				Payload:   tc.payload,
			}
			require.Error(t, e.Validate())
		})
	}
}

func TestKindClassification(t *testing.T) {
	require.True(t, KindLifecycleAbort.Lifecycle())
	require.True(t, KindLifecycleAbort.Terminal())
	require.True(t, KindLifecycleStart.Lifecycle())
	require.False(t, KindLifecycleStart.Terminal())
	require.False(t, KindTextDelta.Lifecycle())
	require.False(t, Kind("nope").Known())
}

func TestTerminalStatusHelpers(t *testing.T) {
	require.True(t, TerminalTool(ToolInterrupted))
	require.False(t, TerminalTool(ToolPending))
	require.True(t, TerminalAgent(AgentError))
	require.False(t, TerminalAgent(AgentRunning))
}
