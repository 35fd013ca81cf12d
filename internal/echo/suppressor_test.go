package echo

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEchoSuppressedUntilDivergence(t *testing.T) {
	s := New()
	s.ExpectEcho("Hello world")

	require.Empty(t, s.FilterDelta("Hel"))
	require.Empty(t, s.FilterDelta("lo wor"))
	require.Empty(t, s.FilterDelta("ld"))
	require.Equal(t, "! Extra.", s.FilterDelta("ld! Extra."),
		"retransmitted tail is suppressed, continuation forwarded")
}

func TestNoExpectationForwardsEverything(t *testing.T) {
	s := New()
	require.Equal(t, "plain text", s.FilterDelta("plain text"))
}

func TestImmediateDivergenceForwardsRemainder(t *testing.T) {
	s := New()
	s.ExpectEcho("Hello world")
	require.Equal(t, "Goodbye", s.FilterDelta("Goodbye"))
	// Head was abandoned; later text flows untouched.
	require.Equal(t, "more", s.FilterDelta("more"))
}

func TestMidwayDivergence(t *testing.T) {
	s := New()
	s.ExpectEcho("Hello world")
	require.Empty(t, s.FilterDelta("Hello"))
	require.Equal(t, "X", s.FilterDelta(" wX"), "matched prefix suppressed, divergence forwarded")
	require.Equal(t, "orld", s.FilterDelta("orld"), "diverged stream is not re-matched")
}

func TestSingleDeltaOverrunsExpected(t *testing.T) {
	s := New()
	s.ExpectEcho("result")
	require.Equal(t, " and then some", s.FilterDelta("result and then some"))
}

func TestBackToBackEchoes(t *testing.T) {
	s := New()
	s.ExpectEcho("first")
	s.ExpectEcho("second")
	require.Equal(t, "!", s.FilterDelta("firstsecond!"),
		"overflow past one echo matches the next queued echo")
}

func TestExactTailRedeliveredTwice(t *testing.T) {
	s := New()
	s.ExpectEcho("Hello world")
	require.Empty(t, s.FilterDelta("Hello wor"))
	require.Empty(t, s.FilterDelta("ld"))
	require.Empty(t, s.FilterDelta("ld"))
	require.Equal(t, " done", s.FilterDelta("ld done"))
}

func TestDivergenceAfterCompleteMatch(t *testing.T) {
	s := New()
	s.ExpectEcho("Hello world")
	require.Empty(t, s.FilterDelta("Hello world"))
	require.Equal(t, "Next message", s.FilterDelta("Next message"),
		"unrelated text after a complete match flows in full")
}

func TestResetClearsQueueAndAccumulator(t *testing.T) {
	s := New()
	s.ExpectEcho("Hello world")
	require.Empty(t, s.FilterDelta("Hello"))
	require.Equal(t, int64(1), s.Suppressed())

	s.Reset()
	require.Equal(t, "Hello", s.FilterDelta("Hello"))
	require.Equal(t, int64(0), s.Suppressed())
}

func TestEmptyExpectationIgnored(t *testing.T) {
	s := New()
	s.ExpectEcho("")
	require.Equal(t, "text", s.FilterDelta("text"))
}

func TestUnicodeEcho(t *testing.T) {
	s := New()
	s.ExpectEcho("héllo wörld")
	require.Empty(t, s.FilterDelta("héllo"))
	require.Equal(t, "!", s.FilterDelta(" wörld!"))
}
