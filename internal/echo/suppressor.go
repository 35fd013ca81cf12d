// Package echo filters assistant text that duplicates a tool result some
// backends re-emit verbatim after the tool completes.
package echo

import (
	"sync"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Suppressor holds a FIFO queue of expected echo strings and an accumulator
// tracking how much of the queue head has been matched so far. Matching is
// prefix-based: content is withheld only while it still agrees with the
// expected text; diverged content is forwarded, never lost.
type Suppressor struct {
	mu       sync.Mutex
	queue    []string
	consumed int // runes of queue[0] already matched
	dmp      *diffmatchpatch.DiffMatchPatch

	suppressed int64
}

// New creates an empty suppressor.
func New() *Suppressor {
	return &Suppressor{dmp: diffmatchpatch.New()}
}

// ExpectEcho registers text the backend may re-emit as assistant output.
// Called right after a tool result prone to echoing. Empty strings are
// ignored.
func (s *Suppressor) ExpectEcho(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, text)
	s.mu.Unlock()
}

// FilterDelta returns the portion of delta that should be forwarded. While
// the queue head is a prefix match against the accumulated text, the matched
// portion is suppressed; once the expected text is fully consumed the head
// is popped and forwarding resumes. On divergence the head is abandoned and
// the diverging remainder is forwarded.
func (s *Suppressor) FilterDelta(delta string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.queue) > 0 && delta != "" {
		expected := []rune(s.queue[0])
		remaining := string(expected[s.consumed:])
		n := s.dmp.DiffCommonPrefix(remaining, delta)
		remLen := len([]rune(remaining))
		deltaLen := len([]rune(delta))

		switch {
		case n == remLen && n == deltaLen:
			// Delta exactly completes the expected text. Swallow it but
			// keep the accumulator where it was: backends sometimes
			// re-deliver the tail chunk with a continuation appended, and
			// that retransmission must still match.
			s.suppressed++
			return ""
		case n == remLen:
			// Head fully consumed; pop and keep matching the overflow
			// against the next expected echo.
			s.popLocked()
			delta = string([]rune(delta)[n:])
		case n == deltaLen:
			// Delta entirely inside the expected text; swallow it.
			s.consumed += n
			s.suppressed++
			return ""
		default:
			// Divergence: abandon the head, forward what did not match.
			s.popLocked()
			return string([]rune(delta)[n:])
		}
	}
	return delta
}

// Suppressed returns how many deltas were fully swallowed since the last
// reset.
func (s *Suppressor) Suppressed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suppressed
}

// Reset clears the queue and accumulator at run boundaries.
func (s *Suppressor) Reset() {
	s.mu.Lock()
	s.queue = nil
	s.consumed = 0
	s.suppressed = 0
	s.mu.Unlock()
}

func (s *Suppressor) popLocked() {
	s.queue = s.queue[1:]
	s.consumed = 0
}
