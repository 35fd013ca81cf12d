package source

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// replayTestServer serves frames over a websocket. The first connection is
// cut abruptly after two frames to force a reconnect; later connections
// serve everything past ?after and close normally.
type replayTestServer struct {
	frames []Frame

	mu     sync.Mutex
	conns  int
	afters []string
}

func (s *replayTestServer) handler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.conns++
	conn := s.conns
	s.afters = append(s.afters, r.URL.Query().Get("after"))
	s.mu.Unlock()

	upgrader := websocket.Upgrader{}
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer c.Close()

	after, _ := strconv.ParseUint(r.URL.Query().Get("after"), 10, 64)
	sent := 0
	for _, f := range s.frames {
		if f.Seq <= after {
			continue
		}
		if conn == 1 && sent == 2 {
			// Drop the connection without a close frame.
			return
		}
		if err := c.WriteJSON(f); err != nil {
			return
		}
		sent++
	}
	_ = c.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	// Wait for the peer's close response so queued frames are read first.
	_, _, _ = c.ReadMessage()
}

func (s *replayTestServer) seenAfters() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.afters...)
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestWSReplayResumesAfterDisconnect(t *testing.T) {
	backend := &replayTestServer{frames: []Frame{
		{Seq: 1, Type: FrameText, MessageID: "m1", Text: "a"},
		{Seq: 2, Type: FrameText, MessageID: "m1", Text: "b"},
		{Seq: 3, Type: FrameText, MessageID: "m1", Text: "c"},
		{Seq: 4, Type: FrameTextDone, MessageID: "m1"},
	}}
	server := httptest.NewServer(http.HandlerFunc(backend.handler))
	defer server.Close()

	stream := DialReplay(wsURL(server.URL), quietLogger())
	defer stream.Close()

	ctx := context.Background()
	var seqs []uint64
	for {
		frame, err := stream.Recv(ctx)
		if err != nil {
			require.ErrorIs(t, err, io.EOF, "a normal server close maps to EOF")
			break
		}
		seqs = append(seqs, frame.Seq)
	}
	require.Equal(t, []uint64{1, 2, 3, 4}, seqs,
		"the stream resumes where the cut connection left off")

	afters := backend.seenAfters()
	require.Len(t, afters, 2)
	require.Empty(t, afters[0], "first dial carries no resume point")
	require.Equal(t, "2", afters[1], "reconnect asks for frames past the last seen seq")
}

func TestWSReplayRecvAfterClose(t *testing.T) {
	stream := DialReplay("ws://127.0.0.1:0/stream", quietLogger())
	require.NoError(t, stream.Close())

	_, err := stream.Recv(context.Background())
	require.ErrorIs(t, err, context.Canceled)
}

func TestWSReplayBadEndpoint(t *testing.T) {
	stream := DialReplay("://not-a-url", quietLogger())
	defer stream.Close()

	_, err := stream.Recv(context.Background())
	require.Error(t, err)
}
