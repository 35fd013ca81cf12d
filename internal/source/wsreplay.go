package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsMaxReconnects    = 5
	wsReconnectDelay   = 500 * time.Millisecond
)

// WSReplay is a ReplayStream over a websocket. The server sends one JSON
// frame per message; on reconnect the stream resumes with ?after=<seq> so
// the server replays only what was missed. Duplicate frames the server sends
// anyway are handled by the adapter's sequence dedupe.
type WSReplay struct {
	endpoint string
	logger   *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	lastSeq uint64
	closed  bool
}

// DialReplay creates a replay stream for endpoint. The connection is opened
// lazily on the first Recv.
func DialReplay(endpoint string, logger *slog.Logger) *WSReplay {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSReplay{endpoint: endpoint, logger: logger}
}

// Recv returns the next frame, transparently reconnecting on transient
// failures. A normal server close maps to io.EOF.
func (w *WSReplay) Recv(ctx context.Context) (*Frame, error) {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conn, err := w.ensureConn(ctx)
		if err != nil {
			return nil, err
		}

		var frame Frame
		err = conn.ReadJSON(&frame)
		if err == nil {
			w.mu.Lock()
			w.lastSeq = frame.Seq
			w.mu.Unlock()
			return &frame, nil
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		w.dropConn()
		if w.isClosed() || ctx.Err() != nil {
			return nil, context.Canceled
		}
		if attempt >= wsMaxReconnects {
			return nil, fmt.Errorf("replay stream: %w", err)
		}
		w.logger.Warn("replay stream read failed, reconnecting",
			"attempt", attempt+1, "error", err)
		select {
		case <-time.After(wsReconnectDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close tears down the connection. A blocked Recv fails and returns.
func (w *WSReplay) Close() error {
	w.mu.Lock()
	w.closed = true
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (w *WSReplay) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, context.Canceled
	}
	if w.conn != nil {
		return w.conn, nil
	}

	u, err := url.Parse(w.endpoint)
	if err != nil {
		return nil, fmt.Errorf("replay endpoint: %w", err)
	}
	if w.lastSeq > 0 {
		q := u.Query()
		q.Set("after", strconv.FormatUint(w.lastSeq, 10))
		u.RawQuery = q.Encode()
	}

	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial replay endpoint: %w", err)
	}
	w.conn = conn
	return conn, nil
}

func (w *WSReplay) dropConn() {
	w.mu.Lock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.mu.Unlock()
}

func (w *WSReplay) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}
