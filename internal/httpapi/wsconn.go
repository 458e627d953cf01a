package httpapi

import (
	"io"

	"github.com/gorilla/websocket"
)

// wsConn adapts a *websocket.Conn to io.ReadWriteCloser so a sandbox
// session's stdout/stderr/stdin bytes (read off the §4.A framed stdio
// connection by the caller) can be relayed to and from a browser
// operator terminal over plain WebSocket messages. No example repo
// upgrades a connection to WebSocket directly (gorilla/websocket only
// ever reaches the pack transitively, through the Mattermost server
// dependency); this adapter is the one place devflow calls the
// library's Upgrader/Conn API itself.
type wsConn struct {
	conn *websocket.Conn
	r    io.Reader
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

// Read satisfies io.Reader by pulling bytes out of the current inbound
// WebSocket message, fetching a new one via NextReader when exhausted,
// so a caller reading in arbitrary chunk sizes sees one continuous
// stream regardless of how the browser chose to frame its messages.
func (w *wsConn) Read(p []byte) (int, error) {
	for {
		if w.r != nil {
			n, err := w.r.Read(p)
			if n > 0 {
				return n, nil
			}
			if err != nil && err != io.EOF {
				return 0, err
			}
			w.r = nil
		}
		_, r, err := w.conn.NextReader()
		if err != nil {
			return 0, err
		}
		w.r = r
	}
}

// Write sends p as one binary WebSocket message. handleSessionWS calls
// it once per frame received from the sandbox with that frame's payload
// only (no stream ID or length prefix), so each message carries one
// frame's payload.
func (w *wsConn) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}
