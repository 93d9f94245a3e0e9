package overlay

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketContentLoader fetches a rectangle's image over a ws/wss
// connection: some CloudTV deployments push picture content this way
// instead of a plain HTTP GET. One request, one binary frame response,
// then the socket is closed — there is no persistent session here.
type WebSocketContentLoader struct {
	DialTimeout time.Duration
}

// NewWebSocketContentLoader returns a loader with a sane dial timeout.
func NewWebSocketContentLoader() WebSocketContentLoader {
	return WebSocketContentLoader{DialTimeout: 10 * time.Second}
}

// Load dials rectURL, reads exactly one binary message, and closes the
// connection.
func (l WebSocketContentLoader) Load(ctx context.Context, rectURL string) ([]byte, error) {
	timeout := l.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, rectURL, nil)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}
