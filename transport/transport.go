// Package transport provides the low-level realtime connection to the
// broker and the frame interceptor used to observe inbound control frames
// without disturbing their normal delivery.
package transport

import (
	"fmt"
	"log/slog"
	"net/url"

	"github.com/gorilla/websocket"
)

// Conn is a raw realtime connection delivering one frame at a time.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer establishes realtime connections.
type Dialer interface {
	Dial(addr string) (Conn, error)
}

// WSDialer dials websocket connections. The zero value is ready to use.
type WSDialer struct{}

func (WSDialer) Dial(addr string) (Conn, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid WebSocket URL: %w", err)
	}

	// If no scheme is provided, assume ws://
	if u.Scheme == "" {
		u.Scheme = "ws"
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to WebSocket server: %w", err)
	}
	return &WSConn{conn: conn}, nil
}

// WSConn is a websocket-backed Conn.
type WSConn struct {
	conn *websocket.Conn
}

func (c *WSConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
			return nil, fmt.Errorf("WebSocket connection error: %w", err)
		}
		return nil, fmt.Errorf("connection closed: %w", err)
	}
	return data, nil
}

func (c *WSConn) WriteMessage(data []byte) error {
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send WebSocket message: %w", err)
	}
	return nil
}

func (c *WSConn) Close() error {
	err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		// Still close the underlying connection.
		slog.Warn("Failed to send close message", "error", err)
	}
	return c.conn.Close()
}
