package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/pushrpc/prpc/proto"
	"github.com/pushrpc/prpc/transport"
)

// connection owns one live realtime connection: the read loop, the
// established handshake and the routing of inbound frames to their
// subscriptions. All subscription callbacks run on the read loop
// goroutine, so events for one subscription are handled sequentially.
type connection struct {
	client      *Client
	conn        transport.Conn
	established chan struct{}
	estOnce     sync.Once

	mu       sync.Mutex
	socketID string
	subs     map[string]*Subscription
	closed   bool
}

func newConnection(c *Client, conn transport.Conn) *connection {
	return &connection{
		client:      c,
		conn:        conn,
		established: make(chan struct{}),
		subs:        make(map[string]*Subscription),
	}
}

func (cn *connection) readLoop() {
	for {
		raw, err := cn.conn.ReadMessage()
		if err != nil {
			cn.mu.Lock()
			closed := cn.closed
			cn.mu.Unlock()
			if !closed {
				slog.Warn("Realtime connection lost", "error", err)
				cn.client.dropConnection(cn)
			}
			return
		}

		// Hand the frame to the observation point first; delivery
		// continues with the same raw bytes regardless.
		raw = cn.client.interceptor.Observe(raw)

		var frame proto.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			slog.Warn("Invalid JSON frame received", "error", err, "data", string(raw))
			continue
		}
		cn.handleFrame(frame)
	}
}

func (cn *connection) handleFrame(frame proto.Frame) {
	data := frameData(frame.Data)

	switch frame.Event {
	case proto.EventConnectionEstablished:
		var cd proto.ConnectionData
		if err := json.Unmarshal(data, &cd); err != nil {
			slog.Warn("Invalid connection_established payload", "error", err)
			return
		}
		cn.mu.Lock()
		cn.socketID = cd.SocketID
		cn.mu.Unlock()
		slog.Debug("Realtime connection established", "socket_id", cd.SocketID)
		cn.estOnce.Do(func() { close(cn.established) })
		return

	case proto.EventError:
		slog.Warn("Broker reported an error", "data", string(data))
		return
	}

	if frame.Channel == "" {
		slog.Debug("Unhandled frame", "event", frame.Event)
		return
	}

	cn.mu.Lock()
	sub := cn.subs[frame.Channel]
	cn.mu.Unlock()
	if sub == nil {
		slog.Debug("Frame for unknown channel", "channel", frame.Channel, "event", frame.Event)
		return
	}
	sub.handleEvent(frame.Event, data)
}

// subscribe performs the authorization round-trip for member-capable
// channels and requests the broker subscription.
func (cn *connection) subscribe(sub *Subscription) error {
	name := sub.ch.String()

	req := proto.SubscribeData{Channel: name}
	if sub.ch.Type.HasMembers() {
		grant, err := cn.authorize(name)
		if err != nil {
			return fmt.Errorf("channel authorization failed: %w", err)
		}
		req.Auth = grant.Auth
		req.ChannelData = grant.ChannelData
	}

	// Register before asking the broker so the succeeded event cannot
	// race past us.
	cn.mu.Lock()
	cn.subs[name] = sub
	cn.mu.Unlock()

	if err := cn.send(proto.EventSubscribe, req); err != nil {
		cn.mu.Lock()
		delete(cn.subs, name)
		cn.mu.Unlock()
		return err
	}
	slog.Debug("Subscription requested", "channel", name)
	return nil
}

func (cn *connection) unsubscribe(sub *Subscription) error {
	name := sub.ch.String()
	cn.mu.Lock()
	delete(cn.subs, name)
	cn.mu.Unlock()
	slog.Debug("Unsubscribing", "channel", name)
	return cn.send(proto.EventUnsubscribe, proto.UnsubscribeData{Channel: name})
}

type authGrant struct {
	Auth        string `json:"auth"`
	ChannelData string `json:"channel_data,omitempty"`
}

func (cn *connection) authorize(channelName string) (authGrant, error) {
	cn.mu.Lock()
	socketID := cn.socketID
	cn.mu.Unlock()

	body := map[string]any{
		"socket_id":    socketID,
		"channel_name": channelName,
	}
	for k, v := range cn.client.currentAuthParams() {
		body[k] = v
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return authGrant{}, err
	}

	resp, err := cn.client.httpc.Post(cn.client.authURL(), "application/json", bytes.NewReader(payload))
	if err != nil {
		return authGrant{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return authGrant{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return authGrant{}, fmt.Errorf("auth endpoint returned status %d: %s", resp.StatusCode, respBody)
	}

	var grant authGrant
	if err := json.Unmarshal(respBody, &grant); err != nil {
		return authGrant{}, fmt.Errorf("invalid auth response: %w", err)
	}
	return grant, nil
}

func (cn *connection) send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal frame data: %w", err)
	}
	frame, err := json.Marshal(proto.Frame{Event: event, Data: payload})
	if err != nil {
		return err
	}
	return cn.conn.WriteMessage(frame)
}

func (cn *connection) subscriptions() []*Subscription {
	cn.mu.Lock()
	defer cn.mu.Unlock()
	subs := make([]*Subscription, 0, len(cn.subs))
	for _, sub := range cn.subs {
		subs = append(subs, sub)
	}
	return subs
}

func (cn *connection) close() error {
	cn.mu.Lock()
	if cn.closed {
		cn.mu.Unlock()
		return nil
	}
	cn.closed = true
	cn.mu.Unlock()
	return cn.conn.Close()
}

// frameData unwraps payloads the broker double-encodes as JSON strings.
func frameData(data json.RawMessage) json.RawMessage {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err == nil {
			return json.RawMessage(s)
		}
	}
	return data
}
