// Package proto defines the wire types exchanged between clients, the
// backend RPC surface and the broker: the RPC call envelope, the batched
// RPC response, realtime frames and webhook delivery events.
package proto

import (
	"encoding/json"
	"fmt"
)

// EnvelopeKey is the reserved payload key that carries the envelope in an
// RPC call body. Caller payload fields may not collide with it.
const EnvelopeKey = "prpc"

// Envelope is the correlation metadata attached to every RPC call so the
// backend can route a broadcast back through the broker and attribute it
// to the calling connection.
//
// SocketID is the session identifier of the calling connection. Calls made
// before the connection is established carry an empty string, they are not
// blocked. Me and Members are present only for member-capable channels.
type Envelope struct {
	ChannelType  string                     `json:"channel_type,omitempty"`
	ChannelID    string                     `json:"channel_id,omitempty"`
	ChannelName  string                     `json:"channel_name,omitempty"`
	ChannelEvent string                     `json:"channel_event"`
	SocketID     string                     `json:"socket_id"`
	Me           *Member                    `json:"me,omitempty"`
	Members      map[string]json.RawMessage `json:"members,omitempty"`
}

// Member is one entry of a channel's membership roster.
type Member struct {
	ID   string          `json:"id"`
	Info json.RawMessage `json:"info,omitempty"`
}

// BuildCallBody assembles the batched single-call RPC request body:
// {"0":{"json":{"prpc": envelope, ...payload}}}. Payload keys merge next to
// the envelope key; using the envelope key itself is an error.
func BuildCallBody(env Envelope, payload map[string]any) ([]byte, error) {
	if _, ok := payload[EnvelopeKey]; ok {
		return nil, fmt.Errorf("payload key %q is reserved for the call envelope", EnvelopeKey)
	}

	call := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		call[k] = v
	}
	call[EnvelopeKey] = env

	return json.Marshal(map[string]map[string]any{"0": {"json": call}})
}

// CallBody is the server-side view of an RPC request body. Payload holds
// the full merged call object including the envelope key.
type CallBody struct {
	Env     Envelope
	Payload json.RawMessage
}

// ParseCallBody unwraps the batched request body built by BuildCallBody.
func ParseCallBody(body []byte) (*CallBody, error) {
	var outer map[string]struct {
		JSON json.RawMessage `json:"json"`
	}
	if err := json.Unmarshal(body, &outer); err != nil {
		return nil, fmt.Errorf("malformed call body: %w", err)
	}
	call, ok := outer["0"]
	if !ok {
		return nil, fmt.Errorf("call body has no batch entry 0")
	}

	var inner struct {
		Env *Envelope `json:"prpc"`
	}
	if err := json.Unmarshal(call.JSON, &inner); err != nil {
		return nil, fmt.Errorf("malformed call payload: %w", err)
	}
	if inner.Env == nil {
		return nil, fmt.Errorf("call payload has no %q envelope", EnvelopeKey)
	}

	return &CallBody{Env: *inner.Env, Payload: call.JSON}, nil
}
