package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pushrpc/prpc/broker"
	"github.com/pushrpc/prpc/channel"
	"github.com/pushrpc/prpc/proto"
)

// excluder is implemented by brokers that can suppress delivery back to
// the publishing connection.
type excluder interface {
	TriggerExcluding(ctx context.Context, channel, event string, data any, socketID string) error
}

// Trigger is the per-call broadcast surface handed to route handlers. It
// is bound to the channel, event and session of the call that produced
// it. No retries at this layer; broker failures come back unmodified.
type Trigger struct {
	api   broker.API
	route *Route
	env   proto.Envelope
	ch    channel.Channel
}

func newTrigger(api broker.API, route *Route, env proto.Envelope) *Trigger {
	return &Trigger{api: api, route: route, env: env, ch: route.triggerChannel(env)}
}

// Channel returns the channel this trigger publishes to.
func (t *Trigger) Channel() channel.Channel {
	return t.ch
}

// From returns the provenance of the call: channel, session and, on
// member-capable channels, the calling member.
func (t *Trigger) From() proto.From {
	ch := t.ch
	return proto.From{Channel: &ch, SocketID: t.env.SocketID, User: t.env.Me}
}

// Trigger broadcasts data to every subscriber of the call's channel
// under the correlated event name, and returns the provenance attached
// to the broadcast.
func (t *Trigger) Trigger(ctx context.Context, data any) (proto.From, error) {
	if err := t.api.Trigger(ctx, t.ch.String(), t.env.ChannelEvent, data); err != nil {
		return proto.From{}, err
	}
	return t.From(), nil
}

// TriggerEvent broadcasts data under an explicit event name,
// fire-and-forget.
func (t *Trigger) TriggerEvent(ctx context.Context, event string, data any) error {
	return t.api.Trigger(ctx, t.ch.String(), event, data)
}

// TriggerOthers broadcasts the correlated event to every subscriber
// except the calling connection. Without a captured session identifier,
// or when the broker cannot exclude, the broadcast reaches everyone.
func (t *Trigger) TriggerOthers(ctx context.Context, data any) error {
	ex, ok := t.api.(excluder)
	if !ok || t.env.SocketID == "" {
		return t.api.Trigger(ctx, t.ch.String(), t.env.ChannelEvent, data)
	}
	return ex.TriggerExcluding(ctx, t.ch.String(), t.env.ChannelEvent, data, t.env.SocketID)
}

// Send pushes the correlated event directly to each listed user in
// order, bypassing the channel. The first broker failure stops the
// sequence.
func (t *Trigger) Send(ctx context.Context, userIDs []string, data any) (proto.From, error) {
	for _, id := range userIDs {
		if err := t.api.SendToUser(ctx, id, t.env.ChannelEvent, data); err != nil {
			return proto.From{}, fmt.Errorf("sending to user %s: %w", id, err)
		}
	}
	return t.From(), nil
}

// Terminate force-disconnects all live connections of one user and
// returns the broker's raw response.
func (t *Trigger) Terminate(ctx context.Context, userID string) (broker.Response, error) {
	return t.api.TerminateUserConnections(ctx, userID)
}

// TerminateResult is one user's termination outcome.
type TerminateResult struct {
	Response broker.Response
	Err      error
}

// TerminateMany force-disconnects a set of users. Each termination is
// attempted independently; the result map is keyed by user id and carries
// the broker's raw response alongside any failure.
func (t *Trigger) TerminateMany(ctx context.Context, userIDs []string) map[string]TerminateResult {
	results := make(map[string]TerminateResult, len(userIDs))
	for _, id := range userIDs {
		resp, err := t.api.TerminateUserConnections(ctx, id)
		results[id] = TerminateResult{Response: resp, Err: err}
	}
	return results
}

// Members queries the broker for the channel's current user roster. Only
// member-capable channels have one.
func (t *Trigger) Members(ctx context.Context) ([]proto.Member, error) {
	if !t.ch.Type.HasMembers() {
		return nil, fmt.Errorf("channel %s carries no membership", t.ch)
	}

	body, err := t.api.Get(ctx, "/channels/"+t.ch.String()+"/users")
	if err != nil {
		return nil, err
	}

	var roster struct {
		Users []proto.Member `json:"users"`
	}
	if err := json.Unmarshal(body, &roster); err != nil {
		return nil, fmt.Errorf("malformed roster response: %w", err)
	}
	return roster.Users, nil
}
