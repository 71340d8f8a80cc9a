package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/pushrpc/prpc/channel"
	"github.com/pushrpc/prpc/proto"
)

// Send issues an RPC call correlated with this subscription's channel. The
// envelope carries the channel coordinates, the last captured session
// identifier (empty before the connection is established; the call is not
// blocked) and, on presence channels, the local membership view.
//
// The backend's structured response is delivered to callback when one was
// supplied: either the result with server-side provenance or the error
// branch with provenance synthesized from local context. A response not
// shaped as a batched array is dropped with a diagnostic log, not a
// failure. Transport-level errors are returned.
func (s *Subscription) Send(ctx context.Context, event string, payload map[string]any, callback func(*proto.Response)) error {
	channelType := string(channel.Public)
	if s.route.presence {
		channelType = string(channel.Presence)
	}

	env := proto.Envelope{
		ChannelType:  channelType,
		ChannelID:    s.ch.ID,
		ChannelName:  s.route.name,
		ChannelEvent: event,
		SocketID:     s.client.SessionID(),
	}
	if s.route.presence {
		// Me and Members are the broker-reported entries seeded from the
		// subscription snapshot; there is no separate local copy that
		// could go stale, so no fallback chain is needed here.
		env.Me = s.Me()
		env.Members = s.Members()
	}

	body, err := proto.BuildCallBody(env, payload)
	if err != nil {
		return err
	}

	url := s.client.rpcURL(s.route.name, event)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("rpc call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read rpc response: %w", err)
	}

	if callback == nil {
		return nil
	}

	ch := channel.Parse(s.ch.String())
	localFrom := &proto.From{Channel: &ch, User: s.Me()}
	parsed, err := proto.ParseResponse(respBody, localFrom)
	if err != nil {
		slog.Warn("Dropping RPC response with unexpected shape",
			"route", s.route.name, "event", event, "error", err)
		return nil
	}
	callback(parsed)
	return nil
}
