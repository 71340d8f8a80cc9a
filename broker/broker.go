// Package broker defines the narrow capability interface the rest of the
// module uses to talk to a hosted pub/sub broker, plus an HTTP client for
// Pusher-compatible broker APIs. Delivery guarantees, clustering and retry
// policy all belong to the broker service or the caller, not this package.
package broker

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pushrpc/prpc/proto"
)

// API is the server-side broker capability surface. Implementations return
// broker-call failures to the caller unmodified; no retries are applied at
// this layer.
type API interface {
	// Trigger publishes a named event onto a named channel.
	Trigger(ctx context.Context, channel, event string, data any) error

	// SendToUser pushes an event directly to one user, bypassing channel
	// broadcast.
	SendToUser(ctx context.Context, userID, event string, data any) error

	// TerminateUserConnections force-disconnects all of a user's live
	// connections and returns the broker's raw response.
	TerminateUserConnections(ctx context.Context, userID string) (Response, error)

	// AuthorizeChannel signs a channel-authorization grant for one
	// connection. auth is nil for channels without membership.
	AuthorizeChannel(socketID, channel string, auth *ChannelAuth) (json.RawMessage, error)

	// Get performs a read against the broker's query API, e.g.
	// "/channels/presence-chat-42/users".
	Get(ctx context.Context, path string) ([]byte, error)

	// Webhook validates a delivery-confirmation callback against its
	// signed headers and parses the event batch.
	Webhook(header http.Header, rawBody []byte) *Webhook
}

// Response is a raw broker HTTP outcome.
type Response struct {
	Status int
	Body   []byte
}

// ChannelAuth is the membership grant signed into a channel authorization
// for member-capable channels.
type ChannelAuth struct {
	UserID   string `json:"user_id"`
	UserInfo any    `json:"user_info,omitempty"`
}

// Webhook is a validated (or rejected) delivery-confirmation callback.
type Webhook struct {
	valid   bool
	payload proto.WebhookPayload
	err     error
}

// IsValid reports whether the callback's signature matched the raw body.
func (w *Webhook) IsValid() bool {
	return w.valid
}

// Data returns the parsed event batch. Only meaningful when IsValid.
func (w *Webhook) Data() proto.WebhookPayload {
	return w.payload
}

// Err returns the parse error for a callback whose body was unreadable.
func (w *Webhook) Err() error {
	return w.err
}
