package proto

import "encoding/json"

// Realtime control event names pushed by the broker over the live
// connection.
const (
	EventConnectionEstablished = "pusher:connection_established"
	EventSubscriptionSucceeded = "pusher:subscription_succeeded"
	EventSubscriptionError     = "pusher:subscription_error"
	EventMemberAdded           = "pusher:member_added"
	EventMemberRemoved         = "pusher:member_removed"
	EventSubscribe             = "pusher:subscribe"
	EventUnsubscribe           = "pusher:unsubscribe"
	EventError                 = "pusher:error"
)

// Delivery-confirmation event names arriving on the webhook callback.
const (
	WebhookChannelOccupied = "channel_occupied"
	WebhookChannelVacated  = "channel_vacated"
	WebhookMemberAdded     = "member_added"
	WebhookMemberRemoved   = "member_removed"
	WebhookCacheMiss       = "cache_miss"
)

// Frame is one message on the realtime connection. Data may itself be a
// JSON-encoded string on some control events.
type Frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ConnectionData is the payload of a connection_established control frame.
type ConnectionData struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout,omitempty"`
}

// SubscribeData is the payload of an outbound subscribe request frame.
type SubscribeData struct {
	Channel     string `json:"channel"`
	Auth        string `json:"auth,omitempty"`
	ChannelData string `json:"channel_data,omitempty"`
}

// UnsubscribeData is the payload of an outbound unsubscribe frame.
type UnsubscribeData struct {
	Channel string `json:"channel"`
}

// MembershipSnapshot is the roster delivered with subscription_succeeded on
// presence channels.
type MembershipSnapshot struct {
	Me      *Member                    `json:"me,omitempty"`
	Members map[string]json.RawMessage `json:"members,omitempty"`
}
