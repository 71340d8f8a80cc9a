package proto

import "encoding/json"

// WebhookPayload is the event batch delivered by the broker's webhook
// callback.
type WebhookPayload struct {
	TimeMs int64          `json:"time_ms"`
	Events []WebhookEvent `json:"events"`
}

// WebhookEvent is one delivery-confirmation event. Raw retains the full
// original event object so extra broker fields survive dispatch.
type WebhookEvent struct {
	Name    string          `json:"name"`
	Channel string          `json:"channel"`
	Raw     json.RawMessage `json:"-"`
}

func (e *WebhookEvent) UnmarshalJSON(b []byte) error {
	type alias WebhookEvent
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	a.Raw = append(json.RawMessage(nil), b...)
	*e = WebhookEvent(a)
	return nil
}
