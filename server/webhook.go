package server

import (
	"context"

	"github.com/pushrpc/prpc/channel"
	"github.com/pushrpc/prpc/proto"
)

// DeliveryEvent is one broker delivery-confirmation event routed to a
// dispatcher handler. Raw retains the full original event object.
type DeliveryEvent struct {
	Name    string
	Channel channel.Channel
	Raw     []byte
}

// DeliveryFunc handles one delivery-confirmation event.
type DeliveryFunc func(ctx context.Context, appCtx any, ev DeliveryEvent) error

// Dispatcher partitions validated webhook events onto category handlers.
// Occupied/vacated events go to Existence, member add/remove to Presence
// and cache misses to Cache; anything else is looked up by name in
// Events, falling back to the Generic catch-all. An event whose category
// has no handler is dropped, there is no fallthrough between the named
// categories.
type Dispatcher struct {
	Existence DeliveryFunc
	Presence  DeliveryFunc
	Cache     DeliveryFunc
	Events    map[string]DeliveryFunc
	Generic   DeliveryFunc
}

func (d *Dispatcher) empty() bool {
	return d == nil ||
		(d.Existence == nil && d.Presence == nil && d.Cache == nil &&
			len(d.Events) == 0 && d.Generic == nil)
}

func (d *Dispatcher) handlerFor(name string) DeliveryFunc {
	switch name {
	case proto.WebhookChannelOccupied, proto.WebhookChannelVacated:
		return d.Existence
	case proto.WebhookMemberAdded, proto.WebhookMemberRemoved:
		return d.Presence
	case proto.WebhookCacheMiss:
		return d.Cache
	}
	if h, ok := d.Events[name]; ok {
		return h
	}
	return d.Generic
}

// Dispatch runs the batch's events through their handlers in order and
// stops at the first handler error.
func (d *Dispatcher) Dispatch(ctx context.Context, appCtx any, payload proto.WebhookPayload) error {
	for _, ev := range payload.Events {
		h := d.handlerFor(ev.Name)
		if h == nil {
			continue
		}
		delivery := DeliveryEvent{
			Name:    ev.Name,
			Channel: channel.Parse(ev.Channel),
			Raw:     ev.Raw,
		}
		if err := h(ctx, appCtx, delivery); err != nil {
			return err
		}
	}
	return nil
}
