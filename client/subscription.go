package client

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pushrpc/prpc/channel"
	"github.com/pushrpc/prpc/proto"
)

// State is a subscription's lifecycle position.
type State int32

const (
	StateUnsubscribed State = iota
	StateSubscribing
	StateSubscribed
	StateSubscribeError
)

func (s State) String() string {
	switch s {
	case StateUnsubscribed:
		return "unsubscribed"
	case StateSubscribing:
		return "subscribing"
	case StateSubscribed:
		return "subscribed"
	case StateSubscribeError:
		return "subscribe_error"
	default:
		return "unknown"
	}
}

// BindingFunc runs once per transition into the subscribed state; this is
// the hook point where a consumer registers its event bindings. The
// returned cleanup, if any, runs before the next invocation or on
// teardown.
type BindingFunc func() (cleanup func())

// Handler consumes one event's payload.
type Handler func(data json.RawMessage)

// ConnectOptions configure Route.Connect.
type ConnectOptions struct {
	SubscribeOnMount bool
	OnSubscribed     BindingFunc
}

// Subscription owns one channel's lifecycle: subscribe, event bindings,
// presence membership and unsubscribe. Its mutable state is only touched
// by its own connection's read loop and by the caller through the mutex.
type Subscription struct {
	client *Client
	route  *Route
	ch     channel.Channel

	mu           sync.Mutex
	state        State
	live         bool
	subscribeErr bool
	handlers     map[string][]*Binding
	me           *proto.Member
	members      map[string]json.RawMessage
	onSubscribed BindingFunc
	cleanup      func()
}

// Binding is one attached event handler.
type Binding struct {
	sub   *Subscription
	event string
	fn    Handler
}

// Channel returns the subscription's decoded channel identifier.
func (s *Subscription) Channel() channel.Channel {
	return s.ch
}

// State returns the current lifecycle state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsSubscribed reports whether the broker has confirmed the subscription.
func (s *Subscription) IsSubscribed() bool {
	return s.State() == StateSubscribed
}

// SubscribeErr reports whether the last subscribe attempt failed. The flag
// resets on the next explicit Subscribe call.
func (s *Subscription) SubscribeErr() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribeErr
}

// Subscribe requests the broker subscription for the encoded channel
// identifier. It is a no-op while a subscribe is already in flight or
// confirmed; after a subscribe error it may be called again to retry.
func (s *Subscription) Subscribe() error {
	s.mu.Lock()
	if s.state == StateSubscribing || s.state == StateSubscribed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateSubscribing
	s.subscribeErr = false
	s.live = true
	s.mu.Unlock()

	cn := s.client.connection()
	if cn == nil {
		s.fail()
		return fmt.Errorf("client is not connected")
	}
	if err := cn.subscribe(s); err != nil {
		s.fail()
		return err
	}
	return nil
}

// Unsubscribe releases the broker subscription. All handlers are unbound
// first so no callback fires after release.
func (s *Subscription) Unsubscribe() error {
	s.mu.Lock()
	if !s.live {
		s.mu.Unlock()
		return nil
	}
	s.live = false
	s.state = StateUnsubscribed
	s.handlers = make(map[string][]*Binding)
	cleanup := s.cleanup
	s.cleanup = nil
	s.mu.Unlock()

	if cleanup != nil {
		cleanup()
	}
	cn := s.client.connection()
	if cn == nil {
		return nil
	}
	return cn.unsubscribe(s)
}

// Bind attaches a handler for a named event. Binding before Subscribe has
// been called is a silent no-op and returns nil: there is no live broker
// subscription yet to attach to. Register post-subscribe bindings in the
// OnSubscribed hook instead.
func (s *Subscription) Bind(event string, fn Handler) *Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.live {
		return nil
	}
	b := &Binding{sub: s, event: event, fn: fn}
	s.handlers[event] = append(s.handlers[event], b)
	return b
}

// Unbind detaches every handler bound to the named event.
func (s *Subscription) Unbind(event string) {
	s.mu.Lock()
	delete(s.handlers, event)
	s.mu.Unlock()
}

// UnbindAll detaches every handler.
func (s *Subscription) UnbindAll() {
	s.mu.Lock()
	s.handlers = make(map[string][]*Binding)
	s.mu.Unlock()
}

// Unbind detaches this handler only.
func (b *Binding) Unbind() {
	if b == nil {
		return
	}
	s := b.sub
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.handlers[b.event]
	for i, other := range list {
		if other == b {
			s.handlers[b.event] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
}

// Me returns the local client's own membership entry, set once per
// subscription lifetime. Nil for non-presence channels or before the
// subscription succeeds.
func (s *Subscription) Me() *proto.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.me
}

// Members returns a copy of the current membership roster.
func (s *Subscription) Members() map[string]json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members == nil {
		return nil
	}
	copied := make(map[string]json.RawMessage, len(s.members))
	for id, info := range s.members {
		copied[id] = info
	}
	return copied
}

func (s *Subscription) fail() {
	s.mu.Lock()
	s.state = StateSubscribeError
	s.subscribeErr = true
	s.mu.Unlock()
}

// handleEvent processes one inbound event for this subscription. Called
// only from the connection read loop, so events arrive sequentially and
// the succeeded event is always seen before any membership delta.
func (s *Subscription) handleEvent(event string, data json.RawMessage) {
	switch event {
	case proto.EventSubscriptionSucceeded:
		s.handleSubscribed(data)
	case proto.EventSubscriptionError:
		slog.Warn("Subscription failed", "channel", s.ch.String(), "data", string(data))
		s.fail()
	case proto.EventMemberAdded:
		s.memberAdded(data)
	case proto.EventMemberRemoved:
		s.memberRemoved(data)
	}
	s.dispatch(event, data)
}

func (s *Subscription) handleSubscribed(data json.RawMessage) {
	s.mu.Lock()
	if s.state != StateSubscribing {
		// Stale confirmation, e.g. after an unsubscribe raced it.
		s.mu.Unlock()
		return
	}
	s.state = StateSubscribed

	if s.ch.Type == channel.Presence {
		var snapshot proto.MembershipSnapshot
		if err := json.Unmarshal(data, &snapshot); err != nil {
			slog.Warn("Invalid membership snapshot", "channel", s.ch.String(), "error", err)
		} else {
			s.members = snapshot.Members
			if s.members == nil {
				s.members = make(map[string]json.RawMessage)
			}
			if s.me == nil {
				s.me = snapshot.Me
			}
		}
	}

	binding := s.onSubscribed
	cleanup := s.cleanup
	s.cleanup = nil
	s.mu.Unlock()

	slog.Debug("Subscription confirmed", "channel", s.ch.String())

	if cleanup != nil {
		cleanup()
	}
	if binding != nil {
		next := binding()
		s.mu.Lock()
		s.cleanup = next
		s.mu.Unlock()
	}
}

func (s *Subscription) memberAdded(data json.RawMessage) {
	var m proto.Member
	if err := json.Unmarshal(data, &m); err != nil || m.ID == "" {
		return
	}
	s.mu.Lock()
	if s.members == nil {
		s.members = make(map[string]json.RawMessage)
	}
	s.members[m.ID] = m.Info
	s.mu.Unlock()
}

func (s *Subscription) memberRemoved(data json.RawMessage) {
	var m proto.Member
	if err := json.Unmarshal(data, &m); err != nil || m.ID == "" {
		return
	}
	s.mu.Lock()
	// Removal of an absent id is a no-op.
	delete(s.members, m.ID)
	s.mu.Unlock()
}

func (s *Subscription) dispatch(event string, data json.RawMessage) {
	s.mu.Lock()
	list := append([]*Binding(nil), s.handlers[event]...)
	s.mu.Unlock()
	for _, b := range list {
		b.fn(data)
	}
}
