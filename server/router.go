// Package server implements the backend side of the bridge: the route
// registry, the RPC execution endpoint, channel authorization, the
// trigger/targeting service and webhook delivery-event dispatch.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/pushrpc/prpc/broker"
	"github.com/pushrpc/prpc/channel"
	"github.com/pushrpc/prpc/proto"
)

// ContextFunc builds the application context handed to route handlers,
// auth handlers and webhook handlers for one request.
type ContextFunc func(r *http.Request) (any, error)

// AuthRequest is the channel-authorization request handed to a route's
// auth handler. Params carries the caller's auth parameters after
// user-JSON coercion.
type AuthRequest struct {
	SocketID string
	Channel  channel.Channel
	Params   map[string]any
}

// AuthFunc authorizes one connection onto a member-capable channel and
// returns the membership grant to sign. Returning a ChannelAuth with an
// empty UserID lets the server assign a generated one.
type AuthFunc func(ctx context.Context, appCtx any, req AuthRequest) (*broker.ChannelAuth, error)

// Call is one decoded RPC invocation.
type Call struct {
	Env     proto.Envelope
	Payload json.RawMessage
	AppCtx  any
	Trigger *Trigger
}

// HandlerFunc executes one route event. The returned value becomes the
// RPC result; returning a *proto.ResponseError controls the structured
// error branch.
type HandlerFunc func(ctx context.Context, call *Call) (any, error)

// Middleware wraps a HandlerFunc.
type Middleware func(next HandlerFunc) HandlerFunc

// Router is the registry of channel routes.
type Router struct {
	api   broker.API
	ctxFn ContextFunc

	mu     sync.RWMutex
	routes map[string]*Route
}

// NewRouter creates a route registry bound to a broker. ctxFn may be nil
// when handlers need no application context.
func NewRouter(api broker.API, ctxFn ContextFunc) *Router {
	if ctxFn == nil {
		ctxFn = func(*http.Request) (any, error) { return nil, nil }
	}
	return &Router{api: api, ctxFn: ctxFn, routes: make(map[string]*Route)}
}

// PublicRoute registers a route whose channels carry no membership.
func (rt *Router) PublicRoute(name string) (*Route, error) {
	return rt.addRoute(name, channel.Public, nil)
}

// PresenceRoute registers a membership-carrying route. The auth handler
// runs on every channel authorization request.
func (rt *Router) PresenceRoute(name string, auth AuthFunc) (*Route, error) {
	if auth == nil {
		return nil, fmt.Errorf("presence route %q requires an auth handler", name)
	}
	return rt.addRoute(name, channel.Presence, auth)
}

func (rt *Router) addRoute(name string, typ channel.Type, auth AuthFunc) (*Route, error) {
	if name == "" {
		return nil, fmt.Errorf("route name must not be empty")
	}
	// A name equal to a reserved type token would make the encoded
	// channel name ambiguous to decode.
	if channel.Type(name).IsValid() {
		return nil, fmt.Errorf("route name %q collides with a reserved channel type", name)
	}
	if strings.Contains(name, channel.Separator) {
		return nil, fmt.Errorf("route name %q must not contain %q", name, channel.Separator)
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, exists := rt.routes[name]; exists {
		return nil, fmt.Errorf("route %q is already registered", name)
	}
	route := &Route{name: name, typ: typ, auth: auth, handlers: make(map[string]HandlerFunc)}
	rt.routes[name] = route
	return route, nil
}

func (rt *Router) route(name string) *Route {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.routes[name]
}

// RouteInfo describes one registered route.
type RouteInfo struct {
	Name   string       `json:"name"`
	Type   channel.Type `json:"type"`
	Events []string     `json:"events"`
}

// Routes lists the registered routes in name order.
func (rt *Router) Routes() []RouteInfo {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	infos := make([]RouteInfo, 0, len(rt.routes))
	for _, route := range rt.routes {
		events := make([]string, 0, len(route.handlers))
		for event := range route.handlers {
			events = append(events, event)
		}
		sort.Strings(events)
		infos = append(infos, RouteInfo{Name: route.name, Type: route.typ, Events: events})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// API exposes the router's broker binding.
func (rt *Router) API() broker.API {
	return rt.api
}

// Route is one registered channel route.
type Route struct {
	name       string
	typ        channel.Type
	auth       AuthFunc
	middleware []Middleware
	handlers   map[string]HandlerFunc
}

// Name returns the route's channel name segment.
func (r *Route) Name() string {
	return r.name
}

// Type returns the route's channel type.
func (r *Route) Type() channel.Type {
	return r.typ
}

// Use appends a middleware. Middleware run in registration order around
// every event handler of this route.
func (r *Route) Use(mw Middleware) *Route {
	r.middleware = append(r.middleware, mw)
	return r
}

// Handle registers the handler for one event name.
func (r *Route) Handle(event string, h HandlerFunc) *Route {
	r.handlers[event] = h
	return r
}

func (r *Route) handler(event string) HandlerFunc {
	h, ok := r.handlers[event]
	if !ok {
		return nil
	}
	for i := len(r.middleware) - 1; i >= 0; i-- {
		h = r.middleware[i](h)
	}
	return h
}

// triggerChannel reconstructs the channel the caller is subscribed to.
// Public channels encode without a type segment on the client side, so
// the public token is dropped here to keep both sides addressing the
// same broker channel.
func (r *Route) triggerChannel(env proto.Envelope) channel.Channel {
	typ := channel.Type(env.ChannelType)
	if typ == channel.Public || !typ.IsValid() {
		typ = ""
	}
	return channel.Channel{Type: typ, Name: r.name, ID: env.ChannelID}
}
