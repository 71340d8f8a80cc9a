// Package client implements the browser-equivalent side of the bridge: a
// realtime connection to the broker, per-channel subscriptions with
// presence tracking, and the RPC bridge that correlates outbound calls
// with channel metadata.
package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pushrpc/prpc/channel"
	"github.com/pushrpc/prpc/transport"
)

// DefaultEndpoint is the base path the backend mounts its auth and RPC
// handlers under.
const DefaultEndpoint = "/api/prpc"

// RouteConfig declares one channel route the client may connect to.
// Presence marks routes whose backend declares a user-info schema; their
// subscriptions become presence channels.
type RouteConfig struct {
	Name     string
	Presence bool
}

// Options configure a Client.
type Options struct {
	// Host is the realtime endpoint, e.g. "ws.example.com" or a full
	// ws:// URL.
	Host string

	// BaseURL is the backend's HTTP base, e.g. "http://localhost:8080".
	// Auth and RPC paths are resolved against it unless overridden.
	BaseURL string

	// AuthURL and RPCURL override the derived endpoint URLs.
	AuthURL string
	RPCURL  string

	Routes []RouteConfig

	HTTPClient *http.Client
	Dialer     transport.Dialer
}

// Client is the process-wide connection context. Create it once at
// startup, share it by reference, and tear it down with Close.
type Client struct {
	key  string
	opts Options

	httpc  *http.Client
	dialer transport.Dialer

	routes      map[string]*Route
	interceptor *transport.Interceptor

	mu         sync.Mutex
	conn       *connection
	connecting bool
	sessionID  string
	authParams map[string]string
}

// New builds a client and its route table. Route names must be unique and
// must not collide with a reserved channel type token; such a collision
// would make the encoded channel name ambiguous to decode.
func New(appKey string, opts Options) (*Client, error) {
	if appKey == "" {
		return nil, fmt.Errorf("app key is required")
	}

	routes := make(map[string]*Route, len(opts.Routes))
	c := &Client{
		key:         appKey,
		opts:        opts,
		routes:      routes,
		interceptor: &transport.Interceptor{},
		authParams:  make(map[string]string),
	}
	for _, rc := range opts.Routes {
		if rc.Name == "" {
			return nil, fmt.Errorf("route name must not be empty")
		}
		if channel.Type(rc.Name).IsValid() {
			return nil, fmt.Errorf("route name %q collides with a reserved channel type", rc.Name)
		}
		if strings.Contains(rc.Name, channel.Separator) {
			return nil, fmt.Errorf("route name %q must not contain %q", rc.Name, channel.Separator)
		}
		if _, exists := routes[rc.Name]; exists {
			return nil, fmt.Errorf("duplicate route name %q", rc.Name)
		}
		routes[rc.Name] = &Route{client: c, name: rc.Name, presence: rc.Presence}
	}

	c.httpc = opts.HTTPClient
	if c.httpc == nil {
		c.httpc = &http.Client{Timeout: 15 * time.Second}
	}
	c.dialer = opts.Dialer
	if c.dialer == nil {
		c.dialer = transport.WSDialer{}
	}
	return c, nil
}

// Route returns the configured route by name.
func (c *Client) Route(name string) (*Route, error) {
	r, ok := c.routes[name]
	if !ok {
		return nil, fmt.Errorf("route %q is not configured", name)
	}
	return r, nil
}

// Connect dials the realtime endpoint and blocks until the broker reports
// the connection established or ctx is done. The session identifier is
// re-captured on every call, since it is scoped to one underlying
// connection. At most one dial is in flight at a time; a concurrent
// Connect fails instead of racing a second connection into existence.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	if c.connecting {
		c.mu.Unlock()
		return fmt.Errorf("connection attempt already in progress")
	}
	c.connecting = true
	c.sessionID = ""
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
	}()

	conn, err := c.dialer.Dial(c.realtimeURL())
	if err != nil {
		return err
	}

	cn := newConnection(c, conn)
	c.mu.Lock()
	c.conn = cn
	c.mu.Unlock()

	c.interceptor.CaptureSessionID(func(id string) {
		c.mu.Lock()
		c.sessionID = id
		c.mu.Unlock()
	})

	go cn.readLoop()

	select {
	case <-cn.established:
		return nil
	case <-ctx.Done():
		c.dropConnection(cn)
		cn.close()
		return fmt.Errorf("timeout waiting for connection established: %w", ctx.Err())
	}
}

// SetAuthParams replaces the auth-parameter side channel sent with every
// channel authorization request. It can be mutated independently of
// connection creation.
func (c *Client) SetAuthParams(params map[string]string) {
	copied := make(map[string]string, len(params))
	for k, v := range params {
		copied[k] = v
	}
	c.mu.Lock()
	c.authParams = copied
	c.mu.Unlock()
}

// SessionID returns the last captured session identifier, or "" when none
// has been captured yet.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Close unsubscribes all live subscriptions and closes the realtime
// connection.
func (c *Client) Close() error {
	c.mu.Lock()
	cn := c.conn
	c.conn = nil
	c.sessionID = ""
	c.mu.Unlock()

	c.interceptor.Mute()
	if cn == nil {
		return nil
	}
	for _, sub := range cn.subscriptions() {
		sub.Unsubscribe()
	}
	return cn.close()
}

func (c *Client) connection() *connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Client) dropConnection(cn *connection) {
	c.mu.Lock()
	if c.conn == cn {
		c.conn = nil
		c.sessionID = ""
	}
	c.mu.Unlock()
}

func (c *Client) currentAuthParams() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := make(map[string]string, len(c.authParams))
	for k, v := range c.authParams {
		copied[k] = v
	}
	return copied
}

func (c *Client) realtimeURL() string {
	host := c.opts.Host
	if !strings.Contains(host, "://") {
		host = "ws://" + host
	}
	return strings.TrimSuffix(host, "/") + "/app/" + c.key + "?protocol=7&client=prpc-go"
}

func (c *Client) authURL() string {
	if c.opts.AuthURL != "" {
		return c.opts.AuthURL
	}
	return strings.TrimSuffix(c.opts.BaseURL, "/") + DefaultEndpoint + "/auth"
}

func (c *Client) rpcURL(route, event string) string {
	base := c.opts.RPCURL
	if base == "" {
		base = strings.TrimSuffix(c.opts.BaseURL, "/") + DefaultEndpoint + "/rpc"
	}
	return strings.TrimSuffix(base, "/") + "/" + route + "." + event + "?batch=1"
}

// Route is one entry of the client's route table, bound at configuration
// time.
type Route struct {
	client   *Client
	name     string
	presence bool
}

// Name returns the route's channel name segment.
func (r *Route) Name() string {
	return r.name
}

// Connect creates a subscription for this route's channel with the given
// instance id. With SubscribeOnMount set the broker subscription is
// requested immediately.
func (r *Route) Connect(id string, opts ConnectOptions) (*Subscription, error) {
	typ := channel.Type("")
	if r.presence {
		typ = channel.Presence
	}

	sub := &Subscription{
		client:       r.client,
		route:        r,
		ch:           channel.Channel{Type: typ, Name: r.name, ID: id},
		handlers:     make(map[string][]*Binding),
		onSubscribed: opts.OnSubscribed,
	}

	if opts.SubscribeOnMount {
		if err := sub.Subscribe(); err != nil {
			return sub, err
		}
	}
	return sub, nil
}
