package broker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Options configure a REST broker client.
type Options struct {
	AppID  string
	Key    string
	Secret string
	Host   string // e.g. "api-eu.pusher.com", defaults to api.pusherapp.com
	Secure bool

	HTTPClient *http.Client
}

// Client talks to a Pusher-compatible broker HTTP API with signed requests.
// It implements API.
type Client struct {
	opts Options
	http *http.Client
}

var _ API = (*Client)(nil)

// NewClient creates a REST broker client.
func NewClient(opts Options) *Client {
	if opts.Host == "" {
		opts.Host = "api.pusherapp.com"
	}
	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{opts: opts, http: httpc}
}

type triggerBody struct {
	Name     string   `json:"name"`
	Channels []string `json:"channels"`
	Data     string   `json:"data"`
	SocketID string   `json:"socket_id,omitempty"`
}

func (c *Client) Trigger(ctx context.Context, channel, event string, data any) error {
	return c.trigger(ctx, channel, event, data, "")
}

// TriggerExcluding publishes like Trigger but asks the broker not to echo
// the event back to the connection identified by socketID.
func (c *Client) TriggerExcluding(ctx context.Context, channel, event string, data any, socketID string) error {
	return c.trigger(ctx, channel, event, data, socketID)
}

func (c *Client) trigger(ctx context.Context, channel, event string, data any, socketID string) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	body := triggerBody{
		Name:     event,
		Channels: []string{channel},
		Data:     string(payload),
		SocketID: socketID,
	}
	resp, err := c.do(ctx, http.MethodPost, "/events", body)
	if err != nil {
		return err
	}
	if resp.Status >= 300 {
		return fmt.Errorf("broker rejected trigger: status %d: %s", resp.Status, resp.Body)
	}
	slog.Debug("Event triggered", "channel", channel, "event", event, "size", len(payload))
	return nil
}

func (c *Client) SendToUser(ctx context.Context, userID, event string, data any) error {
	// User pushes ride on the broker's reserved per-user channel.
	return c.trigger(ctx, "#server-to-user-"+userID, event, data, "")
}

func (c *Client) TerminateUserConnections(ctx context.Context, userID string) (Response, error) {
	return c.do(ctx, http.MethodPost, "/users/"+url.PathEscape(userID)+"/terminate_connections", struct{}{})
}

func (c *Client) AuthorizeChannel(socketID, channel string, auth *ChannelAuth) (json.RawMessage, error) {
	if socketID == "" || channel == "" {
		return nil, fmt.Errorf("socket id and channel name are required for authorization")
	}

	stringToSign := socketID + ":" + channel
	grant := map[string]string{}
	if auth != nil {
		channelData, err := json.Marshal(auth)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal channel auth data: %w", err)
		}
		stringToSign += ":" + string(channelData)
		grant["channel_data"] = string(channelData)
	}

	grant["auth"] = c.opts.Key + ":" + hmacHex(c.opts.Secret, []byte(stringToSign))
	return json.Marshal(grant)
}

func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if resp.Status >= 300 {
		return nil, fmt.Errorf("broker query failed: status %d: %s", resp.Status, resp.Body)
	}
	return resp.Body, nil
}

func (c *Client) Webhook(header http.Header, rawBody []byte) *Webhook {
	key := header.Get("X-Pusher-Key")
	signature := header.Get("X-Pusher-Signature")

	expected := hmacHex(c.opts.Secret, rawBody)
	if key != c.opts.Key || !hmac.Equal([]byte(signature), []byte(expected)) {
		return &Webhook{valid: false}
	}

	wh := &Webhook{valid: true}
	if err := json.Unmarshal(rawBody, &wh.payload); err != nil {
		wh.valid = false
		wh.err = fmt.Errorf("failed to parse webhook body: %w", err)
	}
	return wh
}

func (c *Client) do(ctx context.Context, method, path string, body any) (Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return Response{}, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	fullPath := "/apps/" + c.opts.AppID + path
	query := c.sign(method, fullPath, payload)

	scheme := "http"
	if c.opts.Secure {
		scheme = "https"
	}
	u := scheme + "://" + c.opts.Host + fullPath + "?" + query

	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(payload))
	if err != nil {
		return Response{}, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("broker request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("failed to read broker response: %w", err)
	}
	return Response{Status: resp.StatusCode, Body: respBody}, nil
}

// sign builds the signed query string for one broker API request.
func (c *Client) sign(method, path string, body []byte) string {
	params := map[string]string{
		"auth_key":       c.opts.Key,
		"auth_timestamp": strconv.FormatInt(time.Now().Unix(), 10),
		"auth_version":   "1.0",
	}
	if len(body) > 0 {
		sum := md5.Sum(body)
		params["body_md5"] = hex.EncodeToString(sum[:])
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+url.QueryEscape(params[k]))
	}
	query := strings.Join(pairs, "&")

	stringToSign := method + "\n" + path + "\n" + query
	return query + "&auth_signature=" + hmacHex(c.opts.Secret, []byte(stringToSign))
}

func hmacHex(secret string, data []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
