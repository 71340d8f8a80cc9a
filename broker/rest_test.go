package broker

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testClient(serverURL string) *Client {
	return NewClient(Options{
		AppID:  "123",
		Key:    "appkey",
		Secret: "appsecret",
		Host:   strings.TrimPrefix(serverURL, "http://"),
	})
}

func TestClientTrigger(t *testing.T) {
	var gotPath string
	var gotBody triggerBody

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotBody); err != nil {
			t.Errorf("Invalid trigger body: %v", err)
		}
		if r.URL.Query().Get("auth_key") != "appkey" {
			t.Error("Expected auth_key query param")
		}
		if r.URL.Query().Get("auth_signature") == "" {
			t.Error("Expected auth_signature query param")
		}
		if r.URL.Query().Get("body_md5") == "" {
			t.Error("Expected body_md5 query param")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := testClient(srv.URL)
	err := client.Trigger(context.Background(), "presence-chat-42", "message", map[string]string{"text": "hi"})
	if err != nil {
		t.Fatalf("Trigger returned error: %v", err)
	}

	if gotPath != "/apps/123/events" {
		t.Errorf("Expected path /apps/123/events, got %s", gotPath)
	}
	if gotBody.Name != "message" {
		t.Errorf("Expected event name 'message', got %q", gotBody.Name)
	}
	if len(gotBody.Channels) != 1 || gotBody.Channels[0] != "presence-chat-42" {
		t.Errorf("Expected channel 'presence-chat-42', got %v", gotBody.Channels)
	}
	// Event data rides as a JSON-encoded string.
	var data map[string]string
	if err := json.Unmarshal([]byte(gotBody.Data), &data); err != nil {
		t.Fatalf("Event data is not a JSON string: %v", err)
	}
	if data["text"] != "hi" {
		t.Errorf("Expected data text 'hi', got %q", data["text"])
	}
}

func TestClientTriggerBrokerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := testClient(srv.URL)
	err := client.Trigger(context.Background(), "room", "message", "data")
	if err == nil {
		t.Error("Expected error when broker rejects trigger")
	}
}

func TestClientSendToUser(t *testing.T) {
	var gotBody triggerBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := testClient(srv.URL)
	if err := client.SendToUser(context.Background(), "u1", "notice", "hello"); err != nil {
		t.Fatalf("SendToUser returned error: %v", err)
	}
	if len(gotBody.Channels) != 1 || gotBody.Channels[0] != "#server-to-user-u1" {
		t.Errorf("Expected per-user channel, got %v", gotBody.Channels)
	}
}

func TestClientTerminateUserConnections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/users/u1/terminate_connections") {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := testClient(srv.URL)
	resp, err := client.TerminateUserConnections(context.Background(), "u1")
	if err != nil {
		t.Fatalf("TerminateUserConnections returned error: %v", err)
	}
	if resp.Status != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.Status)
	}
}

func TestAuthorizeChannelPresence(t *testing.T) {
	client := testClient("http://unused")

	grant, err := client.AuthorizeChannel("1234.5678", "presence-chat-42", &ChannelAuth{
		UserID:   "u1",
		UserInfo: map[string]string{"name": "Ann"},
	})
	if err != nil {
		t.Fatalf("AuthorizeChannel returned error: %v", err)
	}

	var parsed struct {
		Auth        string `json:"auth"`
		ChannelData string `json:"channel_data"`
	}
	if err := json.Unmarshal(grant, &parsed); err != nil {
		t.Fatalf("Grant is not valid JSON: %v", err)
	}

	if !strings.HasPrefix(parsed.Auth, "appkey:") {
		t.Errorf("Expected auth to start with app key, got %q", parsed.Auth)
	}

	// Recompute the signature over socket:channel:channel_data.
	mac := hmac.New(sha256.New, []byte("appsecret"))
	mac.Write([]byte("1234.5678:presence-chat-42:" + parsed.ChannelData))
	want := "appkey:" + hex.EncodeToString(mac.Sum(nil))
	if parsed.Auth != want {
		t.Errorf("Signature mismatch: got %q, want %q", parsed.Auth, want)
	}

	var channelData ChannelAuth
	if err := json.Unmarshal([]byte(parsed.ChannelData), &channelData); err != nil {
		t.Fatalf("channel_data is not valid JSON: %v", err)
	}
	if channelData.UserID != "u1" {
		t.Errorf("Expected user_id 'u1', got %q", channelData.UserID)
	}
}

func TestAuthorizeChannelRequiresIdentity(t *testing.T) {
	client := testClient("http://unused")
	if _, err := client.AuthorizeChannel("", "presence-chat", nil); err == nil {
		t.Error("Expected error for empty socket id")
	}
	if _, err := client.AuthorizeChannel("1.2", "", nil); err == nil {
		t.Error("Expected error for empty channel name")
	}
}

func TestWebhookValidation(t *testing.T) {
	client := testClient("http://unused")
	body := []byte(`{"time_ms":1700000000000,"events":[{"name":"channel_occupied","channel":"room"}]}`)

	mac := hmac.New(sha256.New, []byte("appsecret"))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	header := http.Header{}
	header.Set("X-Pusher-Key", "appkey")
	header.Set("X-Pusher-Signature", signature)

	wh := client.Webhook(header, body)
	if !wh.IsValid() {
		t.Fatal("Expected correctly signed webhook to be valid")
	}
	data := wh.Data()
	if len(data.Events) != 1 || data.Events[0].Name != "channel_occupied" {
		t.Errorf("Unexpected webhook payload: %+v", data)
	}

	// Tampered body must be rejected.
	tampered := append([]byte(nil), body...)
	tampered[len(tampered)-2] = 'x'
	if client.Webhook(header, tampered).IsValid() {
		t.Error("Expected tampered webhook to be invalid")
	}

	// Wrong app key must be rejected.
	header.Set("X-Pusher-Key", "otherkey")
	if client.Webhook(header, body).IsValid() {
		t.Error("Expected webhook with wrong key to be invalid")
	}
}
