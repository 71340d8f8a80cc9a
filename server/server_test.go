package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/pushrpc/prpc/broker"
	"github.com/pushrpc/prpc/proto"
)

const (
	testKey    = "testkey"
	testSecret = "testsecret"
)

type triggerCall struct {
	Channel  string
	Event    string
	Data     any
	SocketID string
}

// mockBroker records broker interactions. Webhook validation delegates to
// a real REST client so signature checks stay honest.
type mockBroker struct {
	mu         sync.Mutex
	triggers   []triggerCall
	sends      []triggerCall
	terminated []string

	getResp       []byte
	getErr        error
	terminateFail string

	signer *broker.Client
}

func newMockBroker() *mockBroker {
	return &mockBroker{
		signer: broker.NewClient(broker.Options{AppID: "1", Key: testKey, Secret: testSecret}),
	}
}

func (m *mockBroker) Trigger(ctx context.Context, channel, event string, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers = append(m.triggers, triggerCall{Channel: channel, Event: event, Data: data})
	return nil
}

func (m *mockBroker) TriggerExcluding(ctx context.Context, channel, event string, data any, socketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers = append(m.triggers, triggerCall{Channel: channel, Event: event, Data: data, SocketID: socketID})
	return nil
}

func (m *mockBroker) SendToUser(ctx context.Context, userID, event string, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, triggerCall{Channel: userID, Event: event, Data: data})
	return nil
}

func (m *mockBroker) TerminateUserConnections(ctx context.Context, userID string) (broker.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.terminateFail != "" && userID == m.terminateFail {
		return broker.Response{}, fmt.Errorf("broker rejected termination of %s", userID)
	}
	m.terminated = append(m.terminated, userID)
	return broker.Response{Status: 200}, nil
}

func (m *mockBroker) AuthorizeChannel(socketID, channel string, auth *broker.ChannelAuth) (json.RawMessage, error) {
	return m.signer.AuthorizeChannel(socketID, channel, auth)
}

func (m *mockBroker) Get(ctx context.Context, path string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.getResp, nil
}

func (m *mockBroker) Webhook(header http.Header, rawBody []byte) *broker.Webhook {
	return m.signer.Webhook(header, rawBody)
}

func (m *mockBroker) triggered() []triggerCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]triggerCall, len(m.triggers))
	copy(out, m.triggers)
	return out
}

var _ broker.API = (*mockBroker)(nil)

// signWebhook sets the broker callback headers for a body signed with the
// test secret.
func signWebhook(req *http.Request, body []byte) {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	req.Header.Set("X-Pusher-Key", testKey)
	req.Header.Set("X-Pusher-Signature", hex.EncodeToString(mac.Sum(nil)))
	req.Header.Set("Content-Type", "application/json")
}

// rpcBody builds the batched single-call request body.
func rpcBody(env proto.Envelope, payload map[string]any) []byte {
	b, err := proto.BuildCallBody(env, payload)
	if err != nil {
		panic(err)
	}
	return b
}
