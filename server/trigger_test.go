package server

import (
	"context"
	"testing"

	"github.com/pushrpc/prpc/proto"
)

func publicTrigger(api *mockBroker) *Trigger {
	rt := NewRouter(api, nil)
	route, _ := rt.PublicRoute("chat")
	return newTrigger(api, route, proto.Envelope{
		ChannelType: "public", ChannelID: "42", ChannelName: "chat",
		ChannelEvent: "send", SocketID: "1.2",
	})
}

func presenceTrigger(api *mockBroker) *Trigger {
	rt := NewRouter(api, nil)
	route, _ := rt.PresenceRoute("room", allowAll)
	return newTrigger(api, route, proto.Envelope{
		ChannelType: "presence", ChannelID: "7", ChannelName: "room",
		ChannelEvent: "shout", SocketID: "1.2",
		Me: &proto.Member{ID: "u1"},
	})
}

func TestTriggerUsesBareNameForPublicChannels(t *testing.T) {
	api := newMockBroker()
	tr := publicTrigger(api)

	// Clients subscribe to "chat-42", not "public-chat-42", so the
	// broadcast must land on the same name.
	from, err := tr.Trigger(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Trigger returned error: %v", err)
	}
	calls := api.triggered()
	if len(calls) != 1 || calls[0].Channel != "chat-42" {
		t.Fatalf("Expected trigger on chat-42, got %+v", calls)
	}
	if calls[0].Event != "send" {
		t.Errorf("Expected correlated event 'send', got %q", calls[0].Event)
	}
	if from.SocketID != "1.2" || from.Channel == nil || from.Channel.Name != "chat" {
		t.Errorf("Unexpected provenance: %+v", from)
	}
}

func TestTriggerKeepsPresencePrefix(t *testing.T) {
	api := newMockBroker()
	tr := presenceTrigger(api)

	if _, err := tr.Trigger(context.Background(), nil); err != nil {
		t.Fatalf("Trigger returned error: %v", err)
	}
	calls := api.triggered()
	if len(calls) != 1 || calls[0].Channel != "presence-room-7" {
		t.Fatalf("Expected trigger on presence-room-7, got %+v", calls)
	}
}

func TestTriggerEventOverridesName(t *testing.T) {
	api := newMockBroker()
	tr := publicTrigger(api)

	if err := tr.TriggerEvent(context.Background(), "typing", nil); err != nil {
		t.Fatalf("TriggerEvent returned error: %v", err)
	}
	calls := api.triggered()
	if len(calls) != 1 || calls[0].Event != "typing" {
		t.Fatalf("Expected event 'typing', got %+v", calls)
	}
}

func TestTriggerOthersExcludesCaller(t *testing.T) {
	api := newMockBroker()
	tr := publicTrigger(api)

	if err := tr.TriggerOthers(context.Background(), "hi"); err != nil {
		t.Fatalf("TriggerOthers returned error: %v", err)
	}
	calls := api.triggered()
	if len(calls) != 1 || calls[0].SocketID != "1.2" {
		t.Fatalf("Expected excluded socket 1.2, got %+v", calls)
	}
}

func TestTriggerOthersFallsBackWithoutSession(t *testing.T) {
	api := newMockBroker()
	rt := NewRouter(api, nil)
	route, _ := rt.PublicRoute("chat")
	tr := newTrigger(api, route, proto.Envelope{
		ChannelType: "public", ChannelID: "42", ChannelEvent: "send",
	})

	if err := tr.TriggerOthers(context.Background(), "hi"); err != nil {
		t.Fatalf("TriggerOthers returned error: %v", err)
	}
	calls := api.triggered()
	if len(calls) != 1 || calls[0].SocketID != "" {
		t.Fatalf("Expected plain broadcast without exclusion, got %+v", calls)
	}
}

func TestSendTargetsEachUser(t *testing.T) {
	api := newMockBroker()
	tr := presenceTrigger(api)

	from, err := tr.Send(context.Background(), []string{"u2", "u3"}, "psst")
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if len(api.sends) != 2 || api.sends[0].Channel != "u2" || api.sends[1].Channel != "u3" {
		t.Fatalf("Unexpected user sends: %+v", api.sends)
	}
	if api.sends[0].Event != "shout" {
		t.Errorf("Expected correlated event 'shout', got %q", api.sends[0].Event)
	}
	if from.User == nil || from.User.ID != "u1" {
		t.Errorf("Expected calling member on provenance, got %+v", from.User)
	}
}

func TestMembersQueriesRoster(t *testing.T) {
	api := newMockBroker()
	api.getResp = []byte(`{"users":[{"id":"u1"},{"id":"u2"}]}`)
	tr := presenceTrigger(api)

	members, err := tr.Members(context.Background())
	if err != nil {
		t.Fatalf("Members returned error: %v", err)
	}
	if len(members) != 2 || members[0].ID != "u1" || members[1].ID != "u2" {
		t.Errorf("Unexpected roster: %+v", members)
	}
}

func TestMembersRejectsPublicChannels(t *testing.T) {
	api := newMockBroker()
	tr := publicTrigger(api)

	if _, err := tr.Members(context.Background()); err == nil {
		t.Error("Expected error querying members on a channel without membership")
	}
}

func TestTerminateManyOutcomesAreIndependent(t *testing.T) {
	api := newMockBroker()
	api.terminateFail = "u2"
	tr := presenceTrigger(api)

	results := tr.TerminateMany(context.Background(), []string{"u1", "u2", "u3"})
	if len(results) != 3 {
		t.Fatalf("Expected 3 outcomes, got %d", len(results))
	}
	if results["u1"].Err != nil || results["u3"].Err != nil {
		t.Errorf("Expected u1 and u3 to succeed, got %v", results)
	}
	// Successful outcomes expose the broker's raw response per id.
	if results["u1"].Response.Status != 200 || results["u3"].Response.Status != 200 {
		t.Errorf("Expected broker responses on successful outcomes, got %v", results)
	}
	if results["u2"].Err == nil {
		t.Error("Expected u2 to fail")
	}
	// u3 was still attempted after u2 failed.
	if len(api.terminated) != 2 {
		t.Errorf("Expected 2 successful terminations, got %v", api.terminated)
	}
}

func TestTerminateReturnsRawResponse(t *testing.T) {
	api := newMockBroker()
	tr := presenceTrigger(api)

	resp, err := tr.Terminate(context.Background(), "u5")
	if err != nil {
		t.Fatalf("Terminate returned error: %v", err)
	}
	if resp.Status != 200 {
		t.Errorf("Expected broker status 200, got %d", resp.Status)
	}
	if len(api.terminated) != 1 || api.terminated[0] != "u5" {
		t.Errorf("Unexpected terminations: %v", api.terminated)
	}
}
