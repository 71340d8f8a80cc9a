package channel

import "testing"

func TestEncode(t *testing.T) {
	tests := []struct {
		typ  Type
		name string
		id   string
		want string
	}{
		{"", "room", "", "room"},
		{Presence, "chat", "42", "presence-chat-42"},
		{Presence, "chat", "", "presence-chat"},
		{"", "chat", "42", "chat-42"},
		{Public, "lobby", "", "public-lobby"},
	}

	for _, tt := range tests {
		got := Encode(tt.typ, tt.name, tt.id)
		if got != tt.want {
			t.Errorf("Encode(%q, %q, %q) = %q, want %q", tt.typ, tt.name, tt.id, got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		raw  string
		want Channel
	}{
		{"room", Channel{Type: Public, Name: "room"}},
		{"presence-chat-42", Channel{Type: Presence, Name: "chat", ID: "42"}},
		{"presence-chat", Channel{Type: Presence, Name: "chat"}},
		{"chat-42", Channel{Name: "chat", ID: "42"}},
		{"private-doc", Channel{Type: Private, Name: "doc"}},
		{"cache-feed-7", Channel{Type: Cache, Name: "feed", ID: "7"}},
		// Only the first three segments are addressed.
		{"presence-chat-42-extra", Channel{Type: Presence, Name: "chat", ID: "42"}},
	}

	for _, tt := range tests {
		got := Parse(tt.raw)
		if got != tt.want {
			t.Errorf("Parse(%q) = %+v, want %+v", tt.raw, got, tt.want)
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, typ := range []Type{Public, Private, Encrypted, Presence, Cache} {
		for _, id := range []string{"", "42"} {
			encoded := Encode(typ, "myroom", id)
			got := Parse(encoded)
			want := Channel{Type: typ, Name: "myroom", ID: id}
			if got != want {
				t.Errorf("Parse(Encode(%q, %q, %q)) = %+v, want %+v", typ, "myroom", id, got, want)
			}
		}
	}
}

func TestTypeHasMembers(t *testing.T) {
	tests := []struct {
		typ  Type
		want bool
	}{
		{Public, false},
		{Private, true},
		{Encrypted, true},
		{Presence, true},
		{Cache, true},
		{Type("bogus"), false},
	}

	for _, tt := range tests {
		if got := tt.typ.HasMembers(); got != tt.want {
			t.Errorf("Type(%q).HasMembers() = %t, want %t", tt.typ, got, tt.want)
		}
	}
}

func TestTypeIsValid(t *testing.T) {
	if !Presence.IsValid() {
		t.Error("Expected presence to be a valid type")
	}
	if Type("chat").IsValid() {
		t.Error("Expected 'chat' to be an invalid type")
	}
}
