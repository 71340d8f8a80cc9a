// Package channel implements the composite channel identifier used on the
// wire between clients, the backend and the broker. A channel identifier is
// the triple (type, name, id) joined with a fixed separator, e.g.
// "presence-chat-42".
package channel

import "strings"

// Separator joins the type, name and id segments of an encoded channel name.
// This is the on-wire contract with the broker.
const Separator = "-"

// Type classifies a channel. The type gates encryption and membership
// visibility semantics on the broker side.
type Type string

const (
	Public    Type = "public"
	Private   Type = "private"
	Encrypted Type = "encrypted"
	Presence  Type = "presence"
	Cache     Type = "cache"
)

var knownTypes = map[Type]struct{}{
	Public:    {},
	Private:   {},
	Encrypted: {},
	Presence:  {},
	Cache:     {},
}

// IsValid reports whether t is one of the known channel types.
func (t Type) IsValid() bool {
	_, ok := knownTypes[t]
	return ok
}

// HasMembers reports whether channels of this type carry a membership
// roster. Every type except public does.
func (t Type) HasMembers() bool {
	return t.IsValid() && t != Public
}

// Channel is a decoded channel identifier. A zero Type means the encoded
// form carried no recognizable type segment.
type Channel struct {
	Type Type   `json:"type,omitempty"`
	Name string `json:"name,omitempty"`
	ID   string `json:"id,omitempty"`
}

// Encode joins the non-empty parts of a channel identifier in type-name-id
// order. Absent parts are omitted entirely, so Encode("", "room", "") is
// just "room".
func Encode(typ Type, name, id string) string {
	parts := make([]string, 0, 3)
	if typ != "" {
		parts = append(parts, string(typ))
	}
	if name != "" {
		parts = append(parts, name)
	}
	if id != "" {
		parts = append(parts, id)
	}
	return strings.Join(parts, Separator)
}

// Parse decodes an encoded channel name. It never fails: input that does
// not decode cleanly degrades to a bare public channel name.
//
// Disambiguation is positional: with a single segment the name is taken as
// a public channel; with three or more segments the first three are taken
// as type, name and id; with exactly two segments the first is a type only
// if it is a member of the known type set, otherwise the two segments are
// name and id. A name that itself equals a type token is therefore not
// round-trippable; callers that control naming should reject such names at
// configuration time.
func Parse(raw string) Channel {
	seg := strings.Split(raw, Separator)
	switch {
	case len(seg) == 1:
		return Channel{Type: Public, Name: seg[0]}
	case len(seg) >= 3:
		return Channel{Type: Type(seg[0]), Name: seg[1], ID: seg[2]}
	}
	if Type(seg[0]).IsValid() {
		return Channel{Type: Type(seg[0]), Name: seg[1]}
	}
	return Channel{Name: seg[0], ID: seg[1]}
}

// String re-encodes the channel identifier.
func (c Channel) String() string {
	return Encode(c.Type, c.Name, c.ID)
}
