package transport

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/pushrpc/prpc/proto"
)

// Interceptor observes inbound frames at the connection adapter boundary.
// It is a best-effort mechanism: it never fails and never blocks normal
// delivery; the raw frame always reaches its regular consumer unchanged.
//
// One observer is active at a time. Listen replaces any prior observer and
// Mute clears it, so re-arming is idempotent and observers never stack.
type Interceptor struct {
	mu      sync.Mutex
	handler func(frame map[string]any)
}

// Listen begins observing inbound frames. Each frame is decoded with a
// best-effort recursive parse of nested JSON-shaped string fields before
// being handed to fn.
func (i *Interceptor) Listen(fn func(frame map[string]any)) {
	i.mu.Lock()
	i.handler = fn
	i.mu.Unlock()
}

// Mute stops observing. Frames delivered afterwards reach their normal
// consumer without interception.
func (i *Interceptor) Mute() {
	i.mu.Lock()
	i.handler = nil
	i.mu.Unlock()
}

// Observe hands one raw inbound frame to the active observer, if any, and
// returns the raw bytes unchanged for normal delivery.
func (i *Interceptor) Observe(raw []byte) []byte {
	i.mu.Lock()
	fn := i.handler
	i.mu.Unlock()
	if fn == nil {
		return raw
	}

	parsed, ok := parseRecursive(raw).(map[string]any)
	if !ok {
		return raw
	}
	fn(parsed)
	return raw
}

// CaptureSessionID arms the interceptor to record the session identifier
// from the next connection-established control frame, then mutes itself.
// The identifier is captured exactly once per arming; a later identifier in
// the same session is not reconciled.
func (i *Interceptor) CaptureSessionID(record func(id string)) {
	i.Listen(func(frame map[string]any) {
		if frame["event"] != proto.EventConnectionEstablished {
			return
		}
		data, ok := frame["data"].(map[string]any)
		if !ok {
			return
		}
		id, ok := data["socket_id"].(string)
		if !ok || id == "" {
			return
		}
		i.Mute()
		record(id)
	})
}

// parseRecursive decodes JSON and re-parses any string value that itself
// looks like a JSON object.
func parseRecursive(raw []byte) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return expandNested(v)
}

func expandNested(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = expandNested(item)
		}
		return val
	case []any:
		for idx, item := range val {
			val[idx] = expandNested(item)
		}
		return val
	case string:
		trimmed := strings.TrimSpace(val)
		if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
			var nested any
			if err := json.Unmarshal([]byte(trimmed), &nested); err == nil {
				return expandNested(nested)
			}
		}
		return val
	default:
		return v
	}
}
