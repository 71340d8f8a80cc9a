package transport

import (
	"bytes"
	"testing"
)

func TestInterceptorDeliversRawUnchanged(t *testing.T) {
	var i Interceptor
	raw := []byte(`{"event":"message","data":"hello"}`)

	got := i.Observe(raw)
	if !bytes.Equal(got, raw) {
		t.Error("Expected raw frame to pass through unchanged without observer")
	}

	i.Listen(func(frame map[string]any) {})
	got = i.Observe(raw)
	if !bytes.Equal(got, raw) {
		t.Error("Expected raw frame to pass through unchanged with observer")
	}
}

func TestInterceptorListenAndMute(t *testing.T) {
	var i Interceptor
	var seen []map[string]any

	i.Listen(func(frame map[string]any) {
		seen = append(seen, frame)
	})
	i.Observe([]byte(`{"event":"a"}`))
	if len(seen) != 1 {
		t.Fatalf("Expected 1 observed frame, got %d", len(seen))
	}

	i.Mute()
	i.Observe([]byte(`{"event":"b"}`))
	if len(seen) != 1 {
		t.Errorf("Expected no frames after mute, got %d", len(seen))
	}

	// Re-arming resumes observation.
	i.Listen(func(frame map[string]any) {
		seen = append(seen, frame)
	})
	i.Observe([]byte(`{"event":"c"}`))
	if len(seen) != 2 {
		t.Errorf("Expected observation to resume after listen, got %d frames", len(seen))
	}
}

func TestInterceptorParsesNestedJSONStrings(t *testing.T) {
	var i Interceptor
	var got map[string]any

	i.Listen(func(frame map[string]any) {
		got = frame
	})
	// The broker double-encodes control payloads as JSON strings.
	i.Observe([]byte(`{"event":"pusher:connection_established","data":"{\"socket_id\":\"1234.5678\",\"activity_timeout\":120}"}`))

	if got == nil {
		t.Fatal("Expected frame to be observed")
	}
	data, ok := got["data"].(map[string]any)
	if !ok {
		t.Fatalf("Expected nested data to be parsed into a map, got %T", got["data"])
	}
	if data["socket_id"] != "1234.5678" {
		t.Errorf("Expected socket_id '1234.5678', got %v", data["socket_id"])
	}
}

func TestInterceptorIgnoresMalformedFrames(t *testing.T) {
	var i Interceptor
	called := false
	i.Listen(func(frame map[string]any) {
		called = true
	})

	raw := []byte(`not json at all`)
	got := i.Observe(raw)
	if !bytes.Equal(got, raw) {
		t.Error("Expected malformed frame to pass through unchanged")
	}
	if called {
		t.Error("Expected observer not to be called for malformed frame")
	}
}

func TestCaptureSessionID(t *testing.T) {
	var i Interceptor
	var captured []string

	i.CaptureSessionID(func(id string) {
		captured = append(captured, id)
	})

	frame := []byte(`{"event":"pusher:connection_established","data":"{\"socket_id\":\"1234.5678\"}"}`)
	i.Observe(frame)

	if len(captured) != 1 || captured[0] != "1234.5678" {
		t.Fatalf("Expected one captured id '1234.5678', got %v", captured)
	}

	// A second identical frame in the same session is not re-captured.
	i.Observe(frame)
	if len(captured) != 1 {
		t.Errorf("Expected capture to disengage after first frame, got %v", captured)
	}
}

func TestCaptureSessionIDSkipsOtherFrames(t *testing.T) {
	var i Interceptor
	var captured []string

	i.CaptureSessionID(func(id string) {
		captured = append(captured, id)
	})

	i.Observe([]byte(`{"event":"message","data":"hi"}`))
	i.Observe([]byte(`{"event":"pusher:connection_established","data":"{}"}`))
	if len(captured) != 0 {
		t.Fatalf("Expected no capture yet, got %v", captured)
	}

	// Still armed: the next matching frame is captured.
	i.Observe([]byte(`{"event":"pusher:connection_established","data":"{\"socket_id\":\"9.9\"}"}`))
	if len(captured) != 1 || captured[0] != "9.9" {
		t.Errorf("Expected captured id '9.9', got %v", captured)
	}
}
