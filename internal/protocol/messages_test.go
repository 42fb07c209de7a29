package protocol

import (
	"encoding/json"
	"testing"
)

// ---------------------------------------------------------------------------
// Test: Parsing a valid join envelope
// ---------------------------------------------------------------------------

func TestParseClientMessage_Join(t *testing.T) {
	input := []byte(`{"type":"join","chatRoomId":42,"userId":7}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeJoin {
		t.Fatalf("expected type %q, got %q", TypeJoin, msgType)
	}

	jm, ok := msg.(JoinMsg)
	if !ok {
		t.Fatalf("expected JoinMsg, got %T", msg)
	}
	if jm.ChatRoomID != 42 {
		t.Errorf("expected chatRoomId 42, got %d", jm.ChatRoomID)
	}
	if jm.UserID != 7 {
		t.Errorf("expected userId 7, got %d", jm.UserID)
	}
}

// ---------------------------------------------------------------------------
// Test: Parsing a valid message envelope
// ---------------------------------------------------------------------------

func TestParseClientMessage_ChatMsg(t *testing.T) {
	input := []byte(`{"type":"message","chatRoomId":42,"content":"Hello!"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgType != TypeMessage {
		t.Fatalf("expected type %q, got %q", TypeMessage, msgType)
	}

	cm, ok := msg.(ChatMsg)
	if !ok {
		t.Fatalf("expected ChatMsg, got %T", msg)
	}
	if cm.ChatRoomID != 42 {
		t.Errorf("expected chatRoomId 42, got %d", cm.ChatRoomID)
	}
	if cm.Content != "Hello!" {
		t.Errorf("expected content %q, got %q", "Hello!", cm.Content)
	}
}

// ---------------------------------------------------------------------------
// Test: Unknown and malformed envelopes return errors
// ---------------------------------------------------------------------------

func TestParseClientMessage_UnknownType(t *testing.T) {
	input := []byte(`{"type":"teleport","data":"something"}`)

	msgType, msg, err := ParseClientMessage(input)
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
	if msgType != "teleport" {
		t.Errorf("expected type %q returned for diagnostics, got %q", "teleport", msgType)
	}
	if msg != nil {
		t.Errorf("expected nil msg, got %v", msg)
	}
}

func TestParseClientMessage_InvalidJSON(t *testing.T) {
	input := []byte(`{"type":"join",`)

	if _, _, err := ParseClientMessage(input); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestParseClientMessage_MissingType(t *testing.T) {
	input := []byte(`{"chatRoomId":42,"userId":7}`)

	if _, _, err := ParseClientMessage(input); err == nil {
		t.Fatal("expected error for missing type field")
	}
}

func TestParseClientMessage_WrongFieldType(t *testing.T) {
	input := []byte(`{"type":"join","chatRoomId":"not-a-number","userId":7}`)

	if _, _, err := ParseClientMessage(input); err == nil {
		t.Fatal("expected error for mistyped chatRoomId")
	}
}

// ---------------------------------------------------------------------------
// Test: Building server envelopes
// ---------------------------------------------------------------------------

func TestNewServerMessage_ChatBroadcast(t *testing.T) {
	payload := ServerChatMsg{
		Content:    "hello",
		UserID:     1,
		ChatRoomID: 42,
		MessageID:  99,
	}

	data, err := NewServerMessage(TypeMessage, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Decode back and verify structure.
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["type"] != TypeMessage {
		t.Errorf("expected type %q, got %v", TypeMessage, result["type"])
	}
	if result["content"] != "hello" {
		t.Errorf("expected content %q, got %v", "hello", result["content"])
	}
	if int64(result["userId"].(float64)) != 1 {
		t.Errorf("expected userId 1, got %v", result["userId"])
	}
	if int64(result["chatRoomId"].(float64)) != 42 {
		t.Errorf("expected chatRoomId 42, got %v", result["chatRoomId"])
	}
	if int64(result["messageId"].(float64)) != 99 {
		t.Errorf("expected messageId 99, got %v", result["messageId"])
	}
}

func TestNewServerMessage_System(t *testing.T) {
	data, err := NewServerMessage(TypeSystem, SystemMsg{
		Content:    "user 7 joined the room",
		UserID:     7,
		ChatRoomID: 42,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypeSystem {
		t.Errorf("expected type %q, got %v", TypeSystem, result["type"])
	}
	if result["content"] != "user 7 joined the room" {
		t.Errorf("unexpected content: %v", result["content"])
	}
}

func TestNewServerMessage_OverridesTypeField(t *testing.T) {
	// The injected type always wins over whatever the payload carried.
	data, err := NewServerMessage(TypeError, ErrorMsg{Type: "message", Content: "boom"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if result["type"] != TypeError {
		t.Errorf("expected type %q, got %v", TypeError, result["type"])
	}
}

// ---------------------------------------------------------------------------
// Test: Envelope captures the raw payload for deferred decoding
// ---------------------------------------------------------------------------

func TestEnvelopeRawCapture(t *testing.T) {
	input := []byte(`{"type":"message","chatRoomId":1,"content":"raw"}`)

	var env Envelope
	if err := json.Unmarshal(input, &env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Type != TypeMessage {
		t.Fatalf("expected type %q, got %q", TypeMessage, env.Type)
	}

	var cm ChatMsg
	if err := json.Unmarshal(env.Raw, &cm); err != nil {
		t.Fatalf("failed to decode deferred payload: %v", err)
	}
	if cm.Content != "raw" {
		t.Errorf("expected content %q, got %q", "raw", cm.Content)
	}
}
