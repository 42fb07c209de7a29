// Package protocol defines the WebSocket envelope types and structures used
// for communication between chat clients and the relay. All envelopes are
// serialized as JSON text frames with a type discriminator field.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Envelope type constants
// ---------------------------------------------------------------------------

// Client -> Server envelope types. TypeMessage is also used server -> client
// for the broadcast form, which additionally carries the messageId.
const (
	TypeJoin    = "join"
	TypeMessage = "message"
)

// Server -> Client envelope types.
const (
	TypeSystem = "system"
	TypeError  = "error"
)

// ---------------------------------------------------------------------------
// Envelope — used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the envelope type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server envelope structs
// ---------------------------------------------------------------------------

// JoinMsg associates the connection with a chat room and a user identity.
// The userId is trusted as provided; authentication happens upstream.
type JoinMsg struct {
	Type       string `json:"type"`
	ChatRoomID int64  `json:"chatRoomId"`
	UserID     int64  `json:"userId"`
}

// ChatMsg is a text message sent by the client to its current room.
type ChatMsg struct {
	Type       string `json:"type"`
	ChatRoomID int64  `json:"chatRoomId"`
	Content    string `json:"content"`
}

// ---------------------------------------------------------------------------
// Server -> Client envelope structs
// ---------------------------------------------------------------------------

// SystemMsg announces room lifecycle events (join/leave) to room members.
type SystemMsg struct {
	Type       string `json:"type"`
	Content    string `json:"content"`
	UserID     int64  `json:"userId"`
	ChatRoomID int64  `json:"chatRoomId"`
}

// ServerChatMsg is a persisted chat message broadcast to room members. The
// MessageID is the identifier assigned by the durable store, so every
// recipient observes the same id as the stored row.
type ServerChatMsg struct {
	Type       string `json:"type"`
	Content    string `json:"content"`
	UserID     int64  `json:"userId"`
	ChatRoomID int64  `json:"chatRoomId"`
	MessageID  int64  `json:"messageId"`
}

// ErrorMsg is sent only to the originating connection when an envelope is
// malformed or an operation fails.
type ErrorMsg struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client envelope.
// It returns the envelope type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only envelope types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse envelope: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeJoin:
		var m JoinMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessage:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client envelope type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server envelope.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the server envelope structs; this function marshals it to
// JSON, injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server envelope: %w", err)
	}
	return out, nil
}
