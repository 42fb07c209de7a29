package ws

import (
	"log"

	"github.com/courtside/chat-service/internal/protocol"
)

// MessageHandler is the callback signature for handling a parsed client
// envelope. The msg parameter is the concrete struct returned by
// protocol.ParseClientMessage (e.g., protocol.JoinMsg, protocol.ChatMsg).
type MessageHandler func(conn *Connection, msg interface{})

// MessageDispatcher routes incoming WebSocket envelopes to registered
// handlers based on the envelope type. It sends structured error responses
// for malformed or unsupported envelopes; the connection stays open and
// remains usable either way.
type MessageDispatcher struct {
	handlers map[string]MessageHandler
}

// NewMessageDispatcher creates an empty MessageDispatcher. Responses go out
// through the Connection handed to Dispatch, so the dispatcher needs no
// other state.
func NewMessageDispatcher() *MessageDispatcher {
	return &MessageDispatcher{
		handlers: make(map[string]MessageHandler),
	}
}

// Register associates a MessageHandler with an envelope type. If a handler
// was already registered for the given type, it is silently replaced.
func (d *MessageDispatcher) Register(msgType string, handler MessageHandler) {
	d.handlers[msgType] = handler
}

// Dispatch is the onMessage callback implementation. It parses the raw bytes
// into a typed envelope and routes it to the registered handler. Parse
// errors and unregistered types result in exactly one error envelope sent
// back to the originating connection.
func (d *MessageDispatcher) Dispatch(conn *Connection, data []byte) {
	msgType, msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		log.Printf("ws: dispatch parse error conn=%s: %v", conn.ID, err)
		d.sendError(conn, "invalid message format")
		return
	}

	handler, ok := d.handlers[msgType]
	if !ok {
		log.Printf("ws: unsupported envelope type=%q conn=%s", msgType, conn.ID)
		d.sendError(conn, "unsupported message type")
		return
	}

	handler(conn, msg)
}

// sendError sends a structured error envelope back to the client. Errors
// during envelope construction or transmission are logged but not
// propagated.
func (d *MessageDispatcher) sendError(conn *Connection, content string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
		Content: content,
	})
	if err != nil {
		log.Printf("ws: failed to build error envelope conn=%s: %v", conn.ID, err)
		return
	}

	if err := conn.WriteMessage(data); err != nil {
		log.Printf("ws: failed to send error envelope conn=%s: %v", conn.ID, err)
	}
}
