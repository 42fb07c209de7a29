package relay

import (
	"context"
	"fmt"
	"log"

	"github.com/courtside/chat-service/internal/message"
	"github.com/courtside/chat-service/internal/metrics"
	"github.com/courtside/chat-service/internal/protocol"
)

// MessageStore is the durable message persistence boundary. A successful
// insert must be durable and carry a unique server-assigned identifier
// before the hub proceeds to broadcast. ListRecent returns up to limit most
// recent messages for a room, oldest first.
type MessageStore interface {
	Insert(ctx context.Context, roomID, userID int64, content, kind string) (*message.Message, error)
	ListRecent(ctx context.Context, roomID int64, limit int) ([]message.Message, error)
}

// Bridge publishes room envelopes to other relay instances. It is optional;
// a nil bridge confines fan-out to this process.
type Bridge interface {
	PublishRoomEvent(roomID int64, envelope []byte) error
}

// Hub multiplexes live connections into per-room broadcast groups. It owns
// the join/message/disconnect semantics: join tags the connection and
// notifies the room, message persists then broadcasts, disconnect notifies
// the room after removal.
type Hub struct {
	registry *Registry
	store    MessageStore
	bridge   Bridge
	history  *HistoryCache
}

// NewHub creates a Hub over the given registry and message store. The bridge
// may be nil when cross-instance fan-out is not configured.
func NewHub(registry *Registry, store MessageStore, bridge Bridge) *Hub {
	return &Hub{
		registry: registry,
		store:    store,
		bridge:   bridge,
		history:  NewHistoryCache(),
	}
}

// Registry returns the connection registry, for transport-layer wiring.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// History returns the recent messages for a room, oldest first. A warm room
// is served from the in-memory cache; a cold room reads the durable store
// and seeds the cache with the result, so the buffer always starts from the
// full durable tail and a few appended messages can never shadow older rows.
// With a bridge configured the cache is bypassed entirely and every call
// reads the store: messages persisted by other instances never pass through
// this process and would leave a local buffer incomplete.
func (h *Hub) History(ctx context.Context, roomID int64) ([]message.Message, error) {
	if h.bridge == nil {
		if cached := h.history.Recent(roomID); len(cached) > 0 {
			return cached, nil
		}
	}

	msgs, err := h.store.ListRecent(ctx, roomID, MaxHistoryMessages)
	if err != nil {
		return nil, fmt.Errorf("relay: history: %w", err)
	}
	if h.bridge == nil {
		h.history.Seed(roomID, msgs)
	}
	return msgs, nil
}

// Join tags the connection with the given room and user identity and
// broadcasts a system notice to the room. Membership is computed after the
// tag mutation, so the joining connection receives its own notice. A repeat
// join overwrites the tags silently; no notice is sent to the previous room.
func (h *Hub) Join(connID string, roomID, userID int64) error {
	prevRoomID, prevJoined, ok := h.registry.TagJoin(connID, roomID, userID)
	if !ok {
		return fmt.Errorf("relay: join: connection %s not registered", connID)
	}

	// A re-join can silently empty the previous room; drop its history
	// buffer just as a disconnect of the last member would.
	if prevJoined && prevRoomID != roomID && h.registry.CountInRoom(prevRoomID) == 0 {
		h.history.Remove(prevRoomID)
	}

	data, err := protocol.NewServerMessage(protocol.TypeSystem, protocol.SystemMsg{
		Content:    fmt.Sprintf("user %d joined the room", userID),
		UserID:     userID,
		ChatRoomID: roomID,
	})
	if err != nil {
		return fmt.Errorf("relay: join: build system envelope: %w", err)
	}

	h.Broadcast(roomID, data)
	metrics.RoomsActive.Set(float64(h.registry.RoomCount()))
	log.Printf("relay: join conn=%s room=%d user=%d (members=%d)",
		connID, roomID, userID, h.registry.CountInRoom(roomID))
	return nil
}

// Message handles a text message from a connection. A connection that has
// not joined, or an empty content, is a silent no-op: nothing is persisted
// and nothing is sent. Otherwise the message is persisted first; only after
// a successful insert is the envelope (carrying the assigned identifier)
// broadcast to the room. On a store failure the broadcast is suppressed and
// an error envelope goes back to the sender alone.
func (h *Hub) Message(ctx context.Context, connID string, content string, sender Conn) error {
	roomID, userID, joined := h.registry.Tags(connID)
	if !joined || content == "" {
		metrics.MessagesTotal.WithLabelValues("dropped").Inc()
		return nil
	}

	if err := ValidateContent(content); err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		h.sendError(sender, err.Error())
		return nil
	}

	timer := metrics.NewInsertTimer()
	msg, err := h.store.Insert(ctx, roomID, userID, content, message.KindText)
	timer.ObserveDuration()
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		log.Printf("relay: message insert failed conn=%s room=%d: %v", connID, roomID, err)
		h.sendError(sender, "failed to save message")
		return fmt.Errorf("relay: message insert: %w", err)
	}

	data, err := protocol.NewServerMessage(protocol.TypeMessage, protocol.ServerChatMsg{
		Content:    msg.Content,
		UserID:     msg.UserID,
		ChatRoomID: msg.ChatRoomID,
		MessageID:  msg.ID,
	})
	if err != nil {
		return fmt.Errorf("relay: message: build envelope: %w", err)
	}

	metrics.MessagesTotal.WithLabelValues("persisted").Inc()
	// With a bridge configured History reads the store directly, so there
	// is no local buffer to keep current.
	if h.bridge == nil {
		h.history.Add(roomID, *msg)
	}
	h.Broadcast(roomID, data)
	return nil
}

// Disconnect removes the connection from the registry and, if it had joined
// a room, broadcasts a system departure notice. Removal happens first, so
// the leaving connection is excluded from its own departure fan-out.
func (h *Hub) Disconnect(connID string) {
	roomID, userID, wasJoined := h.registry.Remove(connID)
	if !wasJoined {
		return
	}

	data, err := protocol.NewServerMessage(protocol.TypeSystem, protocol.SystemMsg{
		Content:    fmt.Sprintf("user %d left the room", userID),
		UserID:     userID,
		ChatRoomID: roomID,
	})
	if err != nil {
		log.Printf("relay: disconnect: build system envelope: %v", err)
		return
	}

	h.Broadcast(roomID, data)
	metrics.RoomsActive.Set(float64(h.registry.RoomCount()))

	// The cache only serves joins into occupied rooms; once a room empties
	// the durable store is the source of truth again.
	if h.registry.CountInRoom(roomID) == 0 {
		h.history.Remove(roomID)
	}

	log.Printf("relay: leave conn=%s room=%d user=%d (members=%d)",
		connID, roomID, userID, h.registry.CountInRoom(roomID))
}

// Broadcast delivers one serialized envelope to every joined connection in
// the room, then hands it to the bridge for other relay instances. Delivery
// is best-effort with per-recipient isolation: one failed write is skipped
// without affecting the rest, without retry, and without reporting back to
// the sender. Dead connections get cleaned up by the transport's read path.
func (h *Hub) Broadcast(roomID int64, envelope []byte) {
	n := 0
	h.registry.ForEachInRoom(roomID, func(connID string, conn Conn) {
		if err := conn.WriteMessage(envelope); err != nil {
			log.Printf("relay: broadcast write failed conn=%s room=%d: %v", connID, roomID, err)
			return
		}
		n++
	})
	metrics.BroadcastFanout.Observe(float64(n))

	if h.bridge != nil {
		if err := h.bridge.PublishRoomEvent(roomID, envelope); err != nil {
			log.Printf("relay: broadcast bridge publish failed room=%d: %v", roomID, err)
		}
	}
}

// BroadcastLocal delivers an envelope that originated on another relay
// instance to local room members only, without re-publishing to the bridge.
func (h *Hub) BroadcastLocal(roomID int64, envelope []byte) {
	h.registry.ForEachInRoom(roomID, func(connID string, conn Conn) {
		_ = conn.WriteMessage(envelope)
	})
}

// sendError sends an error envelope to a single connection. Failures are
// logged and dropped; the connection stays registered.
func (h *Hub) sendError(conn Conn, content string) {
	if conn == nil {
		return
	}
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{Content: content})
	if err != nil {
		log.Printf("relay: failed to build error envelope: %v", err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("relay: failed to send error envelope: %v", err)
	}
}
