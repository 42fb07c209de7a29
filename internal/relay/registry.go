// Package relay implements the chat relay core: a registry of live
// connections tagged with room and user identity, and a hub that persists
// chat messages and fans out envelopes to room members.
package relay

import "sync"

// Conn is the outbound half of a client connection as seen by the relay.
// It is implemented by the WebSocket transport layer.
type Conn interface {
	// WriteMessage sends one serialized envelope as a text frame. It must be
	// safe for concurrent use and should fail cleanly when the transport is
	// no longer open.
	WriteMessage(data []byte) error
}

// member is one registered connection with its room/user tags. RoomID and
// UserID are zero until a join envelope arrives.
type member struct {
	conn   Conn
	roomID int64
	userID int64
}

// joined reports whether the member has been tagged by a join envelope.
func (m *member) joined() bool {
	return m.roomID != 0 && m.userID != 0
}

// Registry is a thread-safe collection of live connections keyed by
// connection ID. It supports concurrent insert, tag mutation, removal, and
// the membership scans used by broadcast. The underlying map is never
// exposed.
type Registry struct {
	mu      sync.RWMutex
	members map[string]*member
}

// NewRegistry creates an empty Registry ready for use.
func NewRegistry() *Registry {
	return &Registry{members: make(map[string]*member)}
}

// Add registers a new connection in the unjoined state. A duplicate ID
// replaces the previous entry.
func (r *Registry) Add(connID string, conn Conn) {
	r.mu.Lock()
	r.members[connID] = &member{conn: conn}
	r.mu.Unlock()
}

// Remove deletes a connection from the registry. It returns the room and
// user tags the connection carried and whether it had joined a room, so the
// caller can emit a departure notification to the remaining members.
func (r *Registry) Remove(connID string) (roomID, userID int64, wasJoined bool) {
	r.mu.Lock()
	m, ok := r.members[connID]
	if ok {
		delete(r.members, connID)
	}
	r.mu.Unlock()

	if !ok {
		return 0, 0, false
	}
	return m.roomID, m.userID, m.joined()
}

// TagJoin sets the room and user identity on a registered connection. A
// repeated join simply overwrites the tags; the previous room receives no
// departure notice. The tags the connection carried before the overwrite are
// returned so the caller can account for a room silently losing a member.
// ok is false if the connection is not registered.
func (r *Registry) TagJoin(connID string, roomID, userID int64) (prevRoomID int64, prevJoined, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[connID]
	if !ok {
		return 0, false, false
	}
	prevRoomID = m.roomID
	prevJoined = m.joined()
	m.roomID = roomID
	m.userID = userID
	return prevRoomID, prevJoined, true
}

// Tags returns the room and user identity of a connection, with joined
// reporting whether a join envelope has been processed for it.
func (r *Registry) Tags(connID string) (roomID, userID int64, joined bool) {
	r.mu.RLock()
	m, ok := r.members[connID]
	r.mu.RUnlock()

	if !ok {
		return 0, 0, false
	}
	return m.roomID, m.userID, m.joined()
}

// ForEachInRoom calls fn for every registered connection whose room tag
// equals roomID. Membership is snapshotted under the read lock first so fn
// runs without holding it; a connection removed mid-iteration simply gets a
// failed write, which callers treat as best-effort.
func (r *Registry) ForEachInRoom(roomID int64, fn func(connID string, conn Conn)) {
	type entry struct {
		id   string
		conn Conn
	}

	r.mu.RLock()
	snapshot := make([]entry, 0, len(r.members))
	for id, m := range r.members {
		if m.roomID == roomID && m.joined() {
			snapshot = append(snapshot, entry{id: id, conn: m.conn})
		}
	}
	r.mu.RUnlock()

	for _, e := range snapshot {
		fn(e.id, e.conn)
	}
}

// CountInRoom returns the number of joined connections currently tagged with
// roomID.
func (r *Registry) CountInRoom(roomID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, m := range r.members {
		if m.roomID == roomID && m.joined() {
			n++
		}
	}
	return n
}

// RoomCount returns the number of distinct rooms that currently have at
// least one joined connection.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make(map[int64]struct{})
	for _, m := range r.members {
		if m.joined() {
			rooms[m.roomID] = struct{}{}
		}
	}
	return len(rooms)
}

// Count returns the total number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.members)
	r.mu.RUnlock()
	return n
}
