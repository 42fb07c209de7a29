// Package message provides PostgreSQL-backed storage for chat messages.
// Every message visible to a client has already been written here; the
// relay broadcasts only after a successful insert.
package message

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// KindText is the only message kind currently produced by the relay.
const KindText = "text"

// Message is one durable chat message row.
type Message struct {
	ID         int64
	ChatRoomID int64
	UserID     int64
	Content    string
	Kind       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Store manages chat messages in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new message store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert writes a new chat message and returns the stored row with its
// server-assigned identifier and timestamps. The insert either fully
// succeeds or returns an error; there is no partial write.
func (s *Store) Insert(ctx context.Context, roomID, userID int64, content, kind string) (*Message, error) {
	const query = `
		INSERT INTO chat_messages (chat_room_id, user_id, content, kind)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	msg := &Message{
		ChatRoomID: roomID,
		UserID:     userID,
		Content:    content,
		Kind:       kind,
	}

	err := s.db.QueryRowContext(ctx, query, roomID, userID, content, kind).
		Scan(&msg.ID, &msg.CreatedAt, &msg.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("message: insert: %w", err)
	}
	return msg, nil
}

// ListRecent returns up to limit most recent messages for a room in
// chronological order (oldest first), for the history backfill sent to a
// freshly joined connection.
func (s *Store) ListRecent(ctx context.Context, roomID int64, limit int) ([]Message, error) {
	const query = `
		SELECT id, chat_room_id, user_id, content, kind, created_at, updated_at
		FROM chat_messages
		WHERE chat_room_id = $1
		ORDER BY id DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("message: list recent: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatRoomID, &m.UserID, &m.Content, &m.Kind, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("message: scan row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message: iterate rows: %w", err)
	}

	// Reverse into chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
