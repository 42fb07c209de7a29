// Package presence manages connection presence state backed by Redis. Each
// live connection gets a presence hash with a TTL, and each room keeps a set
// of connection IDs for occupancy reporting across relay instances.
package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// PresencePrefix is the Redis key prefix for per-connection hashes.
	PresencePrefix = "presence:"

	// RoomPrefix is the Redis key prefix for per-room member sets.
	RoomPrefix = "room:"

	// PresenceTTL is the time-to-live for presence keys. The TTL is
	// refreshed on join, so abandoned keys from crashed instances expire
	// on their own.
	PresenceTTL = 1 * time.Hour

	// Status constants for the connection state machine.
	StatusUnjoined = "unjoined"
	StatusJoined   = "joined"
)

// Presence represents one connection's presence record in Redis.
type Presence struct {
	ConnID     string `redis:"conn_id"`
	Status     string `redis:"status"`       // unjoined | joined
	ChatRoomID int64  `redis:"chat_room_id"` // 0 until joined
	UserID     int64  `redis:"user_id"`      // 0 until joined
	Server     string `redis:"server"`       // which relay instance
	CreatedAt  int64  `redis:"created_at"`   // unix timestamp
	LastActive int64  `redis:"last_active"`  // unix timestamp
}

// Store manages presence state in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this relay instance
}

// NewStore creates a new presence store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("presence: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Create stores a new presence record with unjoined status and a 1h TTL.
func (s *Store) Create(ctx context.Context, connID string) error {
	key := PresencePrefix + connID
	now := time.Now().Unix()

	record := map[string]interface{}{
		"conn_id":      connID,
		"status":       StatusUnjoined,
		"chat_room_id": 0,
		"user_id":      0,
		"server":       s.serverName,
		"created_at":   now,
		"last_active":  now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, record)
	pipe.Expire(ctx, key, PresenceTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a presence record. Returns nil if not found.
func (s *Store) Get(ctx context.Context, connID string) (*Presence, error) {
	key := PresencePrefix + connID
	var p Presence
	err := s.client.HGetAll(ctx, key).Scan(&p)
	if err != nil {
		return nil, err
	}
	if p.ConnID == "" {
		return nil, nil // not found
	}
	return &p, nil
}

// TagJoin records the connection's room/user identity, adds it to the room's
// member set, and removes it from the previous room's set when a re-join
// switched rooms.
func (s *Store) TagJoin(ctx context.Context, connID string, roomID, userID int64) error {
	prev, err := s.Get(ctx, connID)
	if err != nil {
		return fmt.Errorf("presence: tag join lookup: %w", err)
	}

	key := PresencePrefix + connID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key,
		"status", StatusJoined,
		"chat_room_id", roomID,
		"user_id", userID,
		"last_active", time.Now().Unix(),
	)
	pipe.Expire(ctx, key, PresenceTTL)
	pipe.SAdd(ctx, roomKey(roomID), connID)
	if prev != nil && prev.ChatRoomID != 0 && prev.ChatRoomID != roomID {
		pipe.SRem(ctx, roomKey(prev.ChatRoomID), connID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Delete removes a presence record and its room set membership.
func (s *Store) Delete(ctx context.Context, connID string) error {
	prev, err := s.Get(ctx, connID)
	if err != nil {
		return fmt.Errorf("presence: delete lookup: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, PresencePrefix+connID)
	if prev != nil && prev.ChatRoomID != 0 {
		pipe.SRem(ctx, roomKey(prev.ChatRoomID), connID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// RoomOccupancy returns the number of connections currently joined to a room
// across all relay instances.
func (s *Store) RoomOccupancy(ctx context.Context, roomID int64) (int64, error) {
	return s.client.SCard(ctx, roomKey(roomID)).Result()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages
// (e.g. the rate limiter).
func (s *Store) Client() *redis.Client {
	return s.client
}

func roomKey(roomID int64) string {
	return RoomPrefix + strconv.FormatInt(roomID, 10) + ":members"
}
