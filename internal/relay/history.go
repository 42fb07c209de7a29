package relay

import (
	"sync"

	"github.com/courtside/chat-service/internal/message"
)

// MaxHistoryMessages is the number of recent messages retained per room in
// the in-memory cache. Warm rooms serve join backfill from here without a
// database round trip.
const MaxHistoryMessages = 50

// HistoryCache stores the last N persisted messages per room in memory.
// It is goroutine-safe and uses a ring buffer internally. It is a cache
// only; the durable record lives in the message store.
type HistoryCache struct {
	mu      sync.RWMutex
	buffers map[int64]*ringBuffer // roomID -> ring buffer
}

// ringBuffer is a fixed-size circular buffer of messages.
type ringBuffer struct {
	items []message.Message
	pos   int
	count int
}

// NewHistoryCache creates a new empty HistoryCache.
func NewHistoryCache() *HistoryCache {
	return &HistoryCache{
		buffers: make(map[int64]*ringBuffer),
	}
}

// add appends one message, overwriting the oldest when full.
func (rb *ringBuffer) add(msg message.Message) {
	rb.items[rb.pos] = msg
	rb.pos = (rb.pos + 1) % MaxHistoryMessages
	if rb.count < MaxHistoryMessages {
		rb.count++
	}
}

// Add appends a persisted message to the room's ring buffer. If the buffer
// is full, the oldest message is overwritten.
func (hc *HistoryCache) Add(roomID int64, msg message.Message) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	rb, ok := hc.buffers[roomID]
	if !ok {
		rb = &ringBuffer{
			items: make([]message.Message, MaxHistoryMessages),
		}
		hc.buffers[roomID] = rb
	}

	rb.add(msg)
}

// Seed installs the durable store's recent history as the room's buffer.
// It is a no-op when the room already has one, so concurrent joiners cannot
// double-insert and messages appended since the first seed are never lost.
// A buffer must only ever start from a Seed; a buffer grown from appends
// alone would hide older durable rows from Recent.
func (hc *HistoryCache) Seed(roomID int64, msgs []message.Message) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if _, ok := hc.buffers[roomID]; ok {
		return
	}
	rb := &ringBuffer{
		items: make([]message.Message, MaxHistoryMessages),
	}
	hc.buffers[roomID] = rb
	for _, msg := range msgs {
		rb.add(msg)
	}
}

// Recent returns the cached messages for a room in chronological order
// (oldest first). Returns an empty slice if the room has no cached history;
// callers fall back to the durable store in that case.
func (hc *HistoryCache) Recent(roomID int64) []message.Message {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	rb, ok := hc.buffers[roomID]
	if !ok {
		return []message.Message{}
	}

	result := make([]message.Message, rb.count)
	// The oldest message is at position (pos - count) mod MaxHistoryMessages.
	start := (rb.pos - rb.count + MaxHistoryMessages) % MaxHistoryMessages
	for i := 0; i < rb.count; i++ {
		result[i] = rb.items[(start+i)%MaxHistoryMessages]
	}
	return result
}

// Remove deletes the buffer for a room (called when the room empties).
func (hc *HistoryCache) Remove(roomID int64) {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	delete(hc.buffers, roomID)
}
