// Package messaging provides a NATS client wrapper for relaying room
// envelopes between chat relay instances. Each instance publishes the
// envelopes it broadcasts and subscribes to a room wildcard; an origin tag
// keeps an instance from re-delivering its own publications.
package messaging

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectRoom is the subject prefix for room fan-out; the full subject is
// chatroom.<roomID>.
const SubjectRoom = "chatroom"

// RoomEvent wraps one serialized server envelope with routing metadata.
type RoomEvent struct {
	Origin     string          `json:"origin"`     // relay instance name
	ChatRoomID int64           `json:"chatRoomId"` // target room
	Envelope   json.RawMessage `json:"envelope"`   // serialized server envelope
}

// NATSClient wraps the NATS connection with helper methods for room fan-out.
type NATSClient struct {
	conn       *nats.Conn
	serverName string
	mu         sync.Mutex
	subs       map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "chat-relay",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. The serverName becomes the origin tag on published events. It
// returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig, serverName string) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn:       nc,
		serverName: serverName,
		subs:       make(map[string]*nats.Subscription),
	}, nil
}

// PublishRoomEvent publishes a serialized server envelope to the room's
// subject, tagged with this instance's origin name. It implements the
// relay hub's Bridge interface.
func (c *NATSClient) PublishRoomEvent(roomID int64, envelope []byte) error {
	event := RoomEvent{
		Origin:     c.serverName,
		ChatRoomID: roomID,
		Envelope:   envelope,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("nats marshal room event: %w", err)
	}
	return c.conn.Publish(fmt.Sprintf("%s.%d", SubjectRoom, roomID), data)
}

// SubscribeRoomEvents subscribes to all room subjects and invokes the
// handler for events published by other relay instances. Events that carry
// this instance's own origin tag are dropped.
func (c *NATSClient) SubscribeRoomEvents(handler func(roomID int64, envelope []byte)) error {
	subject := SubjectRoom + ".>"
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		var event RoomEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			log.Printf("[nats] bad room event on %s: %v", msg.Subject, err)
			return
		}
		if event.Origin == c.serverName {
			return // our own broadcast, already delivered locally
		}
		handler(event.ChatRoomID, event.Envelope)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// Close drains all subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	for key, sub := range c.subs {
		_ = sub.Unsubscribe()
		delete(c.subs, key)
	}
	c.mu.Unlock()

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] drain error: %v", err)
	}
	c.conn.Close()
}
