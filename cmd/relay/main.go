package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/courtside/chat-service/internal/message"
	"github.com/courtside/chat-service/internal/messaging"
	"github.com/courtside/chat-service/internal/metrics"
	"github.com/courtside/chat-service/internal/presence"
	"github.com/courtside/chat-service/internal/protocol"
	"github.com/courtside/chat-service/internal/ratelimit"
	"github.com/courtside/chat-service/internal/relay"
	"github.com/courtside/chat-service/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	// --- PostgreSQL ---
	databaseURL := "postgres://localhost:5432/chat?sslmode=disable"
	if v := os.Getenv("DATABASE_URL"); v != "" {
		databaseURL = v
	}
	migrationsPath := "file://migrations"
	if v := os.Getenv("MIGRATIONS_PATH"); v != "" {
		migrationsPath = v
	}

	m, err := migrate.New(migrationsPath, databaseURL)
	if err != nil {
		log.Fatalf("failed to init migrations: %v", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("failed to run migrations: %v", err)
	}
	srcErr, dbErr := m.Close()
	if srcErr != nil || dbErr != nil {
		log.Printf("migration close: src=%v db=%v", srcErr, dbErr)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		log.Fatalf("failed to open postgres: %v", err)
	}
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	pingCancel()

	messageStore := message.NewStore(db)

	// --- Redis ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	serverName, _ := os.Hostname()
	if v := os.Getenv("SERVER_NAME"); v != "" {
		serverName = v
	}
	if serverName == "" {
		serverName = "relay-1"
	}

	presenceStore, err := presence.NewStore(redisAddr, serverName)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}

	limiter := ratelimit.NewLimiter(presenceStore.Client())

	// --- NATS (optional, for multi-instance fan-out) ---
	var natsClient *messaging.NATSClient
	var bridge relay.Bridge
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = natsURL
		natsClient, err = messaging.NewNATSClient(natsConfig, serverName)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		bridge = natsClient
	}

	log.Printf("Courtside chat relay starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  redis_addr:      %s", redisAddr)
	log.Printf("  server_name:     %s", serverName)
	log.Printf("  nats_enabled:    %v", natsClient != nil)

	hub := relay.NewHub(relay.NewRegistry(), messageStore, bridge)

	// Envelopes published by other relay instances are delivered to local
	// room members only; re-publishing is suppressed inside BroadcastLocal.
	if natsClient != nil {
		if err := natsClient.SubscribeRoomEvents(hub.BroadcastLocal); err != nil {
			log.Fatalf("failed to subscribe to room events: %v", err)
		}
	}

	dispatcher := ws.NewMessageDispatcher()

	// -----------------------------------------------------------------------
	// join — associate the connection with a room and user identity
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoin, func(conn *ws.Connection, msg interface{}) {
		joinMsg, ok := msg.(protocol.JoinMsg)
		if !ok {
			return
		}
		ctx := context.Background()

		if allowed, _ := limiter.Allow(ctx, conn.ID, ratelimit.RuleJoin); !allowed {
			sendError(conn, "too many join requests")
			return
		}

		// Identity is trusted as provided; authentication is enforced
		// upstream. Non-positive ids cannot be tagged and are rejected.
		if joinMsg.ChatRoomID <= 0 || joinMsg.UserID <= 0 {
			sendError(conn, "chatRoomId and userId are required")
			return
		}

		if err := hub.Join(conn.ID, joinMsg.ChatRoomID, joinMsg.UserID); err != nil {
			log.Printf("join failed conn=%s: %v", conn.ID, err)
			return
		}

		if err := presenceStore.TagJoin(ctx, conn.ID, joinMsg.ChatRoomID, joinMsg.UserID); err != nil {
			log.Printf("presence tag failed conn=%s: %v", conn.ID, err)
		} else if occ, err := presenceStore.RoomOccupancy(ctx, joinMsg.ChatRoomID); err == nil {
			log.Printf("room %d occupancy across instances: %d", joinMsg.ChatRoomID, occ)
		}

		// History backfill: recent messages, oldest first, sent only to the
		// joining connection. The hub decides whether its cache or the
		// durable store serves the request.
		histCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		history, err := hub.History(histCtx, joinMsg.ChatRoomID)
		if err != nil {
			log.Printf("history backfill failed conn=%s room=%d: %v", conn.ID, joinMsg.ChatRoomID, err)
			return
		}
		for _, msg := range history {
			data, err := protocol.NewServerMessage(protocol.TypeMessage, protocol.ServerChatMsg{
				Content:    msg.Content,
				UserID:     msg.UserID,
				ChatRoomID: msg.ChatRoomID,
				MessageID:  msg.ID,
			})
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(data); err != nil {
				break
			}
		}
	})

	// -----------------------------------------------------------------------
	// message — persist a chat message, then broadcast it to the room
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeMessage, func(conn *ws.Connection, msg interface{}) {
		chatMsg, ok := msg.(protocol.ChatMsg)
		if !ok {
			return
		}
		ctx := context.Background()

		if allowed, _ := limiter.Allow(ctx, conn.ID, ratelimit.RuleMessage); !allowed {
			metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
			sendError(conn, "sending messages too fast")
			return
		}

		// The hub decides everything else: unjoined or empty content is a
		// silent no-op, persistence happens before any fan-out, and a store
		// failure is reported only to this connection.
		_ = hub.Message(ctx, conn.ID, chatMsg.Content, conn)
	})

	server := ws.NewServer(config, presenceStore, dispatcher.Dispatch)

	// New connections enter the relay registry unjoined; join envelopes tag
	// them later.
	server.SetOnConnect(func(conn *ws.Connection) {
		hub.Registry().Add(conn.ID, conn)
	})

	// Transport close: the hub removes the connection first, then notifies
	// the room it had joined, so the leaver never sees its own departure.
	server.SetOnDisconnect(func(connID string) {
		hub.Disconnect(connID)
	})

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if natsClient != nil {
			natsClient.Close()
		}
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := presenceStore.Close(); err != nil {
			log.Printf("presence store close error: %v", err)
		}
		if err := db.Close(); err != nil {
			log.Printf("postgres close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

// sendError sends an error envelope to a single connection.
func sendError(conn *ws.Connection, content string) {
	data, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{Content: content})
	if err != nil {
		log.Printf("failed to build error envelope: %v", err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("failed to send error envelope conn=%s: %v", conn.ID, err)
	}
}
