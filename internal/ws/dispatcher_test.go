package ws

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"

	"github.com/courtside/chat-service/internal/protocol"
)

// pipeConnection builds a Connection over an in-memory pipe and a channel
// that receives every server envelope a client would see.
func pipeConnection(t *testing.T) (*Connection, <-chan map[string]interface{}, func()) {
	t.Helper()
	serverSide, clientSide := net.Pipe()

	conn := &Connection{
		ID:        "test-conn",
		Conn:      serverSide,
		CreatedAt: time.Now(),
	}
	conn.Touch()

	received := make(chan map[string]interface{}, 16)
	go func() {
		for {
			data, err := wsutil.ReadServerText(clientSide)
			if err != nil {
				close(received)
				return
			}
			var m map[string]interface{}
			if err := json.Unmarshal(data, &m); err != nil {
				continue
			}
			received <- m
		}
	}()

	cleanup := func() {
		serverSide.Close()
		clientSide.Close()
	}
	return conn, received, cleanup
}

func recvEnvelope(t *testing.T, ch <-chan map[string]interface{}) map[string]interface{} {
	t.Helper()
	select {
	case env, ok := <-ch:
		if !ok {
			t.Fatal("connection closed before envelope arrived")
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return nil
	}
}

func expectSilence(t *testing.T, ch <-chan map[string]interface{}) {
	t.Helper()
	select {
	case env := <-ch:
		t.Fatalf("expected no envelope, got %v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatchMalformedEnvelopeSendsError(t *testing.T) {
	conn, received, cleanup := pipeConnection(t)
	defer cleanup()

	d := NewMessageDispatcher()
	d.Dispatch(conn, []byte(`{"type":`))

	env := recvEnvelope(t, received)
	if env["type"] != protocol.TypeError {
		t.Fatalf("expected error envelope, got %v", env["type"])
	}
	expectSilence(t, received)
}

func TestDispatchUnknownTypeSendsError(t *testing.T) {
	conn, received, cleanup := pipeConnection(t)
	defer cleanup()

	d := NewMessageDispatcher()
	d.Dispatch(conn, []byte(`{"type":"teleport"}`))

	env := recvEnvelope(t, received)
	if env["type"] != protocol.TypeError {
		t.Fatalf("expected error envelope, got %v", env["type"])
	}
	expectSilence(t, received)
}

func TestDispatchConnectionUsableAfterError(t *testing.T) {
	conn, received, cleanup := pipeConnection(t)
	defer cleanup()

	var handled []protocol.JoinMsg
	d := NewMessageDispatcher()
	d.Register(protocol.TypeJoin, func(_ *Connection, msg interface{}) {
		if jm, ok := msg.(protocol.JoinMsg); ok {
			handled = append(handled, jm)
		}
	})

	// A malformed envelope yields exactly one error and leaves the
	// connection open for subsequent valid envelopes.
	d.Dispatch(conn, []byte(`not even json`))
	env := recvEnvelope(t, received)
	if env["type"] != protocol.TypeError {
		t.Fatalf("expected error envelope, got %v", env["type"])
	}

	d.Dispatch(conn, []byte(`{"type":"join","chatRoomId":42,"userId":7}`))
	if len(handled) != 1 {
		t.Fatalf("expected join handler to run once, ran %d times", len(handled))
	}
	if handled[0].ChatRoomID != 42 || handled[0].UserID != 7 {
		t.Errorf("unexpected join payload: %+v", handled[0])
	}
	expectSilence(t, received)
}

func TestDispatchRoutesToRegisteredHandler(t *testing.T) {
	conn, received, cleanup := pipeConnection(t)
	defer cleanup()

	var got protocol.ChatMsg
	d := NewMessageDispatcher()
	d.Register(protocol.TypeMessage, func(_ *Connection, msg interface{}) {
		got, _ = msg.(protocol.ChatMsg)
	})

	d.Dispatch(conn, []byte(`{"type":"message","chatRoomId":42,"content":"hello"}`))
	if got.Content != "hello" || got.ChatRoomID != 42 {
		t.Errorf("handler received unexpected payload: %+v", got)
	}
	expectSilence(t, received)
}
