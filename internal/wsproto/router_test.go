package wsproto

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func newTestServerConn(t *testing.T, router *Router) (*Conn, *Session) {
	t.Helper()

	serverReady := make(chan *Session, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		conn := NewConn(ws)
		sess := NewSession(conn)
		serverReady <- sess
		_ = router.Serve(context.Background(), sess)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + srv.URL[len("http"):]
	clientWS, _, err := websocket.Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = clientWS.Close(websocket.StatusNormalClosure, "") })

	select {
	case sess := <-serverReady:
		return NewConn(clientWS), sess
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server session")
		return nil, nil
	}
}

func TestDispatchRejectsUnauthenticatedNonPublicEvent(t *testing.T) {
	router := NewRouter()
	router.Handle("deployStack", func(ctx context.Context, s *Session, args []json.RawMessage) (any, error) {
		return map[string]bool{"ok": true}, nil
	})

	clientConn, _ := newTestServerConn(t, router)
	ctx := context.Background()

	if err := clientConn.WriteFrame(ctx, Frame{ID: "1", Event: "deployStack"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply, err := clientConn.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.OK {
		t.Fatalf("expected unauthenticated call to be rejected")
	}
	if reply.Msg == "" {
		t.Fatalf("expected a rejection message")
	}
}

func TestDispatchAllowsPublicEventAndReturnsData(t *testing.T) {
	router := NewRouter()
	router.Handle("setup", func(ctx context.Context, s *Session, args []json.RawMessage) (any, error) {
		s.Authenticate(1)
		return map[string]string{"token": "abc"}, nil
	})

	clientConn, _ := newTestServerConn(t, router)
	ctx := context.Background()

	if err := clientConn.WriteFrame(ctx, Frame{ID: "1", Event: "setup"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply, err := clientConn.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if !reply.OK {
		t.Fatalf("expected setup to succeed, got msg=%q", reply.Msg)
	}
}

func TestDispatchUnknownEventRepliesError(t *testing.T) {
	router := NewRouter()
	clientConn, _ := newTestServerConn(t, router)
	ctx := context.Background()

	if err := clientConn.WriteFrame(ctx, Frame{ID: "1", Event: "doesNotExist"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply, err := clientConn.ReadFrame(ctx)
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.OK {
		t.Fatalf("expected unknown event to fail")
	}
}

func ExampleRouter_Handle() {
	router := NewRouter()
	router.Handle("boom", func(ctx context.Context, s *Session, args []json.RawMessage) (any, error) {
		return nil, fmt.Errorf("boom: bad input")
	})
	fmt.Println(len(router.handlers))
	// Output: 1
}
