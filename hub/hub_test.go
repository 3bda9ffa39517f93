package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	h := New(nil)
	go h.Run()
	srv := httptest.NewServer(http.HandlerFunc(h.HandleConnect))
	t.Cleanup(srv.Close)
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return evt
}

func TestBroadcastReachesClient(t *testing.T) {
	h, srv := newTestHub(t)
	conn := dial(t, srv, "")

	// Give the register message time to land before broadcasting.
	time.Sleep(50 * time.Millisecond)
	h.Broadcast(Event{Type: "run.status", Target: "web-1", Payload: "running"})

	evt := readEvent(t, conn)
	if evt.Type != "run.status" || evt.Target != "web-1" {
		t.Errorf("got %+v", evt)
	}
}

func TestTargetFilter(t *testing.T) {
	h, srv := newTestHub(t)
	conn := dial(t, srv, "?target=web-2")

	time.Sleep(50 * time.Millisecond)
	h.Broadcast(Event{Type: "run.status", Target: "web-1", Payload: "running"})
	h.Broadcast(Event{Type: "run.status", Target: "web-2", Payload: "running"})

	evt := readEvent(t, conn)
	if evt.Target != "web-2" {
		t.Errorf("filtered client got event for %q", evt.Target)
	}
}

func TestReplayOnConnect(t *testing.T) {
	h, srv := newTestHub(t)

	h.Broadcast(Event{Type: "run.stage", Target: "web-1", Payload: "deploy"})
	// Let Run drain the broadcast into the replay ring.
	time.Sleep(50 * time.Millisecond)

	conn := dial(t, srv, "")
	evt := readEvent(t, conn)
	if evt.Type != "run.stage" {
		t.Errorf("expected replayed event, got %+v", evt)
	}
}
