// SPDX-License-Identifier: MIT
package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type testFrame struct {
	Seq  uint64 `json:"seq"`
	Note string `json:"note"`
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocketBroadcast(t *testing.T) {
	wst := NewWebSocketTransport(nil)
	defer wst.Close()
	srv := httptest.NewServer(wst)
	defer srv.Close()

	a := dial(t, srv)
	b := dial(t, srv)
	waitFor(t, "two clients", func() bool { return wst.Clients() == 2 })

	if err := wst.Send(testFrame{Seq: 7, Note: "A4"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	for i, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got testFrame
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("client %d ReadJSON: %v", i, err)
		}
		if got.Seq != 7 || got.Note != "A4" {
			t.Errorf("client %d received %+v", i, got)
		}
	}
}

func TestWebSocketCommands(t *testing.T) {
	received := make(chan string, 2)
	wst := NewWebSocketTransport(func(data []byte) error {
		received <- string(data)
		if strings.Contains(string(data), "bad") {
			return errors.New("rejected")
		}
		return nil
	})
	defer wst.Close()
	srv := httptest.NewServer(wst)
	defer srv.Close()

	conn := dial(t, srv)
	for _, msg := range []string{`{"op":"bad"}`, `{"op":"toggle_freeze"}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("WriteMessage: %v", err)
		}
	}

	for _, want := range []string{`{"op":"bad"}`, `{"op":"toggle_freeze"}`} {
		select {
		case got := <-received:
			if got != want {
				t.Errorf("command = %s, want %s", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("command not delivered")
		}
	}
	// A rejected command does not disconnect the client.
	if wst.Clients() != 1 {
		t.Errorf("Clients() = %d, want 1", wst.Clients())
	}
}

func TestWebSocketDisconnect(t *testing.T) {
	wst := NewWebSocketTransport(nil)
	defer wst.Close()
	srv := httptest.NewServer(wst)
	defer srv.Close()

	conn := dial(t, srv)
	waitFor(t, "client", func() bool { return wst.Clients() == 1 })
	conn.Close()
	waitFor(t, "disconnect", func() bool { return wst.Clients() == 0 })
}

func TestWebSocketClose(t *testing.T) {
	wst := NewWebSocketTransport(nil)
	srv := httptest.NewServer(wst)
	defer srv.Close()

	conn := dial(t, srv)
	waitFor(t, "client", func() bool { return wst.Clients() == 1 })

	if err := wst.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := wst.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := wst.Send(testFrame{}); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Send after Close = %v, want ErrTransportClosed", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("client connection should be closed")
	}

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status after Close = %d, want 503", resp.StatusCode)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NewServeMux()}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Serve(ctx, srv) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve = %v, want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServeReportsListenError(t *testing.T) {
	srv := &http.Server{Addr: "256.0.0.1:bad"}
	if err := Serve(context.Background(), srv); err == nil {
		t.Error("expected a listen error")
	}
}
