// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"strobe/internal/log"

	"github.com/gorilla/websocket"
)

// ErrTransportClosed is returned by Send after Close.
var ErrTransportClosed = errors.New("transport closed")

const (
	broadcastQueue = 64
	writeTimeout   = time.Second
	maxCommandSize = 4096
)

// CommandFunc handles one text message received from a client.
type CommandFunc func(data []byte) error

// WebSocketTransport broadcasts every value passed to Send as JSON to all
// connected clients and hands client messages to an optional CommandFunc.
// It is an http.Handler; mount it on any mux.
type WebSocketTransport struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]struct{}
	clientsMu sync.Mutex
	broadcast chan any
	commands  CommandFunc

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// NewWebSocketTransport starts the broadcast loop. commands may be nil.
func NewWebSocketTransport(commands CommandFunc) *WebSocketTransport {
	wst := &WebSocketTransport{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Render collaborators are served from anywhere.
			},
		},
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan any, broadcastQueue),
		commands:  commands,
		closed:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	go wst.handleBroadcasts()
	return wst
}

// ServeHTTP upgrades the connection and registers the client.
func (wst *WebSocketTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-wst.closed:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("WebSocketTransport: Upgrade error: %v", err)
		return
	}
	conn.SetReadLimit(maxCommandSize)

	wst.clientsMu.Lock()
	select {
	case <-wst.closed:
		wst.clientsMu.Unlock()
		conn.Close()
		return
	default:
	}
	wst.clients[conn] = struct{}{}
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	log.Infof("WebSocketTransport: Client %s connected, total: %d", conn.RemoteAddr(), total)

	go wst.readCommands(conn)
}

// readCommands runs until the client goes away.
func (wst *WebSocketTransport) readCommands(conn *websocket.Conn) {
	defer wst.drop(conn)
	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage || wst.commands == nil {
			continue
		}
		if err := wst.commands(data); err != nil {
			log.Warnf("WebSocketTransport: Command from %s failed: %v", conn.RemoteAddr(), err)
		}
	}
}

func (wst *WebSocketTransport) drop(conn *websocket.Conn) {
	wst.clientsMu.Lock()
	_, ok := wst.clients[conn]
	delete(wst.clients, conn)
	total := len(wst.clients)
	wst.clientsMu.Unlock()

	conn.Close()
	if ok {
		log.Infof("WebSocketTransport: Client disconnected, total: %d", total)
	}
}

// handleBroadcasts sends queued values to every client. A client that
// cannot keep up within writeTimeout is disconnected.
func (wst *WebSocketTransport) handleBroadcasts() {
	defer close(wst.done)
	for {
		var data any
		select {
		case data = <-wst.broadcast:
		case <-wst.closed:
			return
		}

		wst.clientsMu.Lock()
		for client := range wst.clients {
			client.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := client.WriteJSON(data); err != nil {
				log.Warnf("WebSocketTransport: Error sending to client: %v", err)
				client.Close()
				delete(wst.clients, client)
			}
		}
		wst.clientsMu.Unlock()
	}
}

// Clients returns the number of connected clients.
func (wst *WebSocketTransport) Clients() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

// Send queues data for broadcast. When the queue is full the value is
// dropped; the next display tick supersedes it anyway.
func (wst *WebSocketTransport) Send(data any) error {
	select {
	case <-wst.closed:
		return ErrTransportClosed
	default:
	}
	select {
	case wst.broadcast <- data:
	default:
		log.Debugf("WebSocketTransport: Queue full, dropping message")
	}
	return nil
}

// Close stops broadcasting and disconnects every client.
func (wst *WebSocketTransport) Close() error {
	wst.closeOnce.Do(func() {
		log.Infof("WebSocketTransport: Closing")
		close(wst.closed)
		<-wst.done

		wst.clientsMu.Lock()
		for client := range wst.clients {
			client.Close()
		}
		clear(wst.clients)
		wst.clientsMu.Unlock()
	})
	return nil
}

// Ensure WebSocketTransport satisfies the interfaces
var (
	_ Transport    = (*WebSocketTransport)(nil)
	_ http.Handler = (*WebSocketTransport)(nil)
)
