// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	applog "instrument/internal/log"
)

const (
	broadcastQueue = 64
	writeTimeout   = time.Second
)

// WebSocketTransport serves /ws and broadcasts every report to the connected
// clients as a JSON text message. Slow clients are dropped, never waited on.
type WebSocketTransport struct {
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]struct{}
	clientsMu sync.Mutex
	broadcast chan *websocket.PreparedMessage
	listener  net.Listener
	server    *http.Server
	closeOnce sync.Once
	done      chan struct{}
	dropped   uint64
}

// NewWebSocketTransport listens on addr and starts serving. An addr with
// port 0 picks a free port; see Addr.
func NewWebSocketTransport(addr string) (*WebSocketTransport, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	wst := &WebSocketTransport{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // local monitoring pages are served from anywhere
			},
		},
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan *websocket.PreparedMessage, broadcastQueue),
		listener:  ln,
		done:      make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wst.handleWebSocket)
	wst.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		applog.Infof("WebSocketTransport: Serving on ws://%s/ws", ln.Addr())
		if err := wst.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			applog.Errorf("WebSocketTransport: Server error: %v", err)
		}
	}()
	go wst.handleBroadcasts()
	return wst, nil
}

// Addr returns the address the server is bound to.
func (wst *WebSocketTransport) Addr() net.Addr {
	return wst.listener.Addr()
}

// Clients returns the number of connected clients.
func (wst *WebSocketTransport) Clients() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

func (wst *WebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Warnf("WebSocketTransport: Upgrade error: %v", err)
		return
	}

	wst.clientsMu.Lock()
	wst.clients[conn] = struct{}{}
	n := len(wst.clients)
	wst.clientsMu.Unlock()
	applog.Infof("WebSocketTransport: Client %s connected, total: %d", conn.RemoteAddr(), n)

	// Clients only listen; the read loop exists to notice the disconnect.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				wst.removeClient(conn)
				return
			}
		}
	}()
}

func (wst *WebSocketTransport) removeClient(conn *websocket.Conn) {
	wst.clientsMu.Lock()
	_, ok := wst.clients[conn]
	delete(wst.clients, conn)
	n := len(wst.clients)
	wst.clientsMu.Unlock()
	if ok {
		conn.Close()
		applog.Infof("WebSocketTransport: Client disconnected, total: %d", n)
	}
}

func (wst *WebSocketTransport) handleBroadcasts() {
	for {
		select {
		case <-wst.done:
			return
		case msg := <-wst.broadcast:
			wst.clientsMu.Lock()
			for client := range wst.clients {
				_ = client.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := client.WritePreparedMessage(msg); err != nil {
					applog.Warnf("WebSocketTransport: Error sending to client: %v", err)
					client.Close()
					delete(wst.clients, client)
				}
			}
			wst.clientsMu.Unlock()
		}
	}
}

// Send queues data for broadcast. When the queue is full the report is
// dropped and counted.
func (wst *WebSocketTransport) Send(data any) error {
	select {
	case <-wst.done:
		return errors.New("websocket transport is closed")
	default:
	}

	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %T: %w", data, err)
	}
	msg, err := websocket.NewPreparedMessage(websocket.TextMessage, b)
	if err != nil {
		return err
	}

	select {
	case wst.broadcast <- msg:
	default:
		wst.clientsMu.Lock()
		wst.dropped++
		wst.clientsMu.Unlock()
	}
	return nil
}

// Dropped returns the number of reports discarded on a full queue.
func (wst *WebSocketTransport) Dropped() uint64 {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return wst.dropped
}

// Close disconnects every client and shuts the server down. Idempotent.
func (wst *WebSocketTransport) Close() error {
	var err error
	wst.closeOnce.Do(func() {
		applog.Infof("WebSocketTransport: Closing server")
		close(wst.done)

		wst.clientsMu.Lock()
		for client := range wst.clients {
			client.Close()
		}
		clear(wst.clients)
		wst.clientsMu.Unlock()

		err = wst.server.Close()
	})
	return err
}

var _ Transport = (*WebSocketTransport)(nil)
