// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"net/http"
	"sync"

	"beatflux/internal/onset"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// OnsetPath is the endpoint clients connect to.
const OnsetPath = "/onset"

// Message is the JSON envelope written to WebSocket clients.
type Message struct {
	Type string `json:"type"` // "peak", "sample" or "event".
	Data any    `json:"data"`
}

// WebSocketTransport broadcasts messages as JSON to every connected client.
// Non-peak samples are rate limited, peaks always pass the limiter.
type WebSocketTransport struct {
	addr      string
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan Message
	limiter   *rate.Limiter
	server    *http.Server
	done      chan struct{}
	closeOnce sync.Once
}

// NewWebSocketTransport creates a transport that will serve on addr. maxRate
// caps non-peak samples per second, zero or less disables the cap. Call
// Start to begin listening, or mount Handler on an existing server.
func NewWebSocketTransport(addr string, maxRate float64) *WebSocketTransport {
	limit := rate.Inf
	if maxRate > 0 {
		limit = rate.Limit(maxRate)
	}
	wst := &WebSocketTransport{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Local visualizers connect from file:// and dev servers.
			},
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 256),
		limiter:   rate.NewLimiter(limit, 1),
		done:      make(chan struct{}),
	}
	go wst.handleBroadcasts()
	return wst
}

// Handler returns the HTTP handler serving OnsetPath.
func (wst *WebSocketTransport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(OnsetPath, wst.handleWebSocket)
	return mux
}

// Start begins serving on the configured address in the background.
func (wst *WebSocketTransport) Start() {
	wst.server = &http.Server{
		Addr:    wst.addr,
		Handler: wst.Handler(),
	}
	go func() {
		logger.Infof("starting WebSocket server on %s%s", wst.addr, OnsetPath)
		if err := wst.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("WebSocket server error: %v", err)
		}
	}()
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (wst *WebSocketTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wst.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("upgrade error: %v", err)
		return
	}

	wst.clientsMu.Lock()
	wst.clients[conn] = true
	total := len(wst.clients)
	wst.clientsMu.Unlock()
	logger.Infof("client connected, total: %d", total)

	// Clients never send, a read error means the connection is gone.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				wst.drop(conn)
				return
			}
		}
	}()
}

func (wst *WebSocketTransport) drop(conn *websocket.Conn) {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	if !wst.clients[conn] {
		return
	}
	delete(wst.clients, conn)
	conn.Close()
	logger.Infof("client disconnected, total: %d", len(wst.clients))
}

// Clients returns the number of connected clients.
func (wst *WebSocketTransport) Clients() int {
	wst.clientsMu.Lock()
	defer wst.clientsMu.Unlock()
	return len(wst.clients)
}

// handleBroadcasts sends messages to all connected clients
func (wst *WebSocketTransport) handleBroadcasts() {
	for {
		select {
		case <-wst.done:
			return
		case msg := <-wst.broadcast:
			wst.clientsMu.Lock()
			for client := range wst.clients {
				if err := client.WriteJSON(msg); err != nil {
					logger.Warnf("error sending to client: %v", err)
					client.Close()
					delete(wst.clients, client)
				}
			}
			wst.clientsMu.Unlock()
		}
	}
}

// Send queues data for broadcast without blocking. Samples that are not
// peaks are dropped when the rate limit is exceeded or the queue is full.
func (wst *WebSocketTransport) Send(data any) error {
	msg := Message{Type: "event", Data: data}
	if s, ok := data.(onset.Sample); ok {
		msg.Type = "sample"
		if s.Peak() {
			msg.Type = "peak"
		} else if !wst.limiter.Allow() {
			return nil
		}
	}

	select {
	case <-wst.done:
		return ErrTransportClosed
	case wst.broadcast <- msg:
	default:
		if msg.Type == "peak" {
			logger.Warnf("broadcast queue full, peak %v not delivered", msg.Data.(onset.Sample).Index)
		}
	}
	return nil
}

// Close shuts down the WebSocket server and disconnects all clients.
func (wst *WebSocketTransport) Close() error {
	var err error
	wst.closeOnce.Do(func() {
		logger.Infof("closing WebSocket server")
		close(wst.done)

		wst.clientsMu.Lock()
		for client := range wst.clients {
			client.Close()
		}
		wst.clients = make(map[*websocket.Conn]bool)
		wst.clientsMu.Unlock()

		if wst.server != nil {
			err = wst.server.Close()
		}
	})
	return err
}

// ErrTransportClosed is returned by Send after Close.
var ErrTransportClosed = errors.New("transport closed")

// Ensure WebSocketTransport satisfies the interface
var _ Transport = (*WebSocketTransport)(nil)
