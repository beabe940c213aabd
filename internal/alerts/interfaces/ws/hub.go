package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"beacon-guard/internal/alerts/notify"
	"beacon-guard/internal/observability/metrics"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	clientBuffer = 32

	ackMessage      = "WebSocket context set successfully"
	notReadyMessage = "Positioning system not initialized"
)

// Hub fans out live alerts to connected websocket clients. Slow clients
// miss messages rather than block the sender.
type Hub struct {
	mu      sync.Mutex
	clients map[chan []byte]struct{}
	logger  *log.Logger
}

// NewHub constructs a hub.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{clients: make(map[chan []byte]struct{}), logger: logger}
}

// Notify implements notify.Notifier.
func (h *Hub) Notify(_ context.Context, n notify.Notification) error {
	if h == nil {
		return errors.New("ws hub: nil hub")
	}
	payload, err := json.Marshal(n.WireMessage())
	if err != nil {
		return err
	}
	h.broadcast(payload)
	return nil
}

// Subscribe registers a new client channel.
func (h *Hub) Subscribe() chan []byte {
	if h == nil {
		return nil
	}
	ch := make(chan []byte, clientBuffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetWebsocketClients(n)
	return ch
}

// Unsubscribe removes a client channel.
func (h *Hub) Unsubscribe(ch chan []byte) {
	if h == nil || ch == nil {
		return
	}
	h.mu.Lock()
	if _, ok := h.clients[ch]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, ch)
	n := len(h.clients)
	h.mu.Unlock()
	close(ch)
	metrics.SetWebsocketClients(n)
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) broadcast(payload []byte) {
	h.mu.Lock()
	clients := make([]chan []byte, 0, len(h.clients))
	for ch := range h.clients {
		clients = append(clients, ch)
	}
	h.mu.Unlock()
	for _, ch := range clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// ReadyFunc reports whether the engine has a registry snapshot.
type ReadyFunc func() bool

// Handler upgrades GET /status to a live-push websocket.
type Handler struct {
	hub      *Hub
	ready    ReadyFunc
	upgrader websocket.Upgrader
	logger   *log.Logger
}

// NewHandler constructs the websocket handler.
func NewHandler(hub *Hub, ready ReadyFunc, logger *log.Logger) (*Handler, error) {
	if hub == nil {
		return nil, errors.New("ws handler: nil hub")
	}
	if ready == nil {
		ready = func() bool { return true }
	}
	if logger == nil {
		logger = hub.logger
	}
	return &Handler{
		hub:   hub,
		ready: ready,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}, nil
}

type subscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *subscriber) write(messageType int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, data)
}

func (s *subscriber) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, data)
}

// ServeHTTP handles the upgrade and pumps messages until the client leaves.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("ws: upgrade error err=%v", err)
		return
	}
	defer conn.Close()
	sub := &subscriber{conn: conn}

	if !h.ready() {
		_ = sub.writeJSON(map[string]string{"error": notReadyMessage})
		_ = sub.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, notReadyMessage))
		return
	}

	ch := h.hub.Subscribe()
	defer h.hub.Unsubscribe(ch)

	if err := sub.writeJSON(map[string]string{"message": ackMessage}); err != nil {
		return
	}

	done := make(chan struct{})
	go h.readPump(conn, done)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				return
			}
			if err := sub.write(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := sub.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// readPump drains client frames so control messages are processed.
func (h *Handler) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
