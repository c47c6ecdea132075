package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 512
	broadcastQueue = 256
)

// WelcomeFunc returns the messages a newly connected client needs to catch
// up with the current session.
type WelcomeFunc func(ctx context.Context) ([]any, error)

// CatchUpFunc is called while broadcasts are held back, so its result lines
// up exactly with what the client receives next. It must not block.
type CatchUpFunc func() any

// logSequenced messages are numbered in publication order. A client that
// joined with history up to some number is not sent those at or below it.
type logSequenced interface {
	LogSeq() uint64
}

// Hub fans dashboard messages out to every connected WebSocket client.
type Hub struct {
	clients    map[*websocket.Conn]uint64
	broadcast  chan any
	upgrader   websocket.Upgrader
	clientsMux sync.Mutex
	welcome    WelcomeFunc
	catchUp    CatchUpFunc
	logger     *slog.Logger
	done       chan struct{}
	closeOnce  sync.Once
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]uint64),
		broadcast: make(chan any, broadcastQueue),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
		done:   make(chan struct{}),
	}
}

// SetWelcome installs the sources of the messages sent to joining clients.
// Either may be nil. It must be called before serving connections.
func (h *Hub) SetWelcome(welcome WelcomeFunc, catchUp CatchUpFunc) {
	h.welcome = welcome
	h.catchUp = catchUp
}

// Publish queues msg for every client. It blocks while the queue is full and
// returns immediately once the hub has stopped.
func (h *Hub) Publish(msg any) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer h.closeOnce.Do(func() { close(h.done) })

	for {
		select {
		case <-ctx.Done():
			h.clientsMux.Lock()
			for client := range h.clients {
				_ = client.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(time.Second))
				client.Close()
				delete(h.clients, client)
			}
			h.clientsMux.Unlock()
			return
		case msg := <-h.broadcast:
			h.send(msg)
		}
	}
}

func (h *Hub) send(msg any) {
	message, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("error marshaling message", "err", err)
		return
	}

	seq, sequenced := logSeq(msg)

	h.clientsMux.Lock()
	defer h.clientsMux.Unlock()
	for client, floor := range h.clients {
		if sequenced && seq <= floor {
			continue
		}
		if err := h.write(client, message); err != nil {
			h.logger.Warn("websocket write failed", "remote", client.RemoteAddr().String(), "err", err)
			client.Close()
			delete(h.clients, client)
		}
	}
}

func (h *Hub) write(client *websocket.Conn, message []byte) error {
	if err := client.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return client.WriteMessage(websocket.TextMessage, message)
}

func logSeq(msg any) (uint64, bool) {
	if m, ok := msg.(logSequenced); ok {
		return m.LogSeq(), true
	}
	return 0, false
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.clientsMux.Lock()
	defer h.clientsMux.Unlock()
	return len(h.clients)
}

func (h *Hub) HandleConnections(w http.ResponseWriter, r *http.Request) {
	var welcome []any
	if h.welcome != nil {
		msgs, err := h.welcome(r.Context())
		if err != nil {
			h.logger.Error("building welcome messages", "err", err)
			http.Error(w, "dashboard unavailable", http.StatusServiceUnavailable)
			return
		}
		welcome = msgs
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade error", "err", err)
		return
	}
	defer ws.Close()

	h.clientsMux.Lock()
	if h.catchUp != nil {
		welcome = append(welcome, h.catchUp())
	}
	var floor uint64
	for _, msg := range welcome {
		if seq, ok := logSeq(msg); ok && seq > floor {
			floor = seq
		}
		message, err := json.Marshal(msg)
		if err != nil {
			h.logger.Error("error marshaling message", "err", err)
			continue
		}
		if err := h.write(ws, message); err != nil {
			h.clientsMux.Unlock()
			h.logger.Warn("websocket write failed", "remote", ws.RemoteAddr().String(), "err", err)
			return
		}
	}
	h.clients[ws] = floor
	h.clientsMux.Unlock()

	h.logger.Info("websocket client connected", "remote", ws.RemoteAddr().String())
	defer func() {
		h.clientsMux.Lock()
		delete(h.clients, ws)
		h.clientsMux.Unlock()
		h.logger.Info("websocket client disconnected", "remote", ws.RemoteAddr().String())
	}()

	// Clients never send anything meaningful; reading keeps close frames flowing.
	ws.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read error", "err", err)
			}
			break
		}
	}
}
