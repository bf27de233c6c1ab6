package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/ragscale/api/internal/model"
)

const (
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

var errClientGone = errors.New("websocket client gone")

// Streamer produces the status stream of one batch
type Streamer interface {
	Stream(ctx context.Context, userID, batchID string, emit func(model.ProgressEvent) error) error
}

// Client represents a WebSocket client
type Client struct {
	BatchID string
	UserID  string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	once    sync.Once
	// closed by the writer on exit; the conn is pooled once the handler returns
	writerDone chan struct{}
}

func (cl *Client) enqueue(msg []byte) bool {
	select {
	case cl.send <- msg:
		return true
	case <-cl.done:
		return false
	}
}

func (cl *Client) close() {
	cl.once.Do(func() { close(cl.done) })
}

// Hub tracks status stream connections and relays each one's batch stream.
type Hub struct {
	streamer Streamer
	logger   *slog.Logger

	// Clients grouped by batch ID
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	stopped    chan struct{}

	// writer goroutines still running
	writers atomic.Int64

	mu sync.RWMutex
}

// NewHub creates a new Hub. Run must be started before connections are served.
func NewHub(streamer Streamer, logger *slog.Logger) *Hub {
	return &Hub{
		streamer:   streamer,
		logger:     logger,
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
	}
}

// Run maintains the client registry until ctx ends
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.BatchID] == nil {
				h.clients[client.BatchID] = make(map[*Client]bool)
			}
			h.clients[client.BatchID][client] = true
			h.mu.Unlock()
			h.logger.Debug("status client registered", "batch_id", client.BatchID)

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.BatchID]; ok {
				delete(clients, client)
				if len(clients) == 0 {
					delete(h.clients, client.BatchID)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("status client unregistered", "batch_id", client.BatchID)
		}
	}
}

// Connections returns the number of open status connections
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.clients {
		n += len(clients)
	}
	return n
}

// HandleConnection relays the batch's status stream to c until the stream
// ends or the peer disconnects. The caller has already authorized the user.
func (h *Hub) HandleConnection(c *websocket.Conn, userID, batchID string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &Client{
		BatchID:    batchID,
		UserID:     userID,
		conn:       c,
		send:       make(chan []byte, 16),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}

	select {
	case h.register <- client:
	case <-h.stopped:
		_ = c.Close()
		return
	}
	defer func() {
		select {
		case h.unregister <- client:
		case <-h.stopped:
		}
	}()
	defer func() {
		client.close()
		<-client.writerDone
	}()

	h.writers.Add(1)
	go h.write(client)
	go h.relay(ctx, client)

	// Reader loop
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read failed", "batch_id", batchID, "error", err)
			}
			return
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == model.WSMessageTypePing {
			data, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			if !client.enqueue(data) {
				return
			}
		}
	}
}

func (h *Hub) relay(ctx context.Context, client *Client) {
	err := h.streamer.Stream(ctx, client.UserID, client.BatchID, func(ev model.ProgressEvent) error {
		data, err := json.Marshal(model.WSProgressMessage{
			Type:    model.WSMessageTypeProgress,
			BatchID: client.BatchID,
			Event:   ev,
		})
		if err != nil {
			return err
		}
		if !client.enqueue(data) {
			return errClientGone
		}
		return nil
	})
	if err != nil && !errors.Is(err, errClientGone) && ctx.Err() == nil {
		h.logger.Error("status stream failed", "batch_id", client.BatchID, "error", err)
		data, _ := json.Marshal(model.WSErrorMessage{
			Type:    model.WSMessageTypeError,
			BatchID: client.BatchID,
			Error:   model.WSError{Code: "STREAM_ERROR", Message: "Status stream interrupted"},
		})
		client.enqueue(data)
	}
	// nil asks the writer to close the connection
	client.enqueue(nil)
}

// write is the only goroutine writing to the connection. It never outlives
// HandleConnection.
func (h *Hub) write(client *Client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		h.writers.Add(-1)
		close(client.writerDone)
	}()

	for {
		select {
		case <-client.done:
			return

		case message := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if message == nil {
				_ = client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream complete"))
				_ = client.conn.Close()
				client.close()
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				client.close()
				return
			}

		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				client.close()
				return
			}
		}
	}
}
