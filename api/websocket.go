package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

// Message types sent to dashboard clients.
const (
	MsgBatch = "batch" // a scan table has a new batch
	MsgPong  = "pong"
)

// WSMessage is a message sent over WebSocket connections.
type WSMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// BatchEvent announces that a scan table received a new batch.
type BatchEvent struct {
	Table       string    `json:"table"`
	ScanBatchAt time.Time `json:"scan_batch_at"`
}

// WSHub fans messages out to connected dashboard clients. Only the hub
// ends a client: it closes the client's done channel, never its send queue.
type WSHub struct {
	mu         sync.RWMutex
	clients    map[*WSClient]bool
	broadcast  chan WSMessage
	register   chan *WSClient
	unregister chan *WSClient
	quit       chan struct{} // closed when Run returns
	quitOnce   sync.Once
	pumps      sync.WaitGroup
	log        *zap.Logger
}

// WSClient represents a single WebSocket connection.
type WSClient struct {
	hub  *WSHub
	send chan WSMessage
	done chan struct{}
	once sync.Once
}

func newWSClient(h *WSHub) *WSClient {
	return &WSClient{hub: h, send: make(chan WSMessage, 16), done: make(chan struct{})}
}

func (c *WSClient) close() { c.once.Do(func() { close(c.done) }) }

// queue offers msg to the client without blocking. It reports false when
// the queue is full or the client has been dropped.
func (c *WSClient) queue(msg WSMessage) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(log *zap.Logger) *WSHub {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan WSMessage, 64),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		quit:       make(chan struct{}),
		log:        log,
	}
}

// Run is the hub event loop. It returns when ctx is done, closing every
// client.
func (h *WSHub) Run(ctx context.Context) {
	defer h.quitOnce.Do(func() { close(h.quit) })
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				c.close()
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.drop(c)
		case msg := <-h.broadcast:
			var slow []*WSClient
			h.mu.RLock()
			for c := range h.clients {
				if !c.queue(msg) {
					slow = append(slow, c)
				}
			}
			h.mu.RUnlock()
			for _, c := range slow {
				h.log.Debug("dropping slow websocket client")
				h.drop(c)
			}
		}
	}
}

func (h *WSHub) drop(c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	c.close()
}

// Broadcast queues msg for every client. Full queues drop the message.
func (h *WSHub) Broadcast(msg WSMessage) {
	select {
	case h.broadcast <- msg:
	default:
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Wait blocks until every client pump has exited or ctx is done.
func (h *WSHub) Wait(ctx context.Context) error {
	idle := make(chan struct{})
	go func() {
		h.pumps.Wait()
		close(idle)
	}()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleWebSocket upgrades the connection and streams batch events.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newWSClient(s.hub)
	select {
	case s.hub.register <- client:
	case <-s.hub.quit:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	s.hub.pumps.Add(2)
	go wsWritePump(conn, client)
	go wsReadPump(conn, client)
}

// wsReadPump handles pings from the client until the connection drops.
func wsReadPump(conn *websocket.Conn, client *WSClient) {
	hub := client.hub
	defer func() {
		select {
		case hub.unregister <- client:
		case <-hub.quit:
		}
		conn.Close()
		hub.pumps.Done()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				hub.log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		var msg WSMessage
		if json.Unmarshal(raw, &msg) == nil && msg.Type == "ping" {
			client.queue(WSMessage{Type: MsgPong})
		}
	}
}

// wsWritePump writes queued messages and keepalive pings until the hub
// drops the client.
func wsWritePump(conn *websocket.Conn, client *WSClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
		client.hub.pumps.Done()
	}()

	for {
		select {
		case <-client.done:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// watchBatches polls the store and broadcasts a BatchEvent whenever a scan
// table's newest batch changes.
func (s *Server) watchBatches(ctx context.Context) {
	seen := map[string]time.Time{}
	if first, err := s.reports.LatestBatches(ctx); err == nil {
		seen = first
	}

	t := time.NewTicker(s.watchEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		for _, ev := range s.pollBatches(ctx, seen) {
			s.hub.Broadcast(WSMessage{Type: MsgBatch, Data: ev})
		}
	}
}

// pollBatches returns events for tables whose batch moved past seen and
// updates seen in place.
func (s *Server) pollBatches(ctx context.Context, seen map[string]time.Time) []BatchEvent {
	cur, err := s.reports.LatestBatches(ctx)
	if err != nil {
		s.log.Debug("batch poll failed", zap.Error(err))
		return nil
	}
	var events []BatchEvent
	for _, table := range []string{"option_trades", "volatility_analyses", "csp_suggestions"} {
		at, ok := cur[table]
		if !ok || !at.After(seen[table]) {
			continue
		}
		seen[table] = at
		events = append(events, BatchEvent{Table: table, ScanBatchAt: at})
	}
	return events
}
