package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Ashenafi-pixel/gamecrafter-crash-engine/engine"
	"github.com/Ashenafi-pixel/gamecrafter-crash-engine/logger"
)

// Client commands.
const (
	cmdBetPlace   = "bet:place"
	cmdBetCashout = "bet:cashout"
)

const (
	sendBuffer   = 64
	writeWait    = 5 * time.Second
	maxFrameSize = 4096
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the frame format in both directions. Acks echo the command's ID.
type Message struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string      `json:"event"`
	ID    string      `json:"id,omitempty"`
	Data  interface{} `json:"data"`
}

type Ack struct {
	OK         bool    `json:"ok"`
	Error      string  `json:"error,omitempty"`
	Code       string  `json:"code,omitempty"`
	Multiplier float64 `json:"multiplier,omitempty"`
}

// Hub fans engine events out to every connected socket. A client that cannot
// keep up misses events rather than slowing the engine.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
	log     *zap.SugaredLogger
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{clients: make(map[*client]struct{}), log: logger.OrNop(log)}
}

// Broadcast implements engine.Broadcaster.
func (h *Hub) Broadcast(event string, payload interface{}) {
	msg, err := json.Marshal(outbound{Event: event, Data: payload})
	if err != nil {
		h.log.Errorw("encode broadcast", "event", event, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.trySend(msg)
	}
}

func (h *Hub) add(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// sendTo queues msg for one client if it is still connected.
func (h *Hub) sendTo(c *client, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; ok {
		c.trySend(msg)
	}
}

func (h *Hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// trySend queues msg without blocking. Caller must hold the hub lock.
func (c *client) trySend(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("websocket upgrade failed", "error", err)
		return
	}
	c := &client{userID: userID(r), conn: conn, send: make(chan []byte, sendBuffer)}
	if !s.hub.add(c) {
		_ = conn.Close()
		return
	}
	s.log.Debugw("websocket connected", "userId", c.userID, "clients", s.hub.count())

	if msg, err := json.Marshal(outbound{Event: engine.EventState, Data: s.engine.State()}); err == nil {
		s.hub.sendTo(c, msg)
	}
	go c.writePump(s.log)
	s.readPump(c)
}

func (c *client) writePump(log *zap.SugaredLogger) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Debugw("websocket write failed", "userId", c.userID, "error", err)
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (s *Server) readPump(c *client) {
	defer func() {
		s.hub.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debugw("websocket read ended", "userId", c.userID, "error", err)
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.log.Debugw("invalid websocket frame", "userId", c.userID, "error", err)
			continue
		}
		ack, ok := s.command(c.userID, msg)
		if !ok {
			continue
		}
		reply, err := json.Marshal(outbound{Event: msg.Event + ":ack", ID: msg.ID, Data: ack})
		if err != nil {
			continue
		}
		s.hub.sendTo(c, reply)
	}
}

// command runs one client command to its outcome; there is no deadline. ok is
// false for unknown events.
func (s *Server) command(user string, msg Message) (ack Ack, ok bool) {
	ctx := context.Background()
	switch msg.Event {
	case cmdBetPlace:
		var body struct {
			Amount decimal.Decimal `json:"amount"`
		}
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &body); err != nil {
				return Ack{Error: "invalid amount", Code: engine.ErrInvalidAmount.Code}, true
			}
		}
		return ackFor(s.placeBet(ctx, user, body.Amount), 0), true
	case cmdBetCashout:
		m, err := s.cashout(ctx, user)
		return ackFor(err, m), true
	default:
		s.log.Debugw("unknown websocket event", "userId", user, "event", msg.Event)
		return Ack{}, false
	}
}

func ackFor(err error, multiplier float64) Ack {
	if err == nil {
		return Ack{OK: true, Multiplier: multiplier}
	}
	var rej *engine.Rejection
	if errors.As(err, &rej) {
		return Ack{Error: rej.Reason, Code: rej.Code}
	}
	return Ack{Error: "internal error", Code: "INTERNAL"}
}
