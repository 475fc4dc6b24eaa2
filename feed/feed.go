// Package feed mirrors engine events to websocket clients and accepts run
// control and settings changes from them.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nstehr/vimy/vimy-farm/agent"
	"github.com/nstehr/vimy/vimy-farm/events"
	"github.com/nstehr/vimy/vimy-farm/farm"
	"github.com/nstehr/vimy/vimy-farm/ipc"
	"github.com/nstehr/vimy/vimy-farm/settings"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

const (
	TypeStatus = "status"
	TypeAck    = "ack"
)

// Engine is the part of *farm.Engine the feed drives.
type Engine interface {
	agent.Controller
	UpdateSettings(changes map[string]any) (settings.Effects, error)
	Status() string
}

// Message is the outbound frame.
type Message struct {
	Type string          `json:"type"`
	At   int64           `json:"at"` // unix milliseconds
	Data json.RawMessage `json:"data,omitempty"`
}

type clientMessage struct {
	Type    string         `json:"type"`
	Action  string         `json:"action"`
	Changes map[string]any `json:"changes"`
}

type statusMessage struct {
	Status string `json:"status"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Hub fans bus events out to every connected client.
type Hub struct {
	loop     *farm.Loop
	engine   Engine
	timeout  time.Duration
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	unsub   func()
}

// New subscribes a hub to bus. Control requests wait at most timeout for the
// engine loop.
func New(loop *farm.Loop, engine Engine, bus *events.Bus, timeout time.Duration) *Hub {
	h := &Hub{
		loop:    loop,
		engine:  engine,
		timeout: timeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[*client]struct{}),
	}
	h.unsub = bus.Subscribe(h.broadcast)
	return h
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close drops every client and stops listening to the bus.
func (h *Hub) Close() {
	h.unsub()
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

// ServeHTTP upgrades the request and runs the session until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer), done: make(chan struct{})}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	slog.Info("feed client connected", "remote", r.RemoteAddr)

	go h.writeLoop(c)
	defer h.remove(c)

	var status string
	err = h.call(r.Context(), func() error {
		status = h.engine.Status()
		return nil
	})
	if err != nil {
		slog.Warn("reading status for feed client failed", "error", err)
		return
	}
	h.reply(c, TypeStatus, statusMessage{Status: status})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			slog.Warn("discarding malformed feed message", "remote", r.RemoteAddr, "error", err)
			continue
		}
		h.reply(c, TypeAck, ack(h.handle(r.Context(), msg)))
	}
}

func (h *Hub) handle(ctx context.Context, msg clientMessage) error {
	switch msg.Type {
	case ipc.TypeControl:
		return h.call(ctx, func() error { return agent.Control(h.engine, msg.Action) })
	case ipc.TypeSettings:
		return h.call(ctx, func() error {
			_, err := h.engine.UpdateSettings(msg.Changes)
			return err
		})
	default:
		return errors.New("unknown message type " + msg.Type)
	}
}

func (h *Hub) call(ctx context.Context, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.loop.Call(ctx, fn)
}

func ack(err error) ipc.AckMessage {
	if err != nil {
		return ipc.AckMessage{Status: "error", Error: err.Error()}
	}
	return ipc.AckMessage{Status: "ok"}
}

// reply queues a direct answer, waiting for room unlike broadcasts.
func (h *Hub) reply(c *client, kind string, payload any) {
	data, err := encode(kind, payload)
	if err != nil {
		slog.Error("encoding feed reply failed", "type", kind, "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	}
}

// broadcast runs on the publishing goroutine and never blocks; a client that
// falls a full buffer behind is disconnected.
func (h *Hub) broadcast(ev events.Event) {
	data, err := encode(string(ev.Kind()), ev)
	if err != nil {
		slog.Error("encoding feed event failed", "kind", ev.Kind(), "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slog.Warn("feed client too slow, disconnecting", "remote", c.conn.RemoteAddr())
			delete(h.clients, c)
			c.close()
		}
	}
}

func encode(kind string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: kind, At: time.Now().UnixMilli(), Data: data})
}

func (h *Hub) writeLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		slog.Info("feed client disconnected", "remote", c.conn.RemoteAddr())
	}
	c.close()
}
