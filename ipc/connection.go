package ipc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned for requests on, or interrupted by, a closed connection.
var ErrClosed = errors.New("connection closed")

// Handler processes a received envelope. Return nil to send no reply.
type Handler func(env Envelope) (*Envelope, error)

// Connection represents a single game client talking to the engine.
// Replies to requests are matched by envelope ID; every other message goes to
// the handler registered for its type.
type Connection struct {
	conn     net.Conn
	handlers map[string]Handler
	Player   string

	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan Envelope
	closed  bool
	done    chan struct{}
}

func NewConnection(conn net.Conn, handlers map[string]Handler) *Connection {
	if handlers == nil {
		handlers = make(map[string]Handler)
	}
	return &Connection{
		conn:     conn,
		handlers: handlers,
		pending:  make(map[uint64]chan Envelope),
		done:     make(chan struct{}),
	}
}

func (c *Connection) RegisterHandler(msgType string, handler Handler) {
	c.handlers[msgType] = handler
}

// Done is closed once the read loop has ended.
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) write(env Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return WriteEnvelope(c.conn, env)
}

// Send writes a message that expects no reply.
func (c *Connection) Send(msgType string, data any) error {
	env, err := NewEnvelope(msgType, data)
	if err != nil {
		return err
	}
	return c.write(env)
}

// Request sends a message and waits for the envelope echoing its ID.
func (c *Connection) Request(ctx context.Context, msgType string, data any) (Envelope, error) {
	env, err := NewEnvelope(msgType, data)
	if err != nil {
		return Envelope{}, err
	}
	env.ID = c.nextID.Add(1)

	reply := make(chan Envelope, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Envelope{}, ErrClosed
	}
	c.pending[env.ID] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, env.ID)
		c.mu.Unlock()
	}()

	if err := c.write(env); err != nil {
		return Envelope{}, err
	}

	select {
	case resp, ok := <-reply:
		if !ok {
			return Envelope{}, ErrClosed
		}
		return resp, nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

// Close closes the underlying socket, which ends the read loop.
func (c *Connection) Close() error { return c.conn.Close() }

// ReadLoop blocks until the connection closes or errors. It owns the conn lifetime
// so callers don't need to track cleanup.
func (c *Connection) ReadLoop() {
	defer c.shutdown()

	for {
		env, err := ReadEnvelope(c.conn)
		if err != nil {
			slog.Info("connection read ended", "player", c.Player, "error", err)
			return
		}

		if env.ID != 0 && c.deliver(env) {
			continue
		}

		handler, ok := c.handlers[env.Type]
		if !ok {
			slog.Warn("no handler for message type", "type", env.Type)
			continue
		}

		resp, err := handler(env)
		if err != nil {
			slog.Error("handler error", "type", env.Type, "error", err)
			continue
		}

		if resp != nil {
			resp.ID = env.ID
			if err := c.write(*resp); err != nil {
				slog.Error("failed to send response", "type", resp.Type, "error", err)
				return
			}
			slog.Debug("sent response", "type", resp.Type, "player", c.Player)
		}
	}
}

// deliver hands a reply to the request waiting on its ID.
func (c *Connection) deliver(env Envelope) bool {
	c.mu.Lock()
	reply, ok := c.pending[env.ID]
	c.mu.Unlock()
	if ok {
		select {
		case reply <- env:
		default: // duplicate reply
		}
	}
	return ok
}

func (c *Connection) shutdown() {
	c.conn.Close()
	c.mu.Lock()
	c.closed = true
	for id, reply := range c.pending {
		close(reply)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	close(c.done)
}
