// Package agent bridges a game client connection to the farm engine. It
// caches what the client reports (villages, groups, presets, map chunks,
// open windows) and implements every collaborator the engine consumes by
// issuing requests over the connection.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/nstehr/vimy/vimy-farm/events"
	"github.com/nstehr/vimy/vimy-farm/farm"
	"github.com/nstehr/vimy/vimy-farm/ipc"
	"github.com/nstehr/vimy/vimy-farm/model"
)

// ErrNotConnected is returned for requests made while no client is attached.
var ErrNotConnected = errors.New("game client not connected")

// outboxSize bounds the events queued for a slow client.
const outboxSize = 256

// Agent owns the session with one game client.
type Agent struct {
	loop    *farm.Loop
	timeout time.Duration

	mu       sync.RWMutex
	conn     *ipc.Connection
	outbox   chan ipc.EventMessage
	engine   *farm.Engine
	seen     bool // a client has attached before
	player   string
	playerID int
	villages []model.Village
	groups   []model.Group
	presets  []model.Preset
	windows  map[string]bool
	chunks   map[model.Chunk]bool
	targets  map[int]model.RawTarget
}

var (
	_ farm.Player      = (*Agent)(nil)
	_ farm.MapData     = (*Agent)(nil)
	_ farm.Commander   = (*Agent)(nil)
	_ farm.Reports     = (*Agent)(nil)
	_ farm.GroupWriter = (*Agent)(nil)
)

// New returns an agent whose requests time out after timeout.
func New(loop *farm.Loop, timeout time.Duration) *Agent {
	return &Agent{
		loop:    loop,
		timeout: timeout,
		windows: map[string]bool{},
		chunks:  map[model.Chunk]bool{},
		targets: map[int]model.RawTarget{},
	}
}

// Bind attaches the engine that inputs are forwarded to and mirrors its
// events to the client.
func (a *Agent) Bind(engine *farm.Engine, bus *events.Bus) {
	a.mu.Lock()
	a.engine = engine
	a.mu.Unlock()
	bus.Subscribe(a.forward)
}

// post runs fn on the engine loop once an engine is bound.
func (a *Agent) post(fn func(e *farm.Engine)) {
	a.mu.RLock()
	e := a.engine
	a.mu.RUnlock()
	if e == nil {
		return
	}
	a.loop.Post(func() { fn(e) })
}

// call runs fn on the engine loop and waits for it.
func (a *Agent) call(fn func(e *farm.Engine) error) error {
	a.mu.RLock()
	e := a.engine
	a.mu.RUnlock()
	if e == nil {
		return errors.New("engine not ready")
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	return a.loop.Call(ctx, func() error { return fn(e) })
}

// Serve runs one client connection until it closes.
func (a *Agent) Serve(ctx context.Context, c *ipc.Connection) {
	c.RegisterHandler(ipc.TypeHello, a.handleHello(c))
	c.RegisterHandler(ipc.TypeVillages, a.handleVillages)
	c.RegisterHandler(ipc.TypeGroups, a.handleGroups)
	c.RegisterHandler(ipc.TypeGroupVillages, a.handleGroupVillages)
	c.RegisterHandler(ipc.TypePresets, a.handlePresets)
	c.RegisterHandler(ipc.TypeChunk, a.handleChunk)
	c.RegisterHandler(ipc.TypeReport, a.handleReport)
	c.RegisterHandler(ipc.TypeCommandReturned, a.handleCommandReturned)
	c.RegisterHandler(ipc.TypeWindow, a.handleWindow)
	c.RegisterHandler(ipc.TypeReconnect, a.handleReconnect)
	c.RegisterHandler(ipc.TypeControl, a.handleControl)
	c.RegisterHandler(ipc.TypeSettings, a.handleSettings)

	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-c.Done():
		}
	}()
	c.ReadLoop()
	a.detach(c)
}

func (a *Agent) attach(c *ipc.Connection) (reconnected bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == c {
		return false
	}
	if a.outbox != nil {
		close(a.outbox)
	}
	a.conn = c
	a.outbox = make(chan ipc.EventMessage, outboxSize)
	go drain(c, a.outbox)

	reconnected = a.seen
	a.seen = true
	return reconnected
}

func (a *Agent) detach(c *ipc.Connection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != c {
		return
	}
	close(a.outbox)
	a.conn, a.outbox = nil, nil
	slog.Info("game client detached", "player", a.player)
}

func (a *Agent) connection() (*ipc.Connection, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.conn == nil {
		return nil, ErrNotConnected
	}
	return a.conn, nil
}

func (a *Agent) request(ctx context.Context, msgType string, data any) (ipc.Envelope, error) {
	c, err := a.connection()
	if err != nil {
		return ipc.Envelope{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return c.Request(ctx, msgType, data)
}

// forward queues a bus event for the client. It runs on the engine loop and
// never blocks; events are dropped when the client falls behind.
func (a *Agent) forward(ev events.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("encoding event failed", "kind", ev.Kind(), "error", err)
		return
	}
	msg := ipc.EventMessage{Type: string(ev.Kind()), At: time.Now().UnixMilli(), Data: data}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.outbox == nil {
		return
	}
	select {
	case a.outbox <- msg:
	default:
		slog.Warn("client event queue full, dropping event", "kind", ev.Kind())
	}
}

func drain(c *ipc.Connection, outbox <-chan ipc.EventMessage) {
	for msg := range outbox {
		if err := c.Send(ipc.TypeEvent, msg); err != nil {
			slog.Debug("forwarding event failed", "type", msg.Type, "error", err)
		}
	}
}

// PlayerID, Villages, Groups and Presets serve the engine from the cache.

func (a *Agent) PlayerID() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.playerID
}

func (a *Agent) Villages() []model.Village {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.villages)
}

func (a *Agent) Groups() []model.Group {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.groups)
}

func (a *Agent) Presets() []model.Preset {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.presets)
}

func (a *Agent) WindowOpen(name string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.windows[name]
}

func (a *Agent) MissingChunks(chunks []model.Chunk) []model.Chunk {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var missing []model.Chunk
	for _, c := range chunks {
		if !a.chunks[c] {
			missing = append(missing, c)
		}
	}
	return missing
}

// LoadChunk asks the client for one chunk. The client streams the chunk's
// villages before replying, so they are cached by the time this returns.
func (a *Agent) LoadChunk(ctx context.Context, chunk model.Chunk) error {
	resp, err := a.request(ctx, ipc.TypeLoadChunk, ipc.LoadChunkCommand{X: chunk.X, Y: chunk.Y})
	if err != nil {
		return fmt.Errorf("load chunk %d,%d: %w", chunk.X, chunk.Y, err)
	}
	if err := ackError(resp); err != nil {
		return fmt.Errorf("load chunk %d,%d: %w", chunk.X, chunk.Y, err)
	}
	a.mu.Lock()
	a.chunks[chunk] = true
	a.mu.Unlock()
	return nil
}

func (a *Agent) ReadTargets(region model.Region) []model.RawTarget {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []model.RawTarget
	for _, t := range a.targets {
		if region.Contains(t.X, t.Y) {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(x, y model.RawTarget) int { return x.ID - y.ID })
	return out
}

// Dispatch sends the attack on its own goroutine; done receives the client's
// verdict, or a failed result when the request could not complete.
func (a *Agent) Dispatch(cmd model.Command, done func(model.DispatchResult)) {
	go func() {
		resp, err := a.request(context.Background(), ipc.TypeDispatch, ipc.NewDispatchCommand(cmd))
		if err != nil {
			done(model.DispatchResult{Outcome: model.OutcomeFailed, Err: err.Error()})
			return
		}
		var res model.DispatchResult
		if err := resp.Decode(&res); err != nil {
			done(model.DispatchResult{Outcome: model.OutcomeFailed, Err: err.Error()})
			return
		}
		done(res)
	}()
}

func (a *Agent) ReportDetail(ctx context.Context, reportID int) (model.ReportDetail, error) {
	resp, err := a.request(ctx, ipc.TypeGetReport, ipc.GetReportCommand{ReportID: reportID})
	if err != nil {
		return model.ReportDetail{}, fmt.Errorf("get report %d: %w", reportID, err)
	}
	var detail model.ReportDetail
	if err := resp.Decode(&detail); err != nil {
		return model.ReportDetail{}, err
	}
	return detail, nil
}

func (a *Agent) LinkVillage(ctx context.Context, groupID, villageID int) error {
	resp, err := a.request(ctx, ipc.TypeLinkGroup, ipc.LinkGroupCommand{GroupID: groupID, VillageID: villageID})
	if err != nil {
		return fmt.Errorf("link village %d to group %d: %w", villageID, groupID, err)
	}
	return ackError(resp)
}

// ackError turns a non-ok ack reply into an error.
func ackError(resp ipc.Envelope) error {
	var ack ipc.AckMessage
	if err := resp.Decode(&ack); err != nil {
		return err
	}
	if ack.Status != "ok" {
		return fmt.Errorf("client refused: %s", ack.Error)
	}
	return nil
}
