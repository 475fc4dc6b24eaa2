package farm

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/nstehr/vimy/vimy-farm/events"
	"github.com/nstehr/vimy/vimy-farm/model"
	"github.com/nstehr/vimy/vimy-farm/settings"
	"github.com/nstehr/vimy/vimy-farm/store"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// manualClock fires timers synchronously when advanced.
type manualClock struct {
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Time
	fn      func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) AfterFunc(d time.Duration, fn func()) Timer {
	t := &manualTimer{at: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) Advance(d time.Duration) {
	end := c.now.Add(d)
	for {
		var next *manualTimer
		for _, t := range c.timers {
			if t.stopped || t.at.After(end) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			break
		}
		c.now = next.at
		next.stopped = true
		next.fn()
	}
	c.now = end
	c.timers = slices.DeleteFunc(c.timers, func(t *manualTimer) bool { return t.stopped })
}

type fakePlayer struct {
	id       int
	villages []model.Village
	groups   []model.Group
	presets  []model.Preset
}

func (p *fakePlayer) PlayerID() int             { return p.id }
func (p *fakePlayer) Villages() []model.Village { return p.villages }
func (p *fakePlayer) Groups() []model.Group     { return p.groups }
func (p *fakePlayer) Presets() []model.Preset   { return p.presets }

type fakeMap struct {
	mu      sync.Mutex
	targets []model.RawTarget
	missing map[model.Chunk]bool
	loads   []model.Chunk
	failErr error
}

func (m *fakeMap) MissingChunks(chunks []model.Chunk) []model.Chunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Chunk
	for _, c := range chunks {
		if m.missing[c] {
			out = append(out, c)
		}
	}
	return out
}

func (m *fakeMap) LoadChunk(_ context.Context, c model.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.loads = append(m.loads, c)
	delete(m.missing, c)
	return nil
}

func (m *fakeMap) ReadTargets(region model.Region) []model.RawTarget {
	var out []model.RawTarget
	for _, t := range m.targets {
		if region.Contains(t.X, t.Y) {
			out = append(out, t)
		}
	}
	return out
}

type pendingDispatch struct {
	cmd  model.Command
	done func(model.DispatchResult)
}

type fakeCommander struct {
	sent    []model.Command
	pending []pendingDispatch
}

func (c *fakeCommander) Dispatch(cmd model.Command, done func(model.DispatchResult)) {
	c.sent = append(c.sent, cmd)
	c.pending = append(c.pending, pendingDispatch{cmd: cmd, done: done})
}

type fakeReports struct {
	mu      sync.Mutex
	open    map[string]bool
	details map[int]model.ReportDetail
	fetched []int
}

func (r *fakeReports) ReportDetail(_ context.Context, id int) (model.ReportDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetched = append(r.fetched, id)
	d, ok := r.details[id]
	if !ok {
		return model.ReportDetail{}, errors.New("report not found")
	}
	return d, nil
}

func (r *fakeReports) WindowOpen(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open[name]
}

type link struct{ group, village int }

type fakeGroups struct {
	mu    sync.Mutex
	links []link
}

func (g *fakeGroups) LinkVillage(_ context.Context, group, village int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.links = append(g.links, link{group, village})
	return nil
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	loop     *Loop
	clock    *manualClock
	bus      *events.Bus
	kv       *store.Memory
	settings *settings.Store
	player   *fakePlayer
	mapData  *fakeMap
	cmd      *fakeCommander
	reports  *fakeReports
	groups   *fakeGroups
	engine   *Engine
	events   []events.Event
}

// Village A sees targets 10, 11 and 12; village B sees 20 and 21.
func newHarness(t *testing.T) *harness {
	t.Helper()
	kv := store.NewMemory()
	h := &harness{
		t:        t,
		ctx:      context.Background(),
		loop:     NewLoop(),
		clock:    &manualClock{now: t0},
		bus:      events.NewBus(),
		kv:       kv,
		settings: settings.New(kv),
		player: &fakePlayer{
			id: 1,
			villages: []model.Village{
				{ID: 1, Name: "A", Position: model.Position{X: 500, Y: 500}, MaxStorage: 1000},
				{ID: 2, Name: "B", Position: model.Position{X: 520, Y: 520}, MaxStorage: 1000},
			},
			presets: []model.Preset{
				{ID: 7, Name: "Farm [A]", Units: map[string]int{"light_cavalry": 5, "spear": 0}},
			},
		},
		mapData: &fakeMap{
			missing: map[model.Chunk]bool{},
			targets: []model.RawTarget{
				{ID: 12, Name: "far", X: 505, Y: 500, Points: 100},
				{ID: 10, Name: "near", X: 501, Y: 500, Points: 100},
				{ID: 11, Name: "mid", X: 503, Y: 500, Points: 100},
				{ID: 20, Name: "b-near", X: 521, Y: 520, Points: 100},
				{ID: 21, Name: "b-mid", X: 523, Y: 520, Points: 100},
			},
		},
		cmd:     &fakeCommander{},
		reports: &fakeReports{open: map[string]bool{}, details: map[int]model.ReportDetail{}},
		groups:  &fakeGroups{},
	}
	h.bus.Subscribe(func(e events.Event) { h.events = append(h.events, e) })
	h.configure(map[string]any{"presetName": "Farm"})
	return h
}

func (h *harness) configure(changes map[string]any) {
	h.t.Helper()
	if _, err := h.settings.Update(h.ctx, changes); err != nil {
		h.t.Fatalf("configure %v: %v", changes, err)
	}
}

func (h *harness) open() *Engine {
	h.t.Helper()
	h.engine = New(Config{
		Loop:      h.loop,
		Clock:     h.clock,
		Bus:       h.bus,
		Store:     h.kv,
		Settings:  h.settings,
		Player:    h.player,
		Map:       h.mapData,
		Commander: h.cmd,
		Reports:   h.reports,
		Groups:    h.groups,
		Rand:      func() float64 { return 0.5 },
	})
	if err := h.engine.Open(h.ctx); err != nil {
		h.t.Fatalf("Open: %v", err)
	}
	h.loop.Drain()
	return h.engine
}

func (h *harness) start() {
	h.t.Helper()
	if err := h.engine.Start(false); err != nil {
		h.t.Fatalf("Start: %v", err)
	}
	h.loop.Drain()
}

// respond completes the oldest outstanding dispatch.
func (h *harness) respond(outcome model.Outcome, outgoing int) model.Command {
	h.t.Helper()
	if len(h.cmd.pending) == 0 {
		h.t.Fatalf("no outstanding dispatch")
	}
	p := h.cmd.pending[0]
	h.cmd.pending = h.cmd.pending[1:]
	p.done(model.DispatchResult{Outcome: outcome, Outgoing: outgoing})
	h.loop.Drain()
	return p.cmd
}

func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.loop.Drain()
}

// lastDispatch returns the most recent command handed to the Commander.
func (h *harness) lastDispatch() model.Command {
	h.t.Helper()
	if len(h.cmd.sent) == 0 {
		h.t.Fatalf("nothing dispatched")
	}
	return h.cmd.sent[len(h.cmd.sent)-1]
}

func (h *harness) resetEvents() { h.events = nil }

func (h *harness) kinds() []events.Kind {
	out := make([]events.Kind, 0, len(h.events))
	for _, e := range h.events {
		out = append(out, e.Kind())
	}
	return out
}

func (h *harness) has(kind events.Kind) bool {
	return slices.Contains(h.kinds(), kind)
}
