package farm

import (
	"context"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/nstehr/vimy/vimy-farm/events"
	"github.com/nstehr/vimy/vimy-farm/model"
	"github.com/nstehr/vimy/vimy-farm/rules"
	"github.com/nstehr/vimy/vimy-farm/settings"
)

// Catalog caches, per origin, the filtered targets around it sorted by
// ascending distance. Origins with no surviving target are never cached.
type Catalog struct {
	loop     *Loop
	mapData  MapData
	player   Player
	pool     *Pool
	settings *settings.Store
	bus      *events.Bus
	tracer   trace.Tracer

	base      *rules.Pipeline
	custom    *rules.Pipeline
	customSrc string

	targets  map[int][]model.Target
	inflight map[int][]func([]model.Target)
}

func newCatalog(loop *Loop, mapData MapData, player Player, pool *Pool, st *settings.Store, bus *events.Bus) *Catalog {
	base, err := rules.NewPipeline(rules.DefaultFilters())
	if err != nil {
		// The default filters are constant; failing to compile them is a bug.
		panic(err)
	}
	return &Catalog{
		loop:     loop,
		mapData:  mapData,
		player:   player,
		pool:     pool,
		settings: st,
		bus:      bus,
		tracer:   otel.Tracer("github.com/nstehr/vimy/vimy-farm/farm"),
		base:     base,
		custom:   base,
		targets:  map[int][]model.Target{},
		inflight: map[int][]func([]model.Target){},
	}
}

func (c *Catalog) Loaded(originID int) bool {
	_, ok := c.targets[originID]
	return ok
}

// Targets returns the cached sequence for originID.
func (c *Catalog) Targets(originID int) ([]model.Target, bool) {
	t, ok := c.targets[originID]
	return t, ok
}

// Find looks a target up across every cached sequence.
func (c *Catalog) Find(targetID int) (model.Target, bool) {
	for _, seq := range c.targets {
		for _, t := range seq {
			if t.ID == targetID {
				return t, true
			}
		}
	}
	return model.Target{}, false
}

// Clear drops every cached sequence. Builds in flight still complete and
// deliver to their waiters.
func (c *Catalog) Clear() {
	clear(c.targets)
}

// Load delivers the sequence for origin to done, building it if needed.
// Concurrent requests for the same origin share one build. If a chunk fails
// to load the build is abandoned and done is never called.
func (c *Catalog) Load(ctx context.Context, origin model.Village, done func([]model.Target)) {
	if t, ok := c.targets[origin.ID]; ok {
		done(t)
		return
	}
	if waiters, ok := c.inflight[origin.ID]; ok {
		c.inflight[origin.ID] = append(waiters, done)
		return
	}
	c.inflight[origin.ID] = []func([]model.Target){done}

	region := model.RegionAround(origin.Position)
	missing := c.mapData.MissingChunks(region.Chunks())
	if len(missing) == 0 {
		c.finish(origin, region)
		return
	}

	c.bus.Publish(events.LoadingTargets{OriginID: origin.ID})
	ctx, span := c.tracer.Start(ctx, "catalog.load", trace.WithAttributes(
		attribute.Int("farm.origin_id", origin.ID),
		attribute.Int("farm.chunks", len(missing)),
	))

	Async(c.loop, func() (struct{}, error) {
		g, gctx := errgroup.WithContext(ctx)
		for _, chunk := range missing {
			g.Go(func() error { return c.mapData.LoadChunk(gctx, chunk) })
		}
		return struct{}{}, g.Wait()
	}, func(_ struct{}, err error) {
		defer span.End()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			delete(c.inflight, origin.ID)
			slog.Error("loading map chunks failed", "origin", origin.ID, "error", err)
			return
		}
		c.finish(origin, region)
	})
}

func (c *Catalog) finish(origin model.Village, region model.Region) {
	targets := c.build(origin, region)
	waiters := c.inflight[origin.ID]
	delete(c.inflight, origin.ID)

	if len(targets) > 0 {
		c.targets[origin.ID] = targets
	}
	c.bus.Publish(events.TargetsLoaded{OriginID: origin.ID, Count: len(targets)})
	slog.Debug("targets built", "origin", origin.ID, "count", len(targets))

	for _, done := range waiters {
		done(targets)
	}
}

func (c *Catalog) build(origin model.Village, region model.Region) []model.Target {
	s := c.settings.Get()
	pipeline := c.pipeline(s.TargetFilter)
	lim := rules.Limits{
		PlayerID:    c.player.PlayerID(),
		MinPoints:   s.MinPoints,
		MaxPoints:   s.MaxPoints,
		MinDistance: s.MinDistance,
		MaxDistance: s.MaxDistance,
	}

	var targets []model.Target
	for _, raw := range c.mapData.ReadTargets(region) {
		if !region.Contains(raw.X, raw.Y) {
			continue
		}
		env := rules.NewFilterEnv(origin.Position, raw, c.pool.IsIncluded(raw.ID), lim)
		if rejected := pipeline.Reject(env); rejected != "" {
			continue
		}
		targets = append(targets, model.Target{
			ID:       raw.ID,
			Name:     raw.Name,
			X:        raw.X,
			Y:        raw.Y,
			Distance: env.Distance,
			OwnerID:  raw.OwnerID,
		})
	}
	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].Distance < targets[j].Distance
	})
	return targets
}

// pipeline returns the default filters plus the configured custom expression,
// recompiling only when the expression changed.
func (c *Catalog) pipeline(src string) *rules.Pipeline {
	if src == c.customSrc {
		return c.custom
	}
	p, err := c.base.WithCustom(src)
	if err != nil {
		slog.Error("custom target filter rejected", "filter", src, "error", err)
		p = c.base
	}
	c.custom, c.customSrc = p, src
	return p
}
