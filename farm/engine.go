// Package farm schedules unattended attacks: it picks an origin village,
// picks a target around it, dispatches, and repeats until it runs out of
// villages, units or targets.
//
// Every Engine method must be called on the Engine's Loop goroutine.
package farm

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/nstehr/vimy/vimy-farm/events"
	"github.com/nstehr/vimy/vimy-farm/model"
	"github.com/nstehr/vimy/vimy-farm/settings"
	"github.com/nstehr/vimy/vimy-farm/store"
)

const (
	dataExpireTime   = 30 * time.Minute
	catalogReload    = 5 * time.Minute
	returnResume     = 10 * time.Second
	reconnectRestart = 5 * time.Second
)

// State is the coarse run state.
type State int

const (
	Paused State = iota
	RunningContinuous
	RunningSingleCycle
)

func (s State) String() string {
	switch s {
	case RunningContinuous:
		return "continuous"
	case RunningSingleCycle:
		return "singleCycle"
	default:
		return "paused"
	}
}

// Config wires an Engine to its collaborators. Clock and Rand are optional.
type Config struct {
	Loop      *Loop
	Clock     Clock
	Bus       *events.Bus
	Store     store.KV
	Settings  *settings.Store
	Player    Player
	Map       MapData
	Commander Commander
	Reports   Reports
	Groups    GroupWriter
	// Rand returns a value in [0, 1) used to jitter the delay between attacks.
	Rand func() float64
}

// run is the state of one active run. It is discarded on Stop, which is what
// invalidates any timer or callback still holding it.
type run struct {
	id            string
	mode          runMode
	startedAt     time.Time
	target        *model.Target
	globalWaiting bool
	dispatching   bool
	loading       bool
	emptyStreak   int
	timers        []Timer
}

type Engine struct {
	ctx   context.Context
	loop  *Loop
	clock Clock
	bus   *events.Bus
	kv    store.KV
	rand  func() float64

	settings  *settings.Store
	player    Player
	commander Commander
	reports   Reports
	groups    GroupWriter

	pool     *Pool
	catalog  *Catalog
	selector *Selector
	eventLog *EventLog
	status   *Status

	// notices gates user-facing notices independently of the bus.
	notices events.Gate

	presets  []model.Preset
	selected *model.Village
	run      *run

	// outstanding holds origins with a command in flight. It outlives runs so
	// a restart never sends a second command from the same village.
	outstanding map[int]bool

	lastActivity time.Time
	lastAttack   time.Time

	reportQueue []model.Report

	watchdog Timer
	expiry   Timer
}

func New(cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = NewSystemClock(cfg.Loop)
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Float64
	}
	e := &Engine{
		ctx:       context.Background(),
		loop:      cfg.Loop,
		clock:     cfg.Clock,
		bus:       cfg.Bus,
		kv:        cfg.Store,
		rand:      cfg.Rand,
		settings:  cfg.Settings,
		player:    cfg.Player,
		commander: cfg.Commander,
		reports:   cfg.Reports,
		groups:    cfg.Groups,

		outstanding: map[int]bool{},
	}
	e.pool = newPool(cfg.Player, cfg.Settings)
	e.catalog = newCatalog(cfg.Loop, cfg.Map, cfg.Player, e.pool, cfg.Settings, cfg.Bus)
	e.selector = newSelector(e.catalog, e.pool, cfg.Settings, cfg.Bus, e.save)
	e.eventLog = newEventLog(cfg.Settings, cfg.Clock, e.save)
	e.status = newStatus()
	return e
}

// Open restores persisted state, resolves groups, villages and presets, and
// starts the watchdog and catalog expiry timers. Bus subscriptions made by
// the engine itself (event log, status) are registered here.
func (e *Engine) Open(ctx context.Context) error {
	e.ctx = ctx
	if err := e.settings.Load(ctx); err != nil {
		return err
	}
	if err := e.selector.load(ctx, e.kv); err != nil {
		return err
	}
	if err := e.eventLog.load(ctx, e.kv); err != nil {
		return err
	}

	e.lastActivity = e.clock.Now()
	var ms int64
	if ok, err := e.kv.Get(ctx, store.KeyLastActivity, &ms); err != nil {
		return err
	} else if ok {
		e.lastActivity = time.UnixMilli(ms)
	}
	if ok, err := e.kv.Get(ctx, store.KeyLastAttack, &ms); err != nil {
		return err
	} else if ok {
		e.lastAttack = time.UnixMilli(ms)
	}

	e.eventLog.subscribe(e.bus)
	e.status.subscribe(e.bus)

	e.pool.RefreshGroups()
	e.recomputePool()
	e.refreshPresets()

	e.scheduleWatchdog()
	e.scheduleExpiry()
	slog.Info("farm engine ready", "villages", e.pool.Len(), "presets", len(e.presets))
	return nil
}

// Close stops the run and every engine-lifetime timer.
func (e *Engine) Close() {
	if e.watchdog != nil {
		e.watchdog.Stop()
	}
	if e.expiry != nil {
		e.expiry.Stop()
	}
	if e.run != nil {
		e.discardRun()
	}
}

func (e *Engine) save(key string, value any) {
	if err := e.kv.Set(e.ctx, key, value); err != nil {
		slog.Error("persisting farm state failed", "key", key, "error", err)
	}
}

// State reports the current run state.
func (e *Engine) State() State {
	if e.run == nil {
		return Paused
	}
	return e.run.mode.state()
}

func (e *Engine) Running() bool { return e.run != nil }

// Selected returns the current origin village.
func (e *Engine) Selected() (model.Village, bool) {
	if e.selected == nil {
		return model.Village{}, false
	}
	return *e.selected, true
}

// Target returns the target last handed to the Commander in this run.
func (e *Engine) Target() (model.Target, bool) {
	if e.run == nil || e.run.target == nil {
		return model.Target{}, false
	}
	return *e.run.target, true
}

func (e *Engine) GlobalWaiting() bool { return e.run != nil && e.run.globalWaiting }

func (e *Engine) LastAttack() time.Time { return e.lastAttack }

func (e *Engine) LastActivity() time.Time { return e.lastActivity }

func (e *Engine) Status() string { return e.status.Current() }

func (e *Engine) Events() []LogEntry { return e.eventLog.Entries() }

func (e *Engine) Pool() *Pool { return e.pool }

func (e *Engine) Catalog() *Catalog { return e.catalog }

func (e *Engine) Selector() *Selector { return e.selector }

func (e *Engine) Presets() []model.Preset { return e.presets }

func (e *Engine) Settings() *settings.Store { return e.settings }

// Start begins automation in the mode the settings select. autoInit marks
// a start the user did not ask for (restarts, recovery): it suppresses the
// start notices and, when every village is busy, keeps the run alive in
// global waiting instead of staying paused.
func (e *Engine) Start(autoInit bool) error {
	if e.run != nil {
		return nil
	}
	if len(e.presets) == 0 {
		e.notice(autoInit, events.LevelError, "presetFirst")
		return &PreconditionError{Reason: ErrNoPreset}
	}
	if e.selected == nil {
		e.notice(autoInit, events.LevelError, "noSelectedVillage")
		return &PreconditionError{Reason: ErrNoVillage}
	}

	if e.expired() {
		slog.Info("farm data expired, resetting cursors")
		e.selector.Reset()
	}

	var mode runMode = &continuousMode{}
	if e.settings.Get().SingleCycle {
		mode = &cycleMode{}
	}
	mode.begin(e, autoInit)
	e.touchActivity()
	return nil
}

// Stop ends the run. Pending timers and in-flight callbacks of the old run
// become no-ops.
func (e *Engine) Stop() {
	if e.run != nil {
		e.discardRun()
	}
	e.bus.Publish(events.Pause{})
	e.notice(false, events.LevelSuccess, "farmStopped")
}

// Switch toggles between running and paused.
func (e *Engine) Switch() error {
	if e.run != nil {
		e.Stop()
		return nil
	}
	return e.Start(false)
}

func (e *Engine) discardRun() {
	for _, t := range e.run.timers {
		t.Stop()
	}
	slog.Info("farm run ended", "run", e.run.id)
	e.run = nil
}

// newRun installs a fresh run and announces it.
func (e *Engine) newRun(mode runMode, autoInit bool) *run {
	r := &run{id: uuid.NewString(), mode: mode, startedAt: e.clock.Now()}
	e.run = r
	slog.Info("farm run started", "run", r.id, "mode", mode.state())
	e.bus.Publish(events.Start{})
	e.notice(autoInit, events.LevelSuccess, "farmStarted")
	return r
}

// restart performs a stop/start pair without notices. With quiet set the
// bus is suppressed too.
func (e *Engine) restart(quiet bool) {
	release := e.notices.Suppress()
	defer release()
	if quiet {
		releaseBus := e.bus.Suppress()
		defer releaseBus()
	}
	e.Stop()
	if err := e.Start(true); err != nil {
		slog.Warn("farm restart failed", "error", err)
	}
}

func (e *Engine) notice(silent bool, level, key string) {
	e.noticeArgs(silent, level, key, nil)
}

func (e *Engine) noticeArgs(silent bool, level, key string, args map[string]any) {
	if silent || !e.notices.Open() {
		return
	}
	e.bus.Publish(events.Notice{Level: level, Key: key, Args: args})
}

// after schedules fn for r. The timer dies with the run.
func (e *Engine) after(r *run, d time.Duration, fn func()) {
	t := e.clock.AfterFunc(d, func() {
		if e.run != r {
			return
		}
		fn()
	})
	r.timers = append(r.timers, t)
}

// attackDelay is randomBase seconds jittered by up to half either way.
func (e *Engine) attackDelay() time.Duration {
	base := time.Duration(e.settings.Get().RandomBase) * time.Second
	return time.Duration(float64(base) * (0.5 + e.rand()))
}

func (e *Engine) touchActivity() {
	e.lastActivity = e.clock.Now()
	e.save(store.KeyLastActivity, e.lastActivity.UnixMilli())
}

func (e *Engine) recordAttack() {
	e.lastAttack = e.clock.Now()
	e.save(store.KeyLastAttack, e.lastAttack.UnixMilli())
	e.touchActivity()
}

// expired reports whether persisted cursors are too old to trust.
func (e *Engine) expired() bool {
	s := e.settings.Get()
	limit := dataExpireTime
	if s.SingleCycle && s.SingleCycleInterval > 0 {
		limit = s.SingleCycleInterval + cycleGrace
	}
	return e.clock.Now().Sub(e.lastActivity) > limit
}

func (e *Engine) selectVillage(v model.Village) {
	e.selected = &v
	e.bus.Publish(events.NextVillage{Village: v})
}

// recomputePool rebuilds the pool and resumes a globally waiting run when a
// village became available.
func (e *Engine) recomputePool() {
	villages := e.pool.Recompute()
	if e.selected == nil || !e.pool.Contains(e.selected.ID) {
		e.selected = nil
		if len(villages) > 0 {
			v := villages[0]
			e.selected = &v
		}
	} else if v, ok := e.pool.Find(e.selected.ID); ok {
		e.selected = &v
	}
	e.bus.Publish(events.VillagesUpdated{Count: len(villages)})

	if r := e.run; r != nil && r.globalWaiting && len(e.pool.Free()) > 0 {
		r.globalWaiting = false
		e.analyse()
	}
}

func (e *Engine) refreshPresets() {
	e.presets = resolvePresets(e.player.Presets(), e.settings.Get().PresetName)
}

func (e *Engine) enterGlobalWaiting(r *run) {
	r.globalWaiting = true
	slog.Info("every village is waiting for troops", "run", r.id)
	e.publishNoVillages()
}

func (e *Engine) publishNoVillages() {
	if e.pool.Single() {
		e.bus.Publish(events.NoUnits{})
		return
	}
	e.bus.Publish(events.NoVillages{})
}

// analyse drives the run forward: make sure the selected origin can attack,
// make sure its targets are known, then dispatch.
func (e *Engine) analyse() {
	r := e.run
	if r == nil || r.globalWaiting || r.dispatching || r.loading || !r.mode.active() {
		return
	}

	for range e.pool.Len() + 1 {
		if e.selected == nil || !e.pool.Contains(e.selected.ID) || e.pool.IsWaiting(e.selected.ID) {
			if e.pool.AllWaiting() && e.pool.Len() > 0 {
				e.waitForTroops(r)
				return
			}
			if !r.mode.nextVillage(e) {
				e.park(r)
				return
			}
			continue
		}

		origin := *e.selected
		if !e.catalog.Loaded(origin.ID) {
			r.loading = true
			e.catalog.Load(e.ctx, origin, func(targets []model.Target) {
				r.loading = false
				if e.run != r {
					return
				}
				e.targetsReady(r, origin, targets)
			})
			return
		}

		if !e.selector.HasTarget(origin.ID) {
			e.targetsReady(r, origin, nil)
			return
		}
		if e.outstanding[origin.ID] {
			// Picked up again when the earlier command reports back.
			slog.Debug("command still in flight", "origin", origin.ID, "run", r.id)
			return
		}
		target, _ := e.selector.SelectNext(origin.ID, true)
		e.dispatch(r, origin, target)
		return
	}
	e.bus.Publish(events.NoTargets{})
}

// targetsReady continues analysis once origin's sequence is known. Empty
// sequences rotate to the next origin until every pool village came up empty.
func (e *Engine) targetsReady(r *run, origin model.Village, targets []model.Target) {
	if len(targets) > 0 {
		e.selector.EnsureCursor(origin.ID, len(targets))
		e.analyse()
		return
	}

	r.emptyStreak++
	slog.Debug("no targets around village", "origin", origin.ID, "streak", r.emptyStreak)
	if r.emptyStreak >= max(e.pool.Len(), 1) {
		r.emptyStreak = 0
		e.bus.Publish(events.NoTargets{})
		return
	}
	if !r.mode.nextVillage(e) {
		if e.run == r {
			e.bus.Publish(events.NoTargets{})
		}
		return
	}
	e.analyse()
}

func (e *Engine) dispatch(r *run, origin model.Village, target model.Target) {
	r.target = &target
	r.dispatching = true
	e.outstanding[origin.ID] = true

	s := e.settings.Get()
	cmd := model.Command{
		Origin:        origin,
		Target:        target,
		MaxTravelTime: s.MaxTravelTime,
	}
	for _, p := range e.presets {
		cmd.PresetIDs = append(cmd.PresetIDs, p.ID)
		if cmd.Units == nil {
			cmd.Units = p.Units
		}
	}

	e.commander.Dispatch(cmd, func(res model.DispatchResult) {
		e.loop.Post(func() { e.dispatched(r, origin, target, res) })
	})
}

func (e *Engine) dispatched(r *run, origin model.Village, target model.Target, res model.DispatchResult) {
	r.dispatching = false
	delete(e.outstanding, origin.ID)
	stale := e.run != r

	switch res.Outcome {
	case model.OutcomeSent:
		r.emptyStreak = 0
		e.recordAttack()
		e.bus.Publish(events.CommandSent{Origin: origin, Target: target})
		if res.Outgoing >= e.settings.Get().MaxAttacksPerVillage {
			slog.Debug("village reached its attack limit", "origin", origin.ID, "outgoing", res.Outgoing)
			e.exhausted(r, origin, stale)
			return
		}
		e.selector.SelectNext(origin.ID, false)

	case model.OutcomeNoUnits, model.OutcomeCommandLimit:
		slog.Debug("village cannot attack", "origin", origin.ID, "outcome", res.Outcome)
		e.exhausted(r, origin, stale)
		return

	default:
		slog.Warn("dispatch failed", "origin", origin.ID, "target", target.ID, "error", res.Err)
		e.selector.SelectNext(origin.ID, false)
	}

	if stale {
		e.resumeAfterStale(origin)
		return
	}
	e.after(r, e.attackDelay(), e.analyse)
}

func (e *Engine) exhausted(r *run, origin model.Village, stale bool) {
	if stale {
		e.pool.MarkWaiting(origin.ID)
		e.resumeAfterStale(origin)
		return
	}
	e.villageExhausted(r, origin)
}

// resumeAfterStale continues the current run when it was held back by a
// command sent from an earlier run.
func (e *Engine) resumeAfterStale(origin model.Village) {
	if e.run == nil || e.selected == nil || e.selected.ID != origin.ID {
		return
	}
	e.analyse()
}

// villageExhausted parks origin until one of its commands returns.
func (e *Engine) villageExhausted(r *run, origin model.Village) {
	e.pool.MarkWaiting(origin.ID)
	if e.pool.AllWaiting() {
		e.waitForTroops(r)
		return
	}
	if r.mode.nextVillage(e) {
		e.after(r, e.attackDelay(), e.analyse)
		return
	}
	e.park(r)
}

// park leaves a continuous run without a usable origin waiting until a
// command returns or the pool changes. Villages skipped for full storage
// count as busy here.
func (e *Engine) park(r *run) {
	if e.run != r {
		return
	}
	if _, ok := r.mode.(*continuousMode); !ok {
		return
	}
	if !r.globalWaiting {
		slog.Info("no village can attack, waiting", "run", r.id)
	}
	r.globalWaiting = true
}

// waitForTroops enters global waiting. A single-cycle run has nothing left
// to do in this cycle, so it moves on to its end-of-cycle handling.
func (e *Engine) waitForTroops(r *run) {
	e.enterGlobalWaiting(r)
	if _, ok := r.mode.(*cycleMode); ok {
		r.mode.nextVillage(e)
	}
}

// CommandReturned clears the waiting mark of the command's origin and, if
// the run was waiting on every village, resumes from that origin shortly.
func (e *Engine) CommandReturned(originID int) {
	if !e.pool.ClearWaiting(originID) {
		return
	}
	r := e.run
	if r == nil || !r.globalWaiting {
		return
	}
	r.globalWaiting = false
	if _, ok := r.mode.(*cycleMode); ok {
		return
	}
	if v, ok := e.pool.Find(originID); ok {
		e.selectVillage(v)
	}
	e.after(r, returnResume, e.analyse)
}

// Reconnected restarts an active run after the game connection came back.
func (e *Engine) Reconnected() {
	r := e.run
	if r == nil {
		return
	}
	e.after(r, reconnectRestart, func() { e.restart(false) })
}

// PresetsChanged re-resolves presets; losing them stops the run.
func (e *Engine) PresetsChanged() {
	e.refreshPresets()
	if len(e.presets) == 0 && e.run != nil {
		e.bus.Publish(events.NoPreset{})
		e.Stop()
	}
}

// GroupsChanged re-resolves the exception groups and the pool.
func (e *Engine) GroupsChanged() {
	e.pool.RefreshGroups()
	e.recomputePool()
}

// GroupVillagesChanged handles membership edits of one group.
func (e *Engine) GroupVillagesChanged(groupID int) {
	e.pool.RefreshGroups()
	if groupID != 0 && groupID == e.pool.IncludeGroup() {
		e.catalog.Clear()
	}
	e.recomputePool()
}

// VillagesChanged handles a new village list from the game.
func (e *Engine) VillagesChanged() {
	e.recomputePool()
}

// UpdateSettings validates and applies changes, then applies their effects
// in a fixed order. An active run is restarted silently so it picks the new
// values up.
func (e *Engine) UpdateSettings(changes map[string]any) (settings.Effects, error) {
	effects, err := e.settings.Update(e.ctx, changes)
	if err != nil {
		var verr *settings.ValidationError
		if errors.As(err, &verr) {
			e.bus.Publish(events.SettingError{Key: verr.Key, Bounds: verr.Bounds})
		}
		return nil, err
	}

	poolDone := false
	for _, eff := range effects.Ordered() {
		switch eff {
		case settings.EffectGroups, settings.EffectVillages:
			if poolDone {
				continue
			}
			poolDone = true
			e.pool.RefreshGroups()
			e.recomputePool()
		case settings.EffectPreset:
			e.refreshPresets()
			e.pool.ResetWaiting()
		case settings.EffectTargets:
			e.catalog.Clear()
		case settings.EffectPriority:
			e.selector.Reset()
		case settings.EffectEvents:
			e.eventLog.Reset()
			e.bus.Publish(events.EventsReset{})
		}
	}

	if e.run != nil {
		e.restart(true)
	}
	e.bus.Publish(events.SettingsChange{Effects: effects})
	return effects, nil
}

// scheduleExpiry drops every catalog periodically so map changes show up.
func (e *Engine) scheduleExpiry() {
	e.expiry = e.clock.AfterFunc(catalogReload, func() {
		e.catalog.Clear()
		e.scheduleExpiry()
	})
}

// SelectVillage makes id the current origin if it is in the pool.
func (e *Engine) SelectVillage(id int) bool {
	v, ok := e.pool.Find(id)
	if !ok {
		return false
	}
	e.selectVillage(v)
	return true
}
