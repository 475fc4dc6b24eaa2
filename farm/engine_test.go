package farm

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/nstehr/vimy/vimy-farm/events"
	"github.com/nstehr/vimy/vimy-farm/model"
	"github.com/nstehr/vimy/vimy-farm/settings"
	"github.com/nstehr/vimy/vimy-farm/store"
)

func TestStartPreconditions(t *testing.T) {
	t.Run("no preset", func(t *testing.T) {
		h := newHarness(t)
		h.player.presets = nil
		e := h.open()

		err := e.Start(false)
		if !errors.Is(err, ErrNoPreset) {
			t.Fatalf("err = %v, want ErrNoPreset", err)
		}
		var perr *PreconditionError
		if !errors.As(err, &perr) {
			t.Fatalf("err %T is not a *PreconditionError", err)
		}
		if e.State() != Paused {
			t.Errorf("state = %v, want paused", e.State())
		}
		if !h.has(events.KindNotice) {
			t.Error("expected a notice for a user start")
		}
	})

	t.Run("no village", func(t *testing.T) {
		h := newHarness(t)
		h.player.villages = nil
		e := h.open()

		if err := e.Start(true); !errors.Is(err, ErrNoVillage) {
			t.Fatalf("err = %v, want ErrNoVillage", err)
		}
		if h.has(events.KindNotice) {
			t.Error("automatic start must not notify")
		}
	})
}

func TestContinuousRunDispatchesNearestFirst(t *testing.T) {
	h := newHarness(t)
	e := h.open()
	h.start()

	if e.State() != RunningContinuous {
		t.Fatalf("state = %v", e.State())
	}
	cmd := h.lastDispatch()
	if cmd.Origin.ID != 1 || cmd.Target.ID != 10 {
		t.Fatalf("dispatched %d -> %d, want 1 -> 10", cmd.Origin.ID, cmd.Target.ID)
	}
	if !slices.Equal(cmd.PresetIDs, []int{7}) {
		t.Errorf("preset ids = %v", cmd.PresetIDs)
	}
	if _, ok := cmd.Units["spear"]; ok {
		t.Error("zero-count units must be dropped")
	}
	if cmd.MaxTravelTime != time.Hour {
		t.Errorf("max travel time = %v", cmd.MaxTravelTime)
	}

	h.respond(model.OutcomeSent, 1)
	if !h.has(events.KindCommandSent) {
		t.Error("commandSent not published")
	}
	if !e.LastAttack().Equal(t0) {
		t.Errorf("last attack = %v", e.LastAttack())
	}
	var ms int64
	if ok, _ := h.kv.Get(h.ctx, store.KeyLastAttack, &ms); !ok || ms != t0.UnixMilli() {
		t.Errorf("persisted last attack = %d (found %v)", ms, ok)
	}

	// randomBase 3s with a centred jitter.
	h.advance(2999 * time.Millisecond)
	if len(h.cmd.sent) != 1 {
		t.Fatalf("dispatched before the delay elapsed")
	}
	h.advance(time.Millisecond)
	if got := h.lastDispatch().Target.ID; got != 11 {
		t.Fatalf("second target = %d, want 11", got)
	}
}

func TestOnlyOneOutstandingDispatch(t *testing.T) {
	h := newHarness(t)
	e := h.open()
	h.start()

	e.analyse()
	e.VillagesChanged()
	h.loop.Drain()
	if len(h.cmd.pending) != 1 {
		t.Fatalf("outstanding dispatches = %d, want 1", len(h.cmd.pending))
	}
}

func TestNoUnitsRotatesToNextVillage(t *testing.T) {
	h := newHarness(t)
	e := h.open()
	h.start()

	h.respond(model.OutcomeNoUnits, 0)
	if !e.Pool().IsWaiting(1) {
		t.Fatal("village 1 should be waiting")
	}
	if v, _ := e.Selected(); v.ID != 2 {
		t.Fatalf("selected = %d, want 2", v.ID)
	}
	h.advance(3 * time.Second)
	if cmd := h.lastDispatch(); cmd.Origin.ID != 2 || cmd.Target.ID != 20 {
		t.Fatalf("dispatched %d -> %d, want 2 -> 20", cmd.Origin.ID, cmd.Target.ID)
	}
}

func TestAttackLimitCountsAsCommandLimit(t *testing.T) {
	h := newHarness(t)
	h.configure(map[string]any{"maxAttacksPerVillage": 2})
	e := h.open()
	h.start()

	h.respond(model.OutcomeSent, 2)
	if !e.Pool().IsWaiting(1) {
		t.Fatal("village at its attack limit should be waiting")
	}
}

func TestGlobalWaitingAndResume(t *testing.T) {
	h := newHarness(t)
	e := h.open()
	h.start()

	h.respond(model.OutcomeNoUnits, 0)
	h.advance(3 * time.Second)
	h.resetEvents()
	h.respond(model.OutcomeNoUnits, 0)

	if !e.GlobalWaiting() {
		t.Fatal("expected global waiting")
	}
	if !h.has(events.KindNoVillages) {
		t.Errorf("events = %v, want noVillages", h.kinds())
	}
	if e.State() != RunningContinuous {
		t.Fatalf("global waiting must keep the run, state = %v", e.State())
	}

	sent := len(h.cmd.sent)
	h.advance(time.Minute / 2)
	if len(h.cmd.sent) != sent {
		t.Fatal("dispatched while globally waiting")
	}

	e.CommandReturned(1)
	if e.GlobalWaiting() {
		t.Fatal("global waiting should clear when a command returns")
	}
	if v, _ := e.Selected(); v.ID != 1 {
		t.Fatalf("selected = %d, want the returning village", v.ID)
	}
	h.advance(9 * time.Second)
	if len(h.cmd.sent) != sent {
		t.Fatal("resumed before 10s")
	}
	h.advance(time.Second)
	if cmd := h.lastDispatch(); cmd.Origin.ID != 1 || cmd.Target.ID != 10 {
		t.Fatalf("resumed with %d -> %d", cmd.Origin.ID, cmd.Target.ID)
	}
}

func TestSingleVillageReportsNoUnits(t *testing.T) {
	h := newHarness(t)
	h.player.villages = h.player.villages[:1]
	e := h.open()
	h.start()

	h.resetEvents()
	h.respond(model.OutcomeNoUnits, 0)
	if !h.has(events.KindNoUnits) || h.has(events.KindNoVillages) {
		t.Fatalf("events = %v, want noUnits only", h.kinds())
	}
	if !e.GlobalWaiting() {
		t.Fatal("expected global waiting")
	}
}

func TestContinuousStartWithoutFreeVillagesStaysPaused(t *testing.T) {
	h := newHarness(t)
	e := h.open()
	e.Pool().MarkWaiting(1)
	e.Pool().MarkWaiting(2)

	if err := e.Start(false); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if e.State() != Paused {
		t.Fatalf("state = %v, want paused", e.State())
	}
	if !h.has(events.KindNoVillages) {
		t.Errorf("events = %v", h.kinds())
	}
	if h.has(events.KindStart) {
		t.Error("start published although nothing could attack")
	}
}

func TestRecomputeClearsGlobalWaiting(t *testing.T) {
	h := newHarness(t)
	e := h.open()
	h.start()
	h.respond(model.OutcomeNoUnits, 0)
	h.advance(3 * time.Second)
	h.respond(model.OutcomeNoUnits, 0)

	h.player.villages = append(h.player.villages, model.Village{ID: 3, Name: "C", Position: model.Position{X: 502, Y: 502}, MaxStorage: 1000})
	e.VillagesChanged()
	h.loop.Drain()

	if e.GlobalWaiting() {
		t.Fatal("new free village should clear global waiting")
	}
	if cmd := h.lastDispatch(); cmd.Origin.ID != 3 {
		t.Fatalf("dispatched from %d, want 3", cmd.Origin.ID)
	}
}

func TestStopCancelsPendingWork(t *testing.T) {
	h := newHarness(t)
	e := h.open()
	h.start()
	h.respond(model.OutcomeSent, 1)

	e.Stop()
	if e.State() != Paused {
		t.Fatalf("state = %v", e.State())
	}
	sent := len(h.cmd.sent)
	h.advance(10 * time.Second)
	if len(h.cmd.sent) != sent {
		t.Fatal("timer of a stopped run dispatched")
	}
}

func TestDispatchResultAfterStopStillCounts(t *testing.T) {
	h := newHarness(t)
	e := h.open()
	h.start()

	e.Stop()
	h.advance(time.Minute)
	h.resetEvents()
	h.respond(model.OutcomeSent, 1)

	if !h.has(events.KindCommandSent) {
		t.Fatalf("events = %v, want commandSent", h.kinds())
	}
	if !e.LastAttack().Equal(h.clock.Now()) {
		t.Errorf("last attack = %v, want %v", e.LastAttack(), h.clock.Now())
	}
	if got, _ := e.Selector().Cursor(1); got != 1 {
		t.Errorf("cursor = %d, want 1 after the sent command", got)
	}
	sent := len(h.cmd.sent)
	h.advance(10 * time.Second)
	if len(h.cmd.sent) != sent {
		t.Fatal("a stopped engine dispatched")
	}
}

func TestRestartWhileDispatchPendingSendsOnce(t *testing.T) {
	tests := []struct {
		name    string
		restart func(h *harness)
	}{
		{
			name: "settings change",
			restart: func(h *harness) {
				if _, err := h.engine.UpdateSettings(map[string]any{"randomBase": 5}); err != nil {
					h.t.Fatal(err)
				}
			},
		},
		{
			name: "reconnect",
			restart: func(h *harness) {
				h.engine.Reconnected()
				h.advance(reconnectRestart)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			e := h.open()
			h.start()

			tt.restart(h)
			h.loop.Drain()
			if !e.Running() {
				t.Fatal("run should be active after the restart")
			}
			if len(h.cmd.pending) != 1 {
				t.Fatalf("outstanding commands = %d, want 1", len(h.cmd.pending))
			}

			first := h.respond(model.OutcomeSent, 1)
			if first.Target.ID != 10 {
				t.Fatalf("first target = %d", first.Target.ID)
			}
			if !e.LastAttack().Equal(h.clock.Now()) {
				t.Error("command from the earlier run was not recorded")
			}
			if len(h.cmd.pending) != 1 {
				t.Fatalf("outstanding commands = %d, want the next one", len(h.cmd.pending))
			}
			if cmd := h.lastDispatch(); cmd.Origin.ID != 1 || cmd.Target.ID != 11 {
				t.Fatalf("next dispatch %d -> %d, want 1 -> 11", cmd.Origin.ID, cmd.Target.ID)
			}
		})
	}
}

func TestStorageFullVillagesParkRun(t *testing.T) {
	h := newHarness(t)
	h.player.villages[1].Resources = model.Resources{Wood: 1000, Clay: 1000, Iron: 1000}
	e := h.open()
	h.start()

	h.respond(model.OutcomeSent, 1)
	h.advance(3 * time.Second)
	h.resetEvents()
	h.respond(model.OutcomeNoUnits, 0)

	if !h.has(events.KindNoVillages) {
		t.Errorf("events = %v, want noVillages", h.kinds())
	}
	if !e.GlobalWaiting() {
		t.Fatal("run with no usable village should wait for returning troops")
	}

	sent := len(h.cmd.sent)
	e.CommandReturned(1)
	h.advance(returnResume)
	if len(h.cmd.sent) != sent+1 {
		t.Fatalf("dispatches = %d, want a resumed dispatch", len(h.cmd.sent)-sent)
	}
	if cmd := h.lastDispatch(); cmd.Origin.ID != 1 {
		t.Fatalf("resumed from %d, want 1", cmd.Origin.ID)
	}
	if h.has(events.KindRecovered) {
		t.Error("resume should not need the watchdog")
	}
}

func TestNoTargetsAnywhereEndsAnalysis(t *testing.T) {
	h := newHarness(t)
	h.mapData.targets = nil
	e := h.open()
	h.start()

	noTargets := 0
	for _, k := range h.kinds() {
		if k == events.KindNoTargets {
			noTargets++
		}
	}
	if noTargets != 1 {
		t.Fatalf("noTargets published %d times, events = %v", noTargets, h.kinds())
	}
	if len(h.cmd.sent) != 0 {
		t.Fatalf("dispatched %d commands without targets", len(h.cmd.sent))
	}
	if !e.Running() {
		t.Fatal("run should stay active")
	}
	if got := e.Status(); got != StatusNoTargets {
		t.Errorf("status = %q", got)
	}
}

func TestSwitchToggles(t *testing.T) {
	h := newHarness(t)
	e := h.open()

	if err := e.Switch(); err != nil {
		t.Fatal(err)
	}
	if !e.Running() {
		t.Fatal("switch should start")
	}
	if err := e.Switch(); err != nil {
		t.Fatal(err)
	}
	if e.Running() {
		t.Fatal("switch should stop")
	}
}

func TestExpiredActivityResetsCursors(t *testing.T) {
	h := newHarness(t)
	if err := h.kv.Set(h.ctx, store.KeyIndexes, map[string]int{"1": 2}); err != nil {
		t.Fatal(err)
	}
	if err := h.kv.Set(h.ctx, store.KeyLastActivity, t0.Add(-31*time.Minute).UnixMilli()); err != nil {
		t.Fatal(err)
	}
	h.open()
	h.start()

	if got := h.lastDispatch().Target.ID; got != 10 {
		t.Fatalf("first target = %d, want 10 after reset", got)
	}
}

func TestFreshActivityKeepsCursors(t *testing.T) {
	h := newHarness(t)
	if err := h.kv.Set(h.ctx, store.KeyIndexes, map[string]int{"1": 2}); err != nil {
		t.Fatal(err)
	}
	if err := h.kv.Set(h.ctx, store.KeyLastActivity, t0.Add(-time.Minute).UnixMilli()); err != nil {
		t.Fatal(err)
	}
	h.open()
	h.start()

	if got := h.lastDispatch().Target.ID; got != 12 {
		t.Fatalf("first target = %d, want the persisted cursor's 12", got)
	}
}

func TestUpdateSettingsRestartsSilently(t *testing.T) {
	h := newHarness(t)
	e := h.open()
	h.start()

	h.resetEvents()
	effects, err := e.UpdateSettings(map[string]any{"maxDistance": 2})
	if err != nil {
		t.Fatal(err)
	}
	if !effects.Has(settings.EffectTargets) || !effects.Has(settings.EffectPriority) {
		t.Errorf("effects = %v", effects)
	}
	if got := h.kinds(); !slices.Equal(got, []events.Kind{events.KindSettingsChange}) {
		t.Fatalf("events = %v, want only settingsChange", got)
	}
	if !e.Running() {
		t.Fatal("run should survive a settings change")
	}
	targets, ok := e.Catalog().Targets(1)
	if !ok || len(targets) != 1 || targets[0].ID != 10 {
		t.Fatalf("rebuilt catalog = %v", targets)
	}
}

func TestUpdateSettingsRejected(t *testing.T) {
	h := newHarness(t)
	e := h.open()
	before, _ := h.kv.Raw(store.KeySettings)

	_, err := e.UpdateSettings(map[string]any{"randomBase": 5, "maxDistance": 99})
	var verr *settings.ValidationError
	if !errors.As(err, &verr) || verr.Key != "maxDistance" {
		t.Fatalf("err = %v", err)
	}
	after, _ := h.kv.Raw(store.KeySettings)
	if string(before) != string(after) {
		t.Error("rejected update changed the store")
	}

	i := slices.IndexFunc(h.events, func(e events.Event) bool { return e.Kind() == events.KindSettingError })
	if i < 0 {
		t.Fatalf("events = %v", h.kinds())
	}
	se := h.events[i].(events.SettingError)
	if se.Key != "maxDistance" || se.Bounds == nil || se.Bounds.Max != 50 {
		t.Errorf("setting error = %+v", se)
	}
}

func TestPresetEffectResetsWaiting(t *testing.T) {
	h := newHarness(t)
	h.player.presets = append(h.player.presets, model.Preset{ID: 8, Name: "Raid", Units: map[string]int{"axe": 10}})
	e := h.open()
	e.Pool().MarkWaiting(1)

	if _, err := e.UpdateSettings(map[string]any{"presetName": "Raid"}); err != nil {
		t.Fatal(err)
	}
	if e.Pool().IsWaiting(1) {
		t.Error("preset change should clear waiting villages")
	}
	if p := e.Presets(); len(p) != 1 || p[0].ID != 8 {
		t.Errorf("presets = %v", p)
	}
}

func TestPresetsChangedStopsWhenNoneLeft(t *testing.T) {
	h := newHarness(t)
	e := h.open()
	h.start()

	h.player.presets = nil
	e.PresetsChanged()
	if e.Running() {
		t.Fatal("run should stop without presets")
	}
	if !h.has(events.KindNoPreset) {
		t.Errorf("events = %v", h.kinds())
	}
}

func TestReconnectRestartsAfterDelay(t *testing.T) {
	h := newHarness(t)
	e := h.open()
	h.start()
	h.respond(model.OutcomeSent, 1)
	h.advance(3 * time.Second)

	e.Reconnected()
	h.resetEvents()
	h.advance(5 * time.Second)
	if !h.has(events.KindPause) || !h.has(events.KindStart) {
		t.Fatalf("events = %v, want pause and start", h.kinds())
	}
	if h.has(events.KindNotice) {
		t.Error("reconnect restart must not notify")
	}
}

func TestIncludeGroupMembershipClearsCatalog(t *testing.T) {
	h := newHarness(t)
	h.player.groups = []model.Group{{ID: 4, Name: "include"}}
	h.configure(map[string]any{"groupInclude": 4})
	e := h.open()
	h.start()

	if !e.Catalog().Loaded(1) {
		t.Fatal("catalog should be built")
	}
	e.GroupVillagesChanged(4)
	if e.Catalog().Loaded(1) {
		t.Fatal("include group change should clear the catalog")
	}
}

func TestCatalogExpiresPeriodically(t *testing.T) {
	h := newHarness(t)
	e := h.open()
	h.start()
	h.respond(model.OutcomeSent, 1)
	e.Stop()

	if !e.Catalog().Loaded(1) {
		t.Fatal("catalog should be built")
	}
	h.advance(5 * time.Minute)
	if e.Catalog().Loaded(1) {
		t.Fatal("catalog should expire independently of the run")
	}
}
