package farm

import (
	"testing"

	"github.com/nstehr/vimy/vimy-farm/events"
	"github.com/nstehr/vimy/vimy-farm/model"
	"github.com/nstehr/vimy/vimy-farm/store"
)

func TestEventLogCapsAndFilters(t *testing.T) {
	h := newHarness(t)
	h.configure(map[string]any{"eventsLimit": 2, "eventVillageChange": false})
	e := h.open()

	for id := 1; id <= 3; id++ {
		h.bus.Publish(events.CommandSent{Origin: villageA, Target: model.Target{ID: id}})
	}
	h.bus.Publish(events.NextVillage{Village: villageA})

	entries := e.Events()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Target.ID != 3 || entries[1].Target.ID != 2 {
		t.Errorf("entries not newest first: %d, %d", entries[0].Target.ID, entries[1].Target.ID)
	}
	if !entries[0].At.Equal(t0) {
		t.Errorf("at = %v", entries[0].At)
	}

	var persisted []LogEntry
	if ok, err := h.kv.Get(h.ctx, store.KeyLastEvents, &persisted); !ok || err != nil || len(persisted) != 2 {
		t.Fatalf("persisted = %v (%v, %v)", persisted, ok, err)
	}
}

func TestEventLogResetOnSettingsChange(t *testing.T) {
	h := newHarness(t)
	e := h.open()
	h.bus.Publish(events.CommandSent{Origin: villageA, Target: model.Target{ID: 10}})

	if _, err := e.UpdateSettings(map[string]any{"eventsLimit": 5}); err != nil {
		t.Fatal(err)
	}
	if len(e.Events()) != 0 {
		t.Fatal("events effect should clear the log")
	}
	if !h.has(events.KindEventsReset) {
		t.Errorf("events = %v", h.kinds())
	}
}

func TestEventLogRestored(t *testing.T) {
	h := newHarness(t)
	if err := h.kv.Set(h.ctx, store.KeyLastEvents, []LogEntry{{Kind: events.KindCommandSent, At: t0}}); err != nil {
		t.Fatal(err)
	}
	e := h.open()
	if got := e.Events(); len(got) != 1 || got[0].Kind != events.KindCommandSent {
		t.Fatalf("entries = %v", got)
	}
}
