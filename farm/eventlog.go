package farm

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/nstehr/vimy/vimy-farm/events"
	"github.com/nstehr/vimy/vimy-farm/model"
	"github.com/nstehr/vimy/vimy-farm/settings"
	"github.com/nstehr/vimy/vimy-farm/store"
)

// LogEntry is one line of the persisted activity log.
type LogEntry struct {
	Kind    events.Kind    `json:"kind"`
	At      time.Time      `json:"at"`
	Village *model.Village `json:"village,omitempty"`
	Target  *model.Target  `json:"target,omitempty"`
}

// EventLog keeps the most recent noteworthy events, newest first, capped by
// the eventsLimit setting. Which kinds are kept is controlled by the event*
// flags.
type EventLog struct {
	settings *settings.Store
	clock    Clock
	save     func(string, any)
	entries  []LogEntry
}

func newEventLog(st *settings.Store, clock Clock, save func(string, any)) *EventLog {
	return &EventLog{settings: st, clock: clock, save: save}
}

func (l *EventLog) load(ctx context.Context, kv store.KV) error {
	if _, err := kv.Get(ctx, store.KeyLastEvents, &l.entries); err != nil {
		return fmt.Errorf("load event log: %w", err)
	}
	return nil
}

func (l *EventLog) subscribe(bus *events.Bus) {
	bus.Subscribe(l.record)
}

func (l *EventLog) record(ev events.Event) {
	s := l.settings.Get()
	entry := LogEntry{Kind: ev.Kind(), At: l.clock.Now()}
	switch ev := ev.(type) {
	case events.CommandSent:
		if !s.EventAttack {
			return
		}
		entry.Village, entry.Target = &ev.Origin, &ev.Target
	case events.NextVillage:
		if !s.EventVillageChange {
			return
		}
		entry.Village = &ev.Village
	case events.PriorityTargetAdded:
		if !s.EventPriorityAdd {
			return
		}
		entry.Target = &ev.Target
	case events.IgnoredVillage:
		if !s.EventIgnoredVillage {
			return
		}
		entry.Target = &ev.Target
	default:
		return
	}

	l.entries = slices.Insert(l.entries, 0, entry)
	if limit := s.EventsLimit; len(l.entries) > limit {
		l.entries = l.entries[:limit]
	}
	l.save(store.KeyLastEvents, l.entries)
}

func (l *EventLog) Entries() []LogEntry { return slices.Clone(l.entries) }

func (l *EventLog) Reset() {
	l.entries = nil
	l.save(store.KeyLastEvents, []LogEntry{})
}
