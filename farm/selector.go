package farm

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/nstehr/vimy/vimy-farm/events"
	"github.com/nstehr/vimy/vimy-farm/model"
	"github.com/nstehr/vimy/vimy-farm/settings"
	"github.com/nstehr/vimy/vimy-farm/store"
)

// Selector walks each origin's target sequence with a persisted cursor and
// serves queued priority targets first.
type Selector struct {
	catalog  *Catalog
	pool     *Pool
	settings *settings.Store
	bus      *events.Bus
	save     func(key string, value any)

	cursors  map[int]int
	priority map[int][]int
}

func newSelector(catalog *Catalog, pool *Pool, st *settings.Store, bus *events.Bus, save func(string, any)) *Selector {
	return &Selector{
		catalog:  catalog,
		pool:     pool,
		settings: st,
		bus:      bus,
		save:     save,
		cursors:  map[int]int{},
		priority: map[int][]int{},
	}
}

// load restores cursors and priority queues. JSON object keys are strings,
// so both maps are stored keyed by the decimal village id.
func (s *Selector) load(ctx context.Context, kv store.KV) error {
	var cursors map[string]int
	if _, err := kv.Get(ctx, store.KeyIndexes, &cursors); err != nil {
		return fmt.Errorf("load cursors: %w", err)
	}
	var priority map[string][]int
	if _, err := kv.Get(ctx, store.KeyPriority, &priority); err != nil {
		return fmt.Errorf("load priority targets: %w", err)
	}
	for k, v := range cursors {
		if id, err := strconv.Atoi(k); err == nil {
			s.cursors[id] = v
		}
	}
	for k, v := range priority {
		if id, err := strconv.Atoi(k); err == nil {
			s.priority[id] = v
		}
	}
	return nil
}

func (s *Selector) persistCursors() {
	out := make(map[string]int, len(s.cursors))
	for id, v := range s.cursors {
		out[strconv.Itoa(id)] = v
	}
	s.save(store.KeyIndexes, out)
}

func (s *Selector) persistPriority() {
	out := make(map[string][]int, len(s.priority))
	for id, v := range s.priority {
		out[strconv.Itoa(id)] = v
	}
	s.save(store.KeyPriority, out)
}

// HasTarget reports whether originID has a non-empty sequence, resetting a
// missing or out-of-range cursor to zero.
func (s *Selector) HasTarget(originID int) bool {
	targets, ok := s.catalog.Targets(originID)
	if !ok || len(targets) == 0 {
		return false
	}
	s.EnsureCursor(originID, len(targets))
	return true
}

// EnsureCursor makes originID's cursor valid for a sequence of n targets.
func (s *Selector) EnsureCursor(originID, n int) {
	index, ok := s.cursors[originID]
	if ok && index < n {
		return
	}
	s.cursors[originID] = 0
	s.persistCursors()
}

// Cursor returns originID's current cursor.
func (s *Selector) Cursor(originID int) (int, bool) {
	index, ok := s.cursors[originID]
	return index, ok
}

// SelectNext returns the next target for originID. Queued priority targets
// win; entries that are ignored or no longer in the sequence are dropped.
// Otherwise the cursor advances (unless selectOnly) past ignored targets,
// wrapping to the first target when it runs off the end.
func (s *Selector) SelectNext(originID int, selectOnly bool) (model.Target, bool) {
	targets, ok := s.catalog.Targets(originID)
	if !ok || len(targets) == 0 {
		return model.Target{}, false
	}

	if s.settings.Get().PriorityTargets {
		if t, ok := s.nextPriority(originID, targets); ok {
			return t, true
		}
	}

	index := s.cursors[originID]
	if !selectOnly {
		index++
	}
	for ; index < len(targets); index++ {
		t := targets[index]
		if s.pool.IsIgnored(t.ID) {
			s.bus.Publish(events.IgnoredTarget{Target: t})
			continue
		}
		s.cursors[originID] = index
		s.persistCursors()
		return t, true
	}

	s.cursors[originID] = 0
	s.persistCursors()
	return targets[0], true
}

func (s *Selector) nextPriority(originID int, targets []model.Target) (model.Target, bool) {
	queue := s.priority[originID]
	if len(queue) == 0 {
		return model.Target{}, false
	}
	defer s.persistPriority()

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if s.pool.IsIgnored(id) {
			continue
		}
		idx := slices.IndexFunc(targets, func(t model.Target) bool { return t.ID == id })
		if idx < 0 {
			continue
		}
		s.priority[originID] = queue
		return targets[idx], true
	}
	delete(s.priority, originID)
	return model.Target{}, false
}

// AddPriority queues targetID for originID and reports whether it was new.
func (s *Selector) AddPriority(originID, targetID int) bool {
	if slices.Contains(s.priority[originID], targetID) {
		return false
	}
	s.priority[originID] = append(s.priority[originID], targetID)
	s.persistPriority()
	return true
}

func (s *Selector) Priority(originID int) []int {
	return slices.Clone(s.priority[originID])
}

// Reset clears every cursor and priority queue.
func (s *Selector) Reset() {
	clear(s.cursors)
	clear(s.priority)
	s.persistCursors()
	s.persistPriority()
}
