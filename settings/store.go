package settings

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"sync"
	"time"

	"github.com/nstehr/vimy/vimy-farm/store"
)

// Settings is a typed snapshot of every option.
type Settings struct {
	MaxDistance          float64
	MinDistance          float64
	MaxTravelTime        time.Duration
	RandomBase           int
	PresetName           string
	GroupIgnore          int
	GroupInclude         int
	GroupOnly            int
	MinPoints            int
	MaxPoints            int
	EventsLimit          int
	IgnoreOnLoss         bool
	PriorityTargets      bool
	EventAttack          bool
	EventVillageChange   bool
	EventPriorityAdd     bool
	EventIgnoredVillage  bool
	SingleCycle          bool
	SingleCycleNotifs    bool
	SingleCycleInterval  time.Duration // zero disables the interval
	MaxAttacksPerVillage int
	IgnoreFullRes        bool
	TargetFilter         string
}

// Store keeps the current values in memory and mirrors them to a KV store.
type Store struct {
	mu     sync.RWMutex
	kv     store.KV
	values map[string]any
}

// New returns a store holding the defaults. Call Load to merge persisted values.
func New(kv store.KV) *Store {
	values := make(map[string]any, len(schema))
	for _, opt := range schema {
		values[opt.Key] = opt.Default
	}
	return &Store{kv: kv, values: values}
}

// Load merges persisted values over the defaults. Unknown keys and values
// that no longer validate are dropped.
func (s *Store) Load(ctx context.Context) error {
	var persisted map[string]any
	ok, err := s.kv.Get(ctx, store.KeySettings, &persisted)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, raw := range persisted {
		opt, known := schemaByKey[key]
		if !known {
			continue
		}
		v, err := normalize(opt, raw)
		if err != nil {
			slog.Warn("ignoring persisted setting", "key", key, "error", err)
			continue
		}
		s.values[key] = v
	}
	return nil
}

// Update validates and applies changes. Unknown keys and values equal to the
// current ones are ignored. If any recognised key fails validation nothing is
// changed and the returned error is a *ValidationError. On success the merged
// settings are persisted and the union of the changed options' effects is
// returned.
func (s *Store) Update(ctx context.Context, changes map[string]any) (Effects, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accepted := make(map[string]any)
	effects := make(Effects)
	for _, opt := range schema {
		raw, present := changes[opt.Key]
		if !present {
			continue
		}
		v, err := normalize(opt, raw)
		if err != nil {
			return nil, err
		}
		if v == s.values[opt.Key] {
			continue
		}
		accepted[opt.Key] = v
		for _, eff := range opt.Effects {
			effects[eff] = true
		}
	}

	if len(accepted) == 0 {
		return effects, nil
	}

	merged := maps.Clone(s.values)
	maps.Copy(merged, accepted)
	if err := s.kv.Set(ctx, store.KeySettings, merged); err != nil {
		return nil, fmt.Errorf("persist settings: %w", err)
	}
	s.values = merged
	return effects, nil
}

// Value returns the canonical value of key.
func (s *Store) Value(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Values returns a copy of every current value keyed by option name.
func (s *Store) Values() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

// Get returns a typed snapshot.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	num := func(k string) float64 { return s.values[k].(float64) }
	whole := func(k string) int { return int(math.Round(num(k))) }
	text := func(k string) string { return s.values[k].(string) }
	on := func(k string) bool { return s.values[k].(bool) }
	clock := func(k string) time.Duration {
		d, err := ParseClock(text(k))
		if err != nil {
			return 0
		}
		return d
	}

	return Settings{
		MaxDistance:          num("maxDistance"),
		MinDistance:          num("minDistance"),
		MaxTravelTime:        clock("maxTravelTime"),
		RandomBase:           whole("randomBase"),
		PresetName:           text("presetName"),
		GroupIgnore:          whole("groupIgnore"),
		GroupInclude:         whole("groupInclude"),
		GroupOnly:            whole("groupOnly"),
		MinPoints:            whole("minPoints"),
		MaxPoints:            whole("maxPoints"),
		EventsLimit:          whole("eventsLimit"),
		IgnoreOnLoss:         on("ignoreOnLoss"),
		PriorityTargets:      on("priorityTargets"),
		EventAttack:          on("eventAttack"),
		EventVillageChange:   on("eventVillageChange"),
		EventPriorityAdd:     on("eventPriorityAdd"),
		EventIgnoredVillage:  on("eventIgnoredVillage"),
		SingleCycle:          on("singleCycle"),
		SingleCycleNotifs:    on("singleCycleNotifs"),
		SingleCycleInterval:  clock("singleCycleInterval"),
		MaxAttacksPerVillage: whole("maxAttacksPerVillage"),
		IgnoreFullRes:        on("ignoreFullRes"),
		TargetFilter:         text("targetFilter"),
	}
}
