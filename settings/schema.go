// Package settings holds the user-facing scheduler options: their defaults,
// how each one is validated and which cached state must be rebuilt when it
// changes.
package settings

import (
	"regexp"

	"github.com/nstehr/vimy/vimy-farm/rules"
)

// Effect names a piece of derived state invalidated by a settings change.
type Effect string

const (
	EffectGroups   Effect = "groups"
	EffectVillages Effect = "villages"
	EffectPreset   Effect = "preset"
	EffectTargets  Effect = "targets"
	EffectPriority Effect = "priority"
	EffectEvents   Effect = "events"
)

// effectOrder is the order in which the engine applies effects.
var effectOrder = []Effect{
	EffectGroups,
	EffectVillages,
	EffectPreset,
	EffectTargets,
	EffectPriority,
	EffectEvents,
}

// Effects is the set of effects triggered by one update.
type Effects map[Effect]bool

func (e Effects) Has(eff Effect) bool { return e[eff] }

// Ordered returns the contained effects in application order.
func (e Effects) Ordered() []Effect {
	var out []Effect
	for _, eff := range effectOrder {
		if e[eff] {
			out = append(out, eff)
		}
	}
	return out
}

type Kind int

const (
	KindNumber Kind = iota
	KindText
	KindBool
)

// Option describes one setting.
type Option struct {
	Key     string
	Kind    Kind
	Default any
	Effects []Effect

	// Ranged numbers must fall within [Min, Max].
	Ranged   bool
	Min, Max float64
	// Integer numbers must be whole.
	Integer bool

	Pattern *regexp.Regexp
	// Check is an extra validator for text options.
	Check func(string) error
}

// clockPattern matches the hh:mm:ss strings used for durations.
var clockPattern = regexp.MustCompile(`^\d{1,2}:\d{2}:\d{2}$`)

func ranged(key string, def, min, max float64, effects ...Effect) Option {
	return Option{Key: key, Kind: KindNumber, Default: def, Ranged: true, Min: min, Max: max, Effects: effects}
}

func flag(key string, def bool, effects ...Effect) Option {
	return Option{Key: key, Kind: KindBool, Default: def, Effects: effects}
}

func group(key string, effects ...Effect) Option {
	return Option{Key: key, Kind: KindNumber, Default: float64(0), Integer: true, Effects: effects}
}

var schema = []Option{
	ranged("maxDistance", 10, 0, 50, EffectTargets, EffectPriority),
	ranged("minDistance", 0, 0, 50, EffectTargets, EffectPriority),
	{Key: "maxTravelTime", Kind: KindText, Default: "01:00:00", Pattern: clockPattern},
	ranged("randomBase", 3, 0, 9999),
	{Key: "presetName", Kind: KindText, Default: "", Effects: []Effect{EffectPreset}},
	group("groupIgnore", EffectGroups),
	group("groupInclude", EffectGroups, EffectTargets),
	group("groupOnly", EffectGroups, EffectVillages, EffectTargets),
	ranged("minPoints", 0, 0, 13000, EffectTargets, EffectPriority),
	ranged("maxPoints", 12500, 0, 13000, EffectTargets, EffectPriority),
	ranged("eventsLimit", 20, 0, 150, EffectEvents),
	flag("ignoreOnLoss", true),
	flag("priorityTargets", true, EffectPriority),
	flag("eventAttack", true, EffectEvents),
	flag("eventVillageChange", true, EffectEvents),
	flag("eventPriorityAdd", true, EffectEvents),
	flag("eventIgnoredVillage", true, EffectEvents),
	flag("singleCycle", false, EffectVillages),
	flag("singleCycleNotifs", false),
	{Key: "singleCycleInterval", Kind: KindText, Default: "00:00:00", Pattern: clockPattern},
	ranged("maxAttacksPerVillage", 48, 1, 50),
	flag("ignoreFullRes", true, EffectVillages),
	{Key: "targetFilter", Kind: KindText, Default: "", Check: rules.Validate, Effects: []Effect{EffectTargets, EffectPriority}},
}

var schemaByKey = func() map[string]Option {
	m := make(map[string]Option, len(schema))
	for _, opt := range schema {
		m[opt.Key] = opt
	}
	return m
}()

// Schema returns every option in declaration order.
func Schema() []Option {
	return append([]Option(nil), schema...)
}

// Lookup returns the option declared under key.
func Lookup(key string) (Option, bool) {
	opt, ok := schemaByKey[key]
	return opt, ok
}
