package farm

import "github.com/nstehr/vimy/vimy-farm/events"

// Status strings shown by the UI.
const (
	StatusPaused                   = "paused"
	StatusAttacking                = "attacking"
	StatusLoadingTargets           = "loadingTargets"
	StatusAnalyseTargets           = "analyseTargets"
	StatusNoUnits                  = "noUnits"
	StatusNoVillages               = "noVillages"
	StatusNoTargets                = "noTargets"
	StatusNoPreset                 = "noPreset"
	StatusSingleCycleEnd           = "singleCycleEnd"
	StatusSingleCycleEndNoVillages = "singleCycleEndNoVillages"
	StatusSingleCycleNext          = "singleCycleNext"
)

// Status tracks a one-word summary of what the engine is doing.
type Status struct {
	current string
}

func newStatus() *Status { return &Status{current: StatusPaused} }

func (s *Status) Current() string { return s.current }

func (s *Status) subscribe(bus *events.Bus) {
	bus.Subscribe(s.observe)
}

func (s *Status) observe(ev events.Event) {
	switch ev := ev.(type) {
	case events.Start, events.CommandSent:
		s.current = StatusAttacking
	case events.Pause:
		// A stop that ends a cycle keeps the cycle's status.
		if s.current != StatusSingleCycleEnd && s.current != StatusSingleCycleEndNoVillages {
			s.current = StatusPaused
		}
	case events.LoadingTargets:
		s.current = StatusLoadingTargets
	case events.TargetsLoaded:
		s.current = StatusAnalyseTargets
	case events.NoUnits:
		s.current = StatusNoUnits
	case events.NoVillages:
		s.current = StatusNoVillages
	case events.NoTargets:
		s.current = StatusNoTargets
	case events.NoPreset:
		s.current = StatusNoPreset
	case events.SingleCycleEnd:
		if ev.NoVillages {
			s.current = StatusSingleCycleEndNoVillages
		} else {
			s.current = StatusSingleCycleEnd
		}
	case events.SingleCycleNext:
		s.current = StatusSingleCycleNext
	}
}
