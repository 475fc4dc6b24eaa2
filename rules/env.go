package rules

import "github.com/nstehr/vimy/vimy-farm/model"

// FilterEnv is the view of one candidate target that filter expressions see,
// together with the configuration it is judged against.
type FilterEnv struct {
	ID        int
	Name      string
	X         int
	Y         int
	OwnerID   int
	Points    int
	Protected bool
	Distance  float64

	PlayerID    int
	Included    bool // target is a member of the include group
	MinPoints   int
	MaxPoints   int
	MinDistance float64
	MaxDistance float64
}

// Limits carries the configured ranges and the querying player.
type Limits struct {
	PlayerID    int
	MinPoints   int
	MaxPoints   int
	MinDistance float64
	MaxDistance float64
}

// NewFilterEnv builds the env for target as seen from origin.
func NewFilterEnv(origin model.Position, target model.RawTarget, included bool, lim Limits) FilterEnv {
	return FilterEnv{
		ID:          target.ID,
		Name:        target.Name,
		X:           target.X,
		Y:           target.Y,
		OwnerID:     target.OwnerID,
		Points:      target.Points,
		Protected:   target.AttackProtection,
		Distance:    model.Distance(origin, model.Position{X: target.X, Y: target.Y}),
		PlayerID:    lim.PlayerID,
		Included:    included,
		MinPoints:   lim.MinPoints,
		MaxPoints:   lim.MaxPoints,
		MinDistance: lim.MinDistance,
		MaxDistance: lim.MaxDistance,
	}
}

// Owned reports whether a player holds the village (barbarians have no owner).
func (e FilterEnv) Owned() bool { return e.OwnerID != 0 }

// Barbarian is the complement of Owned, handy in user expressions.
func (e FilterEnv) Barbarian() bool { return e.OwnerID == 0 }
