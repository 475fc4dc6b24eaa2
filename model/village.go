package model

import "math"

// Position is a cell on the world map. Odd rows are shifted half a cell to the
// right, which is what makes the game's distance metric non-Euclidean.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type Resources struct {
	Wood int `json:"wood"`
	Clay int `json:"clay"`
	Iron int `json:"iron"`
}

// Village is a snapshot of one player-owned village. Snapshots are replaced
// wholesale whenever the game client reports a new village list.
type Village struct {
	ID         int       `json:"id"`
	Name       string    `json:"name"`
	Position   Position  `json:"position"`
	Resources  Resources `json:"resources"`
	MaxStorage int       `json:"maxStorage"`
}

// StorageFull reports whether every tracked resource sits at warehouse capacity.
func (v Village) StorageFull() bool {
	return v.Resources.Wood == v.MaxStorage &&
		v.Resources.Clay == v.MaxStorage &&
		v.Resources.Iron == v.MaxStorage
}

// RawTarget is a village exactly as the map data describes it, before any
// filtering against an origin.
type RawTarget struct {
	ID               int    `json:"id"`
	Name             string `json:"name"`
	X                int    `json:"x"`
	Y                int    `json:"y"`
	OwnerID          int    `json:"ownerId"` // 0 for barbarian villages
	Points           int    `json:"points"`
	AttackProtection bool   `json:"attackProtection"`
}

// Target is a candidate village relative to one origin.
type Target struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	X        int     `json:"x"`
	Y        int     `json:"y"`
	Distance float64 `json:"distance"`
	OwnerID  int     `json:"ownerId,omitempty"`
}

// rowHeight is the vertical spacing of the offset hex grid.
var rowHeight = math.Sqrt(3) / 2

func rowOffset(y int) float64 {
	if y%2 != 0 {
		return 0.5
	}
	return 0
}

// Distance returns the in-game distance between two cells.
func Distance(a, b Position) float64 {
	dx := (float64(a.X) + rowOffset(a.Y)) - (float64(b.X) + rowOffset(b.Y))
	dy := float64(a.Y-b.Y) * rowHeight
	return math.Sqrt(dx*dx + dy*dy)
}

// Group is a user-defined village group. Only its id and member ids matter to
// the scheduler.
type Group struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	VillageIDs []int  `json:"villageIds"`
}

// Preset is an army template stored in the game.
type Preset struct {
	ID    int            `json:"id"`
	Name  string         `json:"name"`
	Units map[string]int `json:"units"`
}
