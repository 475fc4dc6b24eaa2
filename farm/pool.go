package farm

import (
	"slices"

	"github.com/nstehr/vimy/vimy-farm/model"
	"github.com/nstehr/vimy/vimy-farm/settings"
)

// Pool is the set of origin villages eligible to attack from, plus the
// exception groups that shape it and the villages waiting on returning troops.
type Pool struct {
	player   Player
	settings *settings.Store

	villages []model.Village
	single   bool

	ignoreGroup  int
	includeGroup int
	onlyGroup    int
	ignored      map[int]bool
	included     map[int]bool
	only         map[int]bool

	waiting map[int]bool
}

func newPool(player Player, st *settings.Store) *Pool {
	return &Pool{
		player:   player,
		settings: st,
		ignored:  map[int]bool{},
		included: map[int]bool{},
		only:     map[int]bool{},
		waiting:  map[int]bool{},
	}
}

// RefreshGroups resolves the configured ignore/include/only groups against
// the player's current groups. A configured id that no longer exists is
// treated as unset.
func (p *Pool) RefreshGroups() {
	s := p.settings.Get()
	groups := p.player.Groups()

	resolve := func(id int) (int, map[int]bool) {
		members := map[int]bool{}
		if id == 0 {
			return 0, members
		}
		for _, g := range groups {
			if g.ID == id {
				for _, vid := range g.VillageIDs {
					members[vid] = true
				}
				return id, members
			}
		}
		return 0, members
	}

	p.ignoreGroup, p.ignored = resolve(s.GroupIgnore)
	p.includeGroup, p.included = resolve(s.GroupInclude)
	p.onlyGroup, p.only = resolve(s.GroupOnly)
}

// Recompute rebuilds the pool from the player's villages: restricted to the
// only group when one is set, minus the ignore group.
func (p *Pool) Recompute() []model.Village {
	var pool []model.Village
	for _, v := range p.player.Villages() {
		if p.onlyGroup != 0 && !p.only[v.ID] {
			continue
		}
		if p.ignored[v.ID] {
			continue
		}
		pool = append(pool, v)
	}
	p.villages = pool
	p.single = len(pool) == 1

	for id := range p.waiting {
		if !p.Contains(id) {
			delete(p.waiting, id)
		}
	}
	return slices.Clone(pool)
}

func (p *Pool) Villages() []model.Village { return slices.Clone(p.villages) }

func (p *Pool) Len() int { return len(p.villages) }

// Single reports whether the pool holds exactly one village.
func (p *Pool) Single() bool { return p.single }

func (p *Pool) Find(id int) (model.Village, bool) {
	for _, v := range p.villages {
		if v.ID == id {
			return v, true
		}
	}
	return model.Village{}, false
}

func (p *Pool) Contains(id int) bool {
	_, ok := p.Find(id)
	return ok
}

// Free returns the villages that are not waiting and, when full-storage
// villages are skipped, not sitting at warehouse capacity.
func (p *Pool) Free() []model.Village {
	skipFull := p.settings.Get().IgnoreFullRes
	var free []model.Village
	for _, v := range p.villages {
		if p.isFree(v, skipFull) {
			free = append(free, v)
		}
	}
	return free
}

func (p *Pool) IsFree(id int) bool {
	v, ok := p.Find(id)
	return ok && p.isFree(v, p.settings.Get().IgnoreFullRes)
}

func (p *Pool) isFree(v model.Village, skipFull bool) bool {
	if p.waiting[v.ID] {
		return false
	}
	return !skipFull || !v.StorageFull()
}

func (p *Pool) MarkWaiting(id int) { p.waiting[id] = true }

// ClearWaiting reports whether id was waiting.
func (p *Pool) ClearWaiting(id int) bool {
	if !p.waiting[id] {
		return false
	}
	delete(p.waiting, id)
	return true
}

func (p *Pool) IsWaiting(id int) bool { return p.waiting[id] }

func (p *Pool) ResetWaiting() { clear(p.waiting) }

// AllWaiting is true when every pool village is waiting, including when the
// pool is empty.
func (p *Pool) AllWaiting() bool {
	for _, v := range p.villages {
		if !p.waiting[v.ID] {
			return false
		}
	}
	return true
}

func (p *Pool) Waiting() []int {
	ids := make([]int, 0, len(p.waiting))
	for id := range p.waiting {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// IsIgnored reports whether a village sits in the ignore group.
func (p *Pool) IsIgnored(id int) bool { return p.ignored[id] }

// Ignore adds a village to the local copy of the ignore group.
func (p *Pool) Ignore(id int) { p.ignored[id] = true }

func (p *Pool) IsIncluded(id int) bool { return p.included[id] }

func (p *Pool) IgnoreGroup() int { return p.ignoreGroup }

func (p *Pool) IncludeGroup() int { return p.includeGroup }
