package agent

import (
	"slices"

	"github.com/nstehr/vimy/vimy-farm/model"
)

// villageDiff is what changed between two village lists reported by the
// client. The client resends the whole list on every resource tick, so most
// updates change nothing the pool cares about.
type villageDiff struct {
	Added          []int
	Removed        []int
	StorageChanged []int // villages whose full-storage state flipped
	Renamed        []int
}

func (d villageDiff) empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 &&
		len(d.StorageChanged) == 0 && len(d.Renamed) == 0
}

// diffVillages compares consecutive snapshots. Resource amounts only matter
// when they cross the warehouse limit, since that is all the pool looks at.
func diffVillages(prev, next []model.Village) villageDiff {
	before := make(map[int]model.Village, len(prev))
	for _, v := range prev {
		before[v.ID] = v
	}

	var d villageDiff
	seen := make(map[int]bool, len(next))
	for _, v := range next {
		seen[v.ID] = true
		old, ok := before[v.ID]
		if !ok {
			d.Added = append(d.Added, v.ID)
			continue
		}
		if old.StorageFull() != v.StorageFull() {
			d.StorageChanged = append(d.StorageChanged, v.ID)
		}
		if old.Name != v.Name || old.Position != v.Position {
			d.Renamed = append(d.Renamed, v.ID)
		}
	}
	for _, v := range prev {
		if !seen[v.ID] {
			d.Removed = append(d.Removed, v.ID)
		}
	}

	slices.Sort(d.Added)
	slices.Sort(d.Removed)
	slices.Sort(d.StorageChanged)
	slices.Sort(d.Renamed)
	return d
}
